// The main package for the gov-crawler executable.
package main

import (
	"github.com/JakeFAU/gov-crawler/cmd"
)

func main() {
	cmd.Execute()
}
