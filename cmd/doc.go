// Package cmd defines the gov-crawler command line: crawl, reset and version.
package cmd
