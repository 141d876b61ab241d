// Package crawler implements the breadth-first crawl engine for government domains.
//
// A Scheduler owns the frontier (pending and visited sets) and processes it one
// level at a time: each level is split into contiguous slices, one per worker,
// and the next level only starts once every worker has returned its discovered
// links. Each worker runs pages through a Pipeline which consults the origin's
// robots rules and cooldown, fetches the page, optionally renders it in a browser,
// hands it to the near-duplicate detector and records links, images and binary
// documents through its own store Session.
package crawler
