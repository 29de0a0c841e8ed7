// Package client is the HTTP client feedctl uses against queuefeed-server.
//
// Send, Click and Data wrap the write and read endpoints. Stats scrapes
// /metrics into a sorted list of typed values. Tail consumes /sse and
// reconnects until its context is cancelled, starting from the server's
// retry interval and doubling it while attempts keep failing.
package client
