// Package types defines the Go types shared by the server and feedctl.
// Record is the canonical, normalized form of one inbound webhook
// notification and is also the JSON shape served by GET /data and pushed on
// the live streams.
package types
