// Package normalize maps source-specific webhook payloads to types.Record.
//
// Every upstream bot posts a Discord-style body with an embeds array.
// Dispatch is on embeds[0].title:
//
//	"Queue Passed!"      SecuredBot  link = embeds[0].url
//	"PASSED QUEUE"       OW          link = embeds[0].fields[0].value
//	"--Queue SUCCESS--"  TKT         link = embeds[0].fields[6].value split on "||", element 1
//
// A body that is not JSON, has no embeds, or carries an unknown title fails
// with ErrInvalidPayload. A known title with a missing nested field yields a
// Record with an empty Link.
//
// The TKT extractor also writes the embed's first field to a Ledger.
package normalize
