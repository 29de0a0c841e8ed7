// Package receiver turns accepted webhooks and clicks into store writes and
// hub broadcasts.
//
// Ingest normalizes a raw payload, inserts the record, publishes "new_data"
// and hands the record to the relay. A payload that does not normalize is
// rejected with normalize.ErrInvalidPayload before anything is written.
//
// Click increments a record's click count under the store write lock and
// publishes "click_update" with the updated record. An unknown id returns
// store.ErrNotFound and nothing is published.
//
// Both events are published while the store write lock is held, so live
// subscribers see them in commit order.
package receiver
