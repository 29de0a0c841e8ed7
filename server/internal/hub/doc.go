// Package hub is the in-memory broadcast hub for live subscribers.
//
// Subscribe returns a Subscription handle with an opaque id and a buffered
// event channel. Publish marshals the payload once and offers it to every
// current subscriber without blocking; a subscriber whose buffer is full is
// dropped and its channel closed, leaving everyone else untouched.
// Unsubscribe is idempotent. Close drops every subscriber at shutdown.
package hub
