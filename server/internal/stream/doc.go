// Package stream serves live hub events to browsers.
//
// Two transports share one hub:
//
//	GET /sse  text/event-stream, one "event:"/"data:" block per event
//	GET /ws   WebSocket, one JSON frame {"event": name, "data": payload} per event
//
// Each connection subscribes on open, sends a "connected" event, then
// interleaves hub events with a "keepalive" event (data "ping") every
// keepalive interval. The subscription is removed before the handler
// returns, whether the client went away or the hub was closed.
package stream
