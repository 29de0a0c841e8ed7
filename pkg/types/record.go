package types

import "time"

// Record is one normalized webhook event.
type Record struct {
	// ID is assigned at normalization time and never changes. It is the store key.
	ID string `json:"id"`

	// SourceName identifies the upstream bot, e.g. "SecuredBot", "OW", "TKT".
	SourceName string `json:"source_name"`

	// Link is the extracted payload of interest. Empty when extraction found nothing.
	Link string `json:"link"`

	// ClickCount starts at 0 and is only ever incremented.
	ClickCount int64 `json:"click_count"`

	// Timestamp is the creation time in milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
}

// Age returns how long ago the record was created, relative to now.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.Timestamp))
}

// ClickEnvelope is the payload of the click_update live event.
type ClickEnvelope struct {
	Success bool   `json:"success"`
	Data    Record `json:"data"`
}

// SnapshotEnvelope is the payload of the cleanup live event.
// Data is never nil so that it encodes as [] rather than null.
type SnapshotEnvelope struct {
	Success bool     `json:"success"`
	Data    []Record `json:"data"`
}

// Live event names pushed by the broadcast hub.
const (
	EventConnected   = "connected"
	EventNewData     = "new_data"
	EventClickUpdate = "click_update"
	EventCleanup     = "cleanup"
	EventKeepalive   = "keepalive"
)

// KeepaliveData is the sentinel payload of the keepalive event.
const KeepaliveData = "ping"

// LedgerEntry is a secondary field an extractor pulled out of a payload and
// recorded outside the event store.
type LedgerEntry struct {
	RecordID  string `json:"record_id"`
	Source    string `json:"source"`
	Field     string `json:"field"`
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
}
