package normalize

import (
	"context"
	"log/slog"

	"github.com/queuefeed/queuefeed/pkg/types"
)

// Ledger records secondary fields extracted from payloads.
type Ledger interface {
	Append(ctx context.Context, e types.LedgerEntry) error
}

// LogLedger writes ledger entries to the default slog logger.
type LogLedger struct{}

func (LogLedger) Append(_ context.Context, e types.LedgerEntry) error {
	slog.Info("ledger: entry",
		"record_id", e.RecordID,
		"source", e.Source,
		"field", e.Field,
		"value", e.Value,
	)
	return nil
}
