package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/queuefeed/queuefeed/pkg/types"
)

// ErrInvalidPayload is returned for bodies that match no known source.
var ErrInvalidPayload = errors.New("invalid payload")

// Source names written to Record.SourceName.
const (
	SourceSecuredBot = "SecuredBot"
	SourceOW         = "OW"
	SourceTKT        = "TKT"
)

// Discriminator titles, one per upstream bot.
const (
	TitleSecuredBot = "Queue Passed!"
	TitleOW         = "PASSED QUEUE"
	TitleTKT        = "--Queue SUCCESS--"
)

// tktLinkField is the index of the TKT field carrying the "||"-wrapped link.
const tktLinkField = 6

// extractor pulls the link out of a payload. rec already carries id, source
// and timestamp, so an extractor can reference it in side effects.
type extractor func(ctx context.Context, n *Normalizer, p *Payload, rec types.Record) string

type source struct {
	name    string
	extract extractor
}

var sources = map[string]source{
	TitleSecuredBot: {name: SourceSecuredBot, extract: extractSecuredBot},
	TitleOW:         {name: SourceOW, extract: extractOW},
	TitleTKT:        {name: SourceTKT, extract: extractTKT},
}

// Normalizer turns raw webhook bodies into Records. It holds no mutable state
// and is safe for concurrent use.
type Normalizer struct {
	ledger Ledger
	now    func() time.Time // injectable for deterministic tests
	newID  func() string
}

// New creates a Normalizer that writes secondary fields to ledger.
// A nil ledger falls back to LogLedger.
func New(ledger Ledger) *Normalizer {
	if ledger == nil {
		ledger = LogLedger{}
	}
	return &Normalizer{
		ledger: ledger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Normalize decodes raw and dispatches it to the extractor for its title.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte) (types.Record, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return types.Record{}, fmt.Errorf("%w: decode body: %v", ErrInvalidPayload, err)
	}
	if len(p.Embeds) == 0 {
		return types.Record{}, fmt.Errorf("%w: no embeds", ErrInvalidPayload)
	}

	title := p.Embeds[0].Title
	src, ok := sources[title]
	if !ok {
		return types.Record{}, fmt.Errorf("%w: unknown title %q", ErrInvalidPayload, title)
	}

	rec := types.Record{
		ID:         n.newID(),
		SourceName: src.name,
		Timestamp:  n.now().UnixMilli(),
	}
	rec.Link = src.extract(ctx, n, &p, rec)
	return rec, nil
}

func extractSecuredBot(_ context.Context, _ *Normalizer, p *Payload, _ types.Record) string {
	return p.Embeds[0].URL
}

func extractOW(_ context.Context, _ *Normalizer, p *Payload, _ types.Record) string {
	f, _ := p.field(0)
	return f.Value
}

func extractTKT(ctx context.Context, n *Normalizer, p *Payload, rec types.Record) string {
	if f, ok := p.field(0); ok {
		entry := types.LedgerEntry{
			RecordID:  rec.ID,
			Source:    rec.SourceName,
			Field:     f.Name,
			Value:     f.Value,
			Timestamp: rec.Timestamp,
		}
		if err := n.ledger.Append(ctx, entry); err != nil {
			slog.Warn("normalize: ledger append failed",
				"source", rec.SourceName, "record_id", rec.ID, "err", err)
		}
	}

	f, ok := p.field(tktLinkField)
	if !ok {
		return ""
	}
	parts := strings.Split(f.Value, "||")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
