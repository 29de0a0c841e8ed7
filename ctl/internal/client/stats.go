package client

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Stat is one metric family from the server's /metrics page.
type Stat struct {
	Name  string
	Type  string // counter, gauge or untyped
	Help  string
	Value float64
}

// Stats scrapes /metrics and returns one Stat per family, sorted by name.
// Families with several series report their sum. Histograms and summaries
// are skipped; the server exposes none.
func (c *Client) Stats(ctx context.Context) ([]Stat, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/metrics", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}

	out := make([]Stat, 0, len(families))
	for name, mf := range families {
		v, ok := scalar(mf)
		if !ok {
			continue
		}
		out = append(out, Stat{
			Name:  name,
			Type:  strings.ToLower(mf.GetType().String()),
			Help:  mf.GetHelp(),
			Value: v,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// scalar totals the series of a counter, gauge or untyped family.
func scalar(mf *dto.MetricFamily) (float64, bool) {
	var read func(*dto.Metric) float64
	switch mf.GetType() {
	case dto.MetricType_COUNTER:
		read = func(m *dto.Metric) float64 { return m.GetCounter().GetValue() }
	case dto.MetricType_GAUGE:
		read = func(m *dto.Metric) float64 { return m.GetGauge().GetValue() }
	case dto.MetricType_UNTYPED:
		read = func(m *dto.Metric) float64 { return m.GetUntyped().GetValue() }
	default:
		return 0, false
	}
	var total float64
	for _, m := range mf.GetMetric() {
		total += read(m)
	}
	return total, true
}
