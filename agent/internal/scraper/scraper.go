package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/pulse/agent/internal/config"
	"github.com/obsidianstack/pulse/agent/internal/transport"
	"github.com/obsidianstack/pulse/pkg/types"
)

const defaultScrapeTimeout = 10 * time.Second

// RecordType is the Type of every record produced by a scrape.
const RecordType = "metric"

// Sink receives scraped records. *buffer.Buffer satisfies it.
type Sink interface {
	Append(rec types.Record) error
}

// Scraper polls one Prometheus-format endpoint.
type Scraper struct {
	src    config.SourceConfig
	client *http.Client
	tokens transport.TokenSource
	filter map[string]bool // nil keeps every family
}

// New returns a Scraper for src. It builds the HTTP client once and reuses it
// across scrape calls.
func New(src config.SourceConfig) (*Scraper, error) {
	client, err := transport.ClientFor(src.Auth, src.TLS, defaultScrapeTimeout)
	if err != nil {
		return nil, fmt.Errorf("scraper %q: build http client: %w", src.ID, err)
	}
	s := &Scraper{
		src:    src,
		client: client,
		tokens: transport.TokenSourceFor(src.Auth),
	}
	if len(src.Metrics) > 0 {
		s.filter = make(map[string]bool, len(src.Metrics))
		for _, m := range src.Metrics {
			s.filter[m] = true
		}
	}
	return s, nil
}

// ID returns the configured source ID.
func (s *Scraper) ID() string { return s.src.ID }

// Scrape fetches the endpoint once and returns one record per selected metric
// family, ordered by metric name.
func (s *Scraper) Scrape(ctx context.Context) ([]types.Record, error) {
	mfs, err := s.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("scrape %q: %w", s.src.ID, err)
	}

	names := make([]string, 0, len(mfs))
	for name := range mfs {
		if s.filter == nil || s.filter[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	recs := make([]types.Record, 0, len(names))
	for _, name := range names {
		recs = append(recs, familyRecord(s.src.ID, mfs[name]))
	}
	return recs, nil
}

// Run scrapes immediately and then every interval, appending the records to
// sink. A failed scrape is logged and retried on the next tick. Run returns
// when ctx is cancelled or sink stops accepting records.
func (s *Scraper) Run(ctx context.Context, sink Sink) {
	t := time.NewTicker(s.src.Interval)
	defer t.Stop()

	for {
		if !s.scrapeInto(ctx, sink) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// scrapeInto runs one scrape cycle. It returns false once sink refuses records.
func (s *Scraper) scrapeInto(ctx context.Context, sink Sink) bool {
	recs, err := s.Scrape(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("scraper: fetch failed", "source", s.src.ID, "err", err)
		}
		return true
	}
	for _, rec := range recs {
		if err := sink.Append(rec); err != nil {
			slog.Info("scraper: sink closed, stopping", "source", s.src.ID, "err", err)
			return false
		}
	}
	slog.Debug("scraper: scraped", "source", s.src.ID, "records", len(recs))
	return true
}

// fetch performs an HTTP GET to the endpoint and returns parsed metric families.
func (s *Scraper) fetch(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.src.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if s.tokens != nil {
		tok, err := s.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("bearer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// familyRecord turns one metric family into a record.
func familyRecord(source string, mf *dto.MetricFamily) types.Record {
	return types.NewRecord(RecordType, map[string]any{
		"source": source,
		"metric": mf.GetName(),
		"kind":   strings.ToLower(mf.GetType().String()),
		"value":  familyValue(mf),
		"series": len(mf.GetMetric()),
	})
}

// familyValue adds up all counter, gauge, or untyped values in a MetricFamily.
// Histograms and summaries contribute their observation counts.
func familyValue(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		case m.Histogram != nil:
			total += float64(m.Histogram.GetSampleCount())
		case m.Summary != nil:
			total += float64(m.Summary.GetSampleCount())
		}
	}
	return total
}
