// Package aggregate folds per-record classifications into the single run
// summary. The engine is the only writer; records arrive in bounded chunks
// and are released as soon as their chunk is folded.
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/feedscope/feedscope/internal/analyzer"
)

// Stat is one named count. Percent stays zero until Finalize.
type Stat struct {
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// PageStat is the compact per-page record. Bodies and classifications are
// not retained; counts only.
type PageStat struct {
	Ordinal  int           `json:"ordinal"`
	URL      string        `json:"url"`
	Records  int           `json:"records"`
	Errors   int           `json:"errors"`
	Failed   bool          `json:"failed"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// RunError is one page- or record-level failure kept for the report.
type RunError struct {
	Page   int    `json:"page"`
	URL    string `json:"url,omitempty"`
	Record string `json:"record,omitempty"`
	Detail string `json:"detail"`
}

// LicenseStats summarizes lending terms across all records that declared
// them.
type LicenseStats struct {
	WithTerms      int     `json:"with_terms"`
	WithPrice      int     `json:"with_price"`
	AvgConcurrency float64 `json:"avg_concurrency"`
}

// Summary is the run result. Counts are monotonically non-decreasing while
// the run is live; percentages are computed exactly once, at Finalize.
type Summary struct {
	RunID      string    `json:"run_id"`
	FeedURL    string    `json:"feed_url"`
	Dialect    string    `json:"dialect"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Canceled   bool      `json:"canceled"`

	PagesDiscovered int `json:"pages_discovered"`
	PagesFetched    int `json:"pages_fetched"`
	PagesFailed     int `json:"pages_failed"`
	TotalRecords    int `json:"total_records"`
	RecordErrors    int `json:"record_errors"`

	Formats      map[string]*Stat `json:"formats"`
	FormatCombos map[string]*Stat `json:"format_combos"`
	MediaTypes   map[string]*Stat `json:"media_types"`
	DRMSchemes   map[string]*Stat `json:"drm_schemes"`
	DRMCombos    map[string]*Stat `json:"drm_combos"`
	Types        map[string]*Stat `json:"types"`

	Licenses LicenseStats `json:"licenses"`
	Pages    []PageStat   `json:"pages"`
	Errors   []RunError   `json:"errors,omitempty"`
}

// Aggregator accumulates one run. Not safe for concurrent use; the engine's
// aggregation goroutine is the single writer.
type Aggregator struct {
	summary          Summary
	pages            map[int]*PageStat
	concurrencySum   int
	concurrencyCount int
	finalized        bool
}

// New starts an empty summary for one run.
func New(runID, feedURL, dialect string) *Aggregator {
	return &Aggregator{
		summary: Summary{
			RunID:        runID,
			FeedURL:      feedURL,
			Dialect:      dialect,
			StartedAt:    time.Now().UTC(),
			Formats:      map[string]*Stat{},
			FormatCombos: map[string]*Stat{},
			MediaTypes:   map[string]*Stat{},
			DRMSchemes:   map[string]*Stat{},
			DRMCombos:    map[string]*Stat{},
			Types:        map[string]*Stat{},
		},
		pages: map[int]*PageStat{},
	}
}

// PageDiscovered notes a new frontier entry.
func (a *Aggregator) PageDiscovered() {
	a.summary.PagesDiscovered++
}

// StartPage opens the per-page record for one fetched page.
func (a *Aggregator) StartPage(ordinal int, url string, fetchDur time.Duration) {
	a.pages[ordinal] = &PageStat{Ordinal: ordinal, URL: url, Duration: fetchDur}
}

// FoldChunk folds one bounded chunk of classifications into the summary.
// The caller releases the chunk afterwards.
func (a *Aggregator) FoldChunk(ordinal int, chunk []analyzer.Classification) {
	page := a.pages[ordinal]
	for _, cls := range chunk {
		a.summary.TotalRecords++
		if page != nil {
			page.Records++
		}
		for _, f := range cls.Formats {
			bump(a.summary.Formats, f)
		}
		bump(a.summary.FormatCombos, comboKey(cls.Formats, "+"))
		for _, m := range cls.MediaTypes {
			bump(a.summary.MediaTypes, m)
		}
		for _, d := range cls.DRMSchemes {
			bump(a.summary.DRMSchemes, d)
		}
		bump(a.summary.DRMCombos, comboKey(cls.DRMSchemes, " & "))
		if cls.Type != "" {
			bump(a.summary.Types, cls.Type)
		}
		if cls.Terms.Concurrency != nil {
			a.summary.Licenses.WithTerms++
			a.concurrencySum += *cls.Terms.Concurrency
			a.concurrencyCount++
		}
		if cls.Terms.Price != nil {
			a.summary.Licenses.WithPrice++
		}
	}
}

// RecordError counts one record-level failure against its record and page.
func (a *Aggregator) RecordError(ordinal int, recordID, detail string) {
	a.summary.RecordErrors++
	if page := a.pages[ordinal]; page != nil {
		page.Errors++
	}
	a.summary.Errors = append(a.summary.Errors, RunError{
		Page:   ordinal,
		Record: recordID,
		Detail: detail,
	})
}

// FinishPage closes a successfully processed page.
func (a *Aggregator) FinishPage(ordinal int) {
	a.summary.PagesFetched++
}

// PageFailed records a page whose fetch or parse failed. The run keeps
// going; the summary stays usable with the failure on the books.
func (a *Aggregator) PageFailed(ordinal int, url string, err error) {
	a.summary.PagesFailed++
	a.pages[ordinal] = &PageStat{Ordinal: ordinal, URL: url, Failed: true, Error: err.Error()}
	a.summary.Errors = append(a.summary.Errors, RunError{
		Page:   ordinal,
		URL:    url,
		Detail: err.Error(),
	})
}

// TotalRecords returns the count folded so far.
func (a *Aggregator) TotalRecords() int { return a.summary.TotalRecords }

// Finalize computes percentages from the integer counts, orders the page
// stats by ordinal and seals the summary. Calling it twice returns the same
// sealed summary.
func (a *Aggregator) Finalize(canceled bool) *Summary {
	if a.finalized {
		return &a.summary
	}
	a.finalized = true
	a.summary.Canceled = canceled
	a.summary.FinishedAt = time.Now().UTC()

	if a.concurrencyCount > 0 {
		a.summary.Licenses.AvgConcurrency = round1(float64(a.concurrencySum) / float64(a.concurrencyCount))
	}
	total := a.summary.TotalRecords
	for _, m := range []map[string]*Stat{
		a.summary.Formats, a.summary.FormatCombos, a.summary.MediaTypes,
		a.summary.DRMSchemes, a.summary.DRMCombos, a.summary.Types,
	} {
		for _, s := range m {
			if total > 0 {
				s.Percent = round1(100 * float64(s.Count) / float64(total))
			}
		}
	}

	a.summary.Pages = make([]PageStat, 0, len(a.pages))
	for _, p := range a.pages {
		a.summary.Pages = append(a.summary.Pages, *p)
	}
	sort.Slice(a.summary.Pages, func(i, j int) bool {
		return a.summary.Pages[i].Ordinal < a.summary.Pages[j].Ordinal
	})
	return &a.summary
}

func bump(m map[string]*Stat, key string) {
	if key == "" {
		return
	}
	s, ok := m[key]
	if !ok {
		s = &Stat{}
		m[key] = s
	}
	s.Count++
}

// comboKey joins a record's sorted labels so multi-format and multi-DRM
// records are counted as their combination ("EPUB+PDF").
func comboKey(labels []string, sep string) string {
	if len(labels) == 0 {
		return ""
	}
	if len(labels) == 1 {
		return labels[0]
	}
	sorted := append([]string(nil), labels...)
	sort.Strings(sorted)
	return strings.Join(sorted, sep)
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// String renders the headline counts for logs.
func (s *Summary) String() string {
	return fmt.Sprintf("run %s: %d pages (%d failed), %d records, %d record errors",
		s.RunID, s.PagesFetched+s.PagesFailed, s.PagesFailed, s.TotalRecords, s.RecordErrors)
}
