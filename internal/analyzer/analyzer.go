// Package analyzer implements the per-record capability set applied to every
// publication extracted from a feed page: format detection, DRM scheme
// classification, publication-type classification and license-term
// extraction. Every capability is side-effect-free and tolerates missing
// fields, mapping absence to an explicit unknown/none label.
package analyzer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/feedscope/feedscope/internal/feed"
)

// Canonical DRM scheme labels. The three-way distinction between DRMNone,
// DRMUnknown and a recognized scheme is load-bearing: conflating "no
// protection declared" with "protection declared but unrecognized" hides a
// publisher that started shipping DRM we cannot name.
const (
	DRMNone      = "No DRM"
	DRMUnknown   = "Unknown DRM"
	DRMAdobe     = "Adobe DRM"
	DRMLCP       = "Readium LCP"
	DRMWatermark = "Watermark"
)

// FormatUnknown labels records whose format cannot be determined.
const FormatUnknown = "UNKNOWN"

// Canonical publication type labels.
const (
	TypeBook       = "Book"
	TypeAudiobook  = "Audiobook"
	TypePeriodical = "Periodical"
	TypeOther      = "Other"
)

// Terms is the per-record license-term extraction result. All fields are
// optional on the wire; nil pointers mean the feed did not declare them.
type Terms struct {
	Concurrency   *int     `json:"concurrency,omitempty"`
	LendingPeriod *int     `json:"lending_period,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	Currency      string   `json:"currency,omitempty"`
	Markets       []string `json:"markets,omitempty"`
	CopyAllowed   bool     `json:"copy_allowed"`
	PrintAllowed  bool     `json:"print_allowed"`
	TTSAllowed    bool     `json:"tts_allowed"`
	Devices       *int     `json:"devices,omitempty"`
}

// Classification is the analyzer output for one record. It is derived data,
// folded into the run summary and then discarded with its record.
type Classification struct {
	Formats    []string
	MediaTypes []string
	DRMSchemes []string
	Type       string
	Terms      Terms
}

// Analyzer classifies records of one feed dialect.
type Analyzer interface {
	Dialect() feed.Dialect
	Analyze(pub feed.Publication) Classification
}

// ForDialect returns the analyzer for a parsed dialect.
func ForDialect(d feed.Dialect) Analyzer {
	if d == feed.DialectODL {
		return ODL{}
	}
	return OPDS{}
}

// ClassifyType maps a record's schema.org @type declarations to a canonical
// publication type. Records with no declaration classify as Other.
func ClassifyType(pub feed.Publication) string {
	types := pub.Types()
	matches := func(suffixes ...string) bool {
		for _, t := range types {
			for _, suffix := range suffixes {
				if strings.HasSuffix(t, suffix) {
					return true
				}
			}
		}
		return false
	}
	switch {
	case matches("schema.org/book", "schema.org/ebook"):
		return TypeBook
	case matches("schema.org/audiobook"):
		return TypeAudiobook
	case matches("schema.org/periodical", "schema.org/publicationissue", "schema.org/article"):
		return TypePeriodical
	default:
		return TypeOther
	}
}

// NormalizeMediaType maps a raw format declaration (usually a MIME type) to a
// readable media type label.
func NormalizeMediaType(format string) string {
	lower := strings.ToLower(format)
	switch {
	case strings.Contains(lower, "epub"):
		return "EPUB"
	case strings.Contains(lower, "pdf"):
		return "PDF"
	case strings.Contains(lower, "audio"):
		return "Audiobook"
	case strings.Contains(lower, "html"), strings.Contains(lower, "webpub"):
		return "WebPublication"
	case strings.Contains(lower, "opf"), strings.Contains(lower, "oebps"):
		return "OPEB"
	}
	if idx := strings.IndexByte(format, '/'); idx >= 0 && idx < len(format)-1 {
		subtype := format[idx+1:]
		subtype = strings.NewReplacer("+", " ", "-", " ").Replace(subtype)
		return toTitle(subtype)
	}
	return strings.ToUpper(format)
}

func toTitle(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// schemeForFormat maps one protection format declaration to a DRM label, or
// "" when the declaration names no scheme we know.
func schemeForFormat(format string) string {
	lower := strings.ToLower(format)
	switch {
	case strings.Contains(lower, "adobe"), strings.Contains(lower, "adept"):
		return DRMAdobe
	case strings.Contains(lower, "readium"), strings.Contains(lower, "lcp"):
		return DRMLCP
	case strings.Contains(lower, "watermark"):
		return DRMWatermark
	default:
		return ""
	}
}
