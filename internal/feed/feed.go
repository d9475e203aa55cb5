// Package feed defines the wire model for paginated catalog documents and the
// link-relation helpers used to walk a feed's page chain.
package feed

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Dialect identifies the feed flavor a document should be interpreted as.
type Dialect string

// Supported feed dialects.
const (
	// DialectOPDS carries format and DRM signals in acquisition link MIME
	// types and relations.
	DialectOPDS Dialect = "opds"
	// DialectODL carries them in a nested licenses/protection structure.
	DialectODL Dialect = "odl"
)

// ParseDialect validates a dialect string supplied by a caller.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(s))) {
	case DialectOPDS:
		return DialectOPDS, nil
	case DialectODL:
		return DialectODL, nil
	default:
		return "", fmt.Errorf("unknown feed dialect %q", s)
	}
}

// DefaultNextRel is the link relation used for pagination unless the caller
// configures another one.
const DefaultNextRel = "next"

// Strings decodes a JSON value that may be either a single string or an array
// of strings. Feeds in the wild use both forms for rel, format and markets.
type Strings []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Strings) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*s = nil
			return nil
		}
		*s = Strings{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("decode string or string list: %w", err)
	}
	*s = Strings(many)
	return nil
}

// Contains reports whether any entry equals v (case-insensitive).
func (s Strings) Contains(v string) bool {
	for _, entry := range s {
		if strings.EqualFold(entry, v) {
			return true
		}
	}
	return false
}

// Link is a single relation entry on a document or publication.
type Link struct {
	Rel        Strings        `json:"rel,omitempty"`
	Href       string         `json:"href,omitempty"`
	Type       string         `json:"type,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Price is a monetary amount attached to an ODL license.
type Price struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency,omitempty"`
}

// Terms captures the lending terms of an ODL license.
type Terms struct {
	Concurrency *int `json:"concurrency,omitempty"`
	Length      *int `json:"length,omitempty"`
}

// Protection is the DRM declaration of an ODL license. Its presence alone is
// significant: a publication with a Protection block whose format matches no
// known scheme is protected by something, just not something we recognize.
type Protection struct {
	Format  Strings `json:"format,omitempty"`
	Copy    bool    `json:"copy,omitempty"`
	Print   bool    `json:"print,omitempty"`
	TTS     bool    `json:"tts,omitempty"`
	Devices *int    `json:"devices,omitempty"`
}

// LicenseMetadata is the metadata object of one ODL license.
type LicenseMetadata struct {
	Identifier string      `json:"identifier,omitempty"`
	Format     Strings     `json:"format,omitempty"`
	Protection *Protection `json:"protection,omitempty"`
	Terms      *Terms      `json:"terms,omitempty"`
	Price      *Price      `json:"price,omitempty"`
	Markets    Strings     `json:"markets,omitempty"`
}

// License is one entry of an ODL publication's licenses array.
type License struct {
	Metadata LicenseMetadata `json:"metadata"`
	Links    []Link          `json:"links,omitempty"`
}

// Publication is one catalog record inside a page. Field presence varies by
// dialect; analyzers treat absent fields as valid input, never as errors.
type Publication struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	Links    []Link         `json:"links,omitempty"`
	Images   []Link         `json:"images,omitempty"`
	Licenses []License      `json:"licenses,omitempty"`
}

// Identifier returns metadata.identifier, or "" when absent.
func (p Publication) Identifier() string {
	return p.metadataString("identifier")
}

// Title returns metadata.title, or "" when absent.
func (p Publication) Title() string {
	return p.metadataString("title")
}

// Types returns the record's metadata.@type values (falling back to "type"),
// normalized to lowercase. Both string and array forms occur in feeds.
func (p Publication) Types() []string {
	raw, ok := p.Metadata["@type"]
	if !ok {
		raw = p.Metadata["type"]
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{strings.ToLower(strings.TrimSpace(v))}
	case []any:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok && s != "" {
				out = append(out, strings.ToLower(strings.TrimSpace(s)))
			}
		}
		return out
	default:
		return nil
	}
}

func (p Publication) metadataString(key string) string {
	if v, ok := p.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// Document is one fetched feed page.
type Document struct {
	Metadata     map[string]any `json:"metadata,omitempty"`
	Links        []Link         `json:"links,omitempty"`
	Publications []Publication  `json:"publications,omitempty"`
}

// Parse decodes a fetched body into a Document. A body that is not a JSON
// object is a parse error, reported by the caller as that page's fetch error.
func Parse(body []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse feed document: %w", err)
	}
	return &doc, nil
}

// NextURL resolves the document's pagination link against the page's own URL.
// It returns false when the document declares no link with the given relation.
func (d *Document) NextURL(pageURL string, rel string) (string, bool) {
	if rel == "" {
		rel = DefaultNextRel
	}
	for _, link := range d.Links {
		if !link.Rel.Contains(rel) || link.Href == "" {
			continue
		}
		base, err := url.Parse(pageURL)
		if err != nil {
			return link.Href, true
		}
		ref, err := url.Parse(link.Href)
		if err != nil {
			continue
		}
		return base.ResolveReference(ref).String(), true
	}
	return "", false
}
