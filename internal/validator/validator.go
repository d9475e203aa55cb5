// Package validator holds the pluggable per-record validation capability.
// Validators report findings, they never stop a run; each finding is counted
// against its record and surfaced as a record-error event.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/feedscope/feedscope/internal/feed"
)

// Validator checks one publication record and returns its findings. An empty
// slice means the record passed.
type Validator interface {
	Name() string
	Validate(pub feed.Publication) []Finding
}

// Finding is one validation failure on one record.
type Finding struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Detail)
}

// uriScheme matches the RFC 3986 scheme production at the start of a string.
var uriScheme = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+\-.]*:`)

// IsValidURI reports whether s carries a syntactically valid URI scheme.
// Catalog identifiers are expected to be URIs (urn:isbn:..., https://...);
// bare strings fail.
func IsValidURI(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	return uriScheme.MatchString(s)
}

// Structural validates the fields every well-formed record must carry:
// a URI identifier, a title, and at least one link or license to acquire the
// publication through.
type Structural struct{}

func (Structural) Name() string { return "structural" }

func (Structural) Validate(pub feed.Publication) []Finding {
	var findings []Finding
	if id := pub.Identifier(); id == "" {
		findings = append(findings, Finding{Field: "metadata.identifier", Detail: "missing"})
	} else if !IsValidURI(id) {
		findings = append(findings, Finding{Field: "metadata.identifier", Detail: fmt.Sprintf("not a URI: %q", id)})
	}
	if pub.Title() == "" {
		findings = append(findings, Finding{Field: "metadata.title", Detail: "missing"})
	}
	if len(pub.Links) == 0 && len(pub.Licenses) == 0 {
		findings = append(findings, Finding{Field: "links", Detail: "no links or licenses"})
	}
	return findings
}

// Chain runs several validators in order and concatenates their findings.
type Chain []Validator

func (c Chain) Name() string { return "chain" }

func (c Chain) Validate(pub feed.Publication) []Finding {
	var findings []Finding
	for _, v := range c {
		findings = append(findings, v.Validate(pub)...)
	}
	return findings
}
