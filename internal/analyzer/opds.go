package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/feedscope/feedscope/internal/feed"
)

// Acquisition link relations carrying format signals in the OPDS dialect.
const (
	relAcquisition = "http://opds-spec.org/acquisition"
	relOpenAccess  = "http://opds-spec.org/acquisition/open-access"
)

// OPDS analyzes publications of the link-based dialect, where format and DRM
// signals live in acquisition link MIME types, relations and properties.
type OPDS struct{}

// Dialect implements Analyzer.
func (OPDS) Dialect() feed.Dialect { return feed.DialectOPDS }

// Analyze implements Analyzer.
func (o OPDS) Analyze(pub feed.Publication) Classification {
	formats := o.DetectFormats(pub)
	return Classification{
		Formats:    formats,
		MediaTypes: formats,
		DRMSchemes: o.DetectDRM(pub),
		Type:       ClassifyType(pub),
	}
}

// DetectFormats inspects acquisition links only and returns every format the
// publication is offered in, sorted. A publication may carry several (EPUB
// and PDF, say); one with no usable acquisition link reports FormatUnknown.
func (OPDS) DetectFormats(pub feed.Publication) []string {
	found := map[string]struct{}{}
	for _, link := range pub.Links {
		if !isAcquisition(link) {
			continue
		}
		linkType := strings.ToLower(link.Type)
		switch {
		case linkType == "":
		case strings.Contains(linkType, "epub"):
			found["EPUB"] = struct{}{}
		case strings.Contains(linkType, "pdf"):
			found["PDF"] = struct{}{}
		case strings.Contains(linkType, "audiobook"), strings.HasPrefix(linkType, "audio/"):
			found["AUDIOBOOK"] = struct{}{}
		case strings.HasPrefix(linkType, "application/"):
			if label := vendorLabel(linkType); label != "" {
				found[label] = struct{}{}
			}
		}
	}
	if len(found) == 0 {
		return []string{FormatUnknown}
	}
	out := make([]string, 0, len(found))
	for f := range found {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// DetectDRM classifies DRM from link properties and relations. OPDS feeds
// have no dedicated protection structure, so an open-access or drm-free
// signal (or the absence of any DRM indicator) reads as DRMNone.
func (OPDS) DetectDRM(pub feed.Publication) []string {
	for _, link := range pub.Links {
		if props := fmt.Sprintf("%v", link.Properties); link.Properties != nil {
			lower := strings.ToLower(props)
			if scheme := schemeForFormat(lower); scheme != "" {
				return []string{scheme}
			}
		}
		if link.Rel.Contains(relOpenAccess) {
			return []string{DRMNone}
		}
		if strings.Contains(strings.ToLower(link.Type), "drm-free") {
			return []string{DRMNone}
		}
	}
	return []string{DRMNone}
}

func isAcquisition(link feed.Link) bool {
	return link.Rel.Contains(relAcquisition) || link.Rel.Contains(relOpenAccess)
}

// vendorLabel extracts a label from an application/* MIME type, preferring
// the vendor suffix of dotted subtypes (application/vnd.foo.bar -> BAR).
func vendorLabel(linkType string) string {
	subtype := strings.TrimPrefix(linkType, "application/")
	if subtype == "" {
		return ""
	}
	if idx := strings.LastIndexByte(subtype, '.'); idx >= 0 && idx < len(subtype)-1 {
		subtype = subtype[idx+1:]
	}
	return strings.ToUpper(subtype)
}
