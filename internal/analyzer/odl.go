package analyzer

import (
	"sort"

	"github.com/feedscope/feedscope/internal/feed"
)

// ODL analyzes publications of the license-based dialect, where format and
// DRM signals live in the licenses array rather than on acquisition links.
type ODL struct{}

// Dialect implements Analyzer.
func (ODL) Dialect() feed.Dialect { return feed.DialectODL }

// Analyze implements Analyzer.
func (o ODL) Analyze(pub feed.Publication) Classification {
	formats := o.DetectFormats(pub)
	mediaTypes := make([]string, 0, len(formats))
	seen := map[string]struct{}{}
	for _, f := range formats {
		label := f
		if f != FormatUnknown {
			label = NormalizeMediaType(f)
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		mediaTypes = append(mediaTypes, label)
	}
	return Classification{
		Formats:    formats,
		MediaTypes: mediaTypes,
		DRMSchemes: o.DetectDRM(pub),
		Type:       ClassifyType(pub),
		Terms:      o.ExtractTerms(pub),
	}
}

// DetectFormats collects the raw format declarations of every license. The
// result keeps MIME strings as-is so the summary can report both raw formats
// and normalized media types.
func (ODL) DetectFormats(pub feed.Publication) []string {
	found := map[string]struct{}{}
	for _, lic := range pub.Licenses {
		for _, f := range lic.Metadata.Format {
			if f != "" {
				found[f] = struct{}{}
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

// DetectDRM inspects every license's protection block and returns the sorted
// set of recognized schemes. Three outcomes are kept distinct: no license
// declares protection at all (DRMNone), protection is declared but names no
// known scheme (DRMUnknown), or one or more recognized schemes.
func (ODL) DetectDRM(pub feed.Publication) []string {
	schemes := map[string]struct{}{}
	hasProtection := false
	for _, lic := range pub.Licenses {
		prot := lic.Metadata.Protection
		if prot == nil {
			continue
		}
		hasProtection = true
		for _, f := range prot.Format {
			if scheme := schemeForFormat(f); scheme != "" {
				schemes[scheme] = struct{}{}
			}
		}
	}
	if len(schemes) > 0 {
		out := make([]string, 0, len(schemes))
		for s := range schemes {
			out = append(out, s)
		}
		sort.Strings(out)
		return out
	}
	if hasProtection {
		return []string{DRMUnknown}
	}
	return []string{DRMNone}
}

// ExtractTerms pulls lending terms from the first license. Most publications
// carry a single license; feeds that attach several keep the primary first.
func (ODL) ExtractTerms(pub feed.Publication) Terms {
	var terms Terms
	if len(pub.Licenses) == 0 {
		return terms
	}
	meta := pub.Licenses[0].Metadata
	if meta.Terms != nil {
		terms.Concurrency = meta.Terms.Concurrency
		terms.LendingPeriod = meta.Terms.Length
	}
	if meta.Price != nil {
		v := meta.Price.Value
		terms.Price = &v
		terms.Currency = meta.Price.Currency
	}
	terms.Markets = append([]string(nil), meta.Markets...)
	if prot := meta.Protection; prot != nil {
		terms.CopyAllowed = prot.Copy
		terms.PrintAllowed = prot.Print
		terms.TTSAllowed = prot.TTS
		terms.Devices = prot.Devices
	}
	return terms
}
