package optout

import "strings"

// Detector identifies unsubscribe keywords in inbound SMS bodies.
//
// Matching is exact-phrase on the whole trimmed body, case-insensitive.
// Carrier opt-out semantics require the keyword to stand alone: a body like
// "please stop spamming me" is a complaint, not an opt-out.
type Detector struct {
	keywords map[string]struct{}
}

var defaultKeywords = []string{"stop", "end", "unsubscribe", "cancel", "quit"}

// NewDetector returns a detector with the standard carrier keyword set.
func NewDetector() *Detector {
	d := &Detector{keywords: make(map[string]struct{}, len(defaultKeywords))}
	for _, kw := range defaultKeywords {
		d.keywords[kw] = struct{}{}
	}
	return d
}

// IsOptOut returns true when the trimmed body is exactly an opt-out keyword.
func (d *Detector) IsOptOut(body string) bool {
	if d == nil {
		return false
	}
	normalized := strings.ToLower(strings.TrimSpace(body))
	if normalized == "" {
		return false
	}
	_, ok := d.keywords[normalized]
	return ok
}
