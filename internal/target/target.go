// Package target holds the destination catalog and the content payload
// handed to delivery handlers.
package target

import (
	"strings"

	"crosspost/internal/config"
)

// Variant selects the navigation trigger for multi-stage targets.
type Variant string

const (
	VariantArticle Variant = "article"
	VariantMedia   Variant = "media"
)

// Target is one external destination. Immutable once loaded from config.
type Target struct {
	ID   string
	Name string

	Endpoint      string
	VideoEndpoint string

	MultiStage    bool
	HandoffMarker string
	Variant       Variant
}

// Post is the content payload fanned out to targets.
//
// FileIDs reference payloads in the blob store; delivery handlers pull them
// through the egress router on their own schedule.
type Post struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	FileIDs []string `json:"file_ids,omitempty"`

	// HasVideo routes the job to the target's video endpoint when one exists.
	HasVideo bool `json:"has_video,omitempty"`
}

// ResolveEndpoint picks the submission surface for the given content.
// Video-capable endpoints win when the content carries video.
func (t Target) ResolveEndpoint(p Post) string {
	if p.HasVideo && strings.TrimSpace(t.VideoEndpoint) != "" {
		return t.VideoEndpoint
	}
	return t.Endpoint
}

// MatchesHandoff reports whether addr looks like this target's secondary
// context appearing.
func (t Target) MatchesHandoff(addr string) bool {
	m := strings.TrimSpace(t.HandoffMarker)
	if m == "" {
		return false
	}
	return strings.Contains(addr, m)
}

// FromConfig converts the config catalog into domain targets.
func FromConfig(in []config.TargetConfig) []Target {
	out := make([]Target, 0, len(in))
	for _, c := range in {
		v := Variant(strings.TrimSpace(c.Variant))
		if v == "" {
			v = VariantArticle
		}
		out = append(out, Target{
			ID:            c.ID,
			Name:          c.Name,
			Endpoint:      c.Endpoint,
			VideoEndpoint: c.VideoEndpoint,
			MultiStage:    c.MultiStage,
			HandoffMarker: c.HandoffMarker,
			Variant:       v,
		})
	}
	return out
}

// ByID returns the target with the given id, if present.
func ByID(ts []Target, id string) (Target, bool) {
	for _, t := range ts {
		if t.ID == id {
			return t, true
		}
	}
	return Target{}, false
}
