// Package heuristic provides a deterministic emotion estimator built on
// transcript keywords and signal intensity. It is the default backend when no
// trained SER model is configured and doubles as the fallback target the
// orchestrator substitutes when a configured backend is unavailable.
package heuristic

import (
	"context"
	"strings"

	"github.com/evalab/resona/pkg/analysis"
	"github.com/evalab/resona/pkg/provider/emotion"
)

// Compile-time assertion that Estimator satisfies emotion.Estimator.
var _ emotion.Estimator = (*Estimator)(nil)

// Arousal thresholds on normalized intensity.
const (
	lowArousalBelow   = 0.25
	highArousalFrom   = 0.7
	shoutingFrom      = 0.75
	tiredMinDuration  = 6.0
	tiredMaxIntensity = 0.2
)

var (
	positiveKeywords = []string{"gracias", "bien", "feliz", "genial"}
	negativeKeywords = []string{"no", "mal", "odio", "enojo", "enojado"}
)

// Estimator is the keyword-and-intensity emotion backend. The zero value is
// ready to use; it holds no state and is safe for concurrent use.
type Estimator struct{}

// New returns a ready Estimator.
func New() *Estimator {
	return &Estimator{}
}

// Estimate classifies the shard from transcript keywords and intensity. It
// never fails: with no transcript and no features it degrades to a neutral
// estimate with medium arousal.
func (e *Estimator) Estimate(ctx context.Context, req emotion.Request) (emotion.Result, error) {
	if err := ctx.Err(); err != nil {
		return emotion.Result{}, err
	}

	text := strings.ToLower(req.Transcript)

	shouting := req.Intensity != nil && *req.Intensity >= shoutingFrom
	tired := req.DurationSeconds != nil && *req.DurationSeconds >= tiredMinDuration &&
		(req.Intensity == nil || *req.Intensity < tiredMaxIntensity)

	var primary, valence string
	switch {
	case containsAny(text, positiveKeywords):
		primary, valence = "alegria", analysis.LegacyValencePositive
	case containsAny(text, negativeKeywords):
		primary, valence = "enojo", analysis.LegacyValenceNegative
	case tired:
		primary, valence = "cansancio", analysis.LegacyValenceNeutral
	default:
		primary, valence = "neutro", analysis.LegacyValenceNeutral
	}

	arousal := analysis.LegacyActivationMedium
	if req.Intensity != nil {
		switch {
		case *req.Intensity < lowArousalBelow:
			arousal = analysis.LegacyActivationLow
		case *req.Intensity < highArousalFrom:
			arousal = analysis.LegacyActivationMedium
		default:
			arousal = analysis.LegacyActivationHigh
		}
	}

	neutralScore := 0.4
	if primary == "neutro" {
		neutralScore = 0.6
	}
	labels := []analysis.LabelScore{
		{Label: primary, Score: 0.6},
		{Label: "neutro", Score: neutralScore},
	}

	prosody := analysis.ProsodyFlags{
		Laughter: "none",
		Crying:   "none",
		Shouting: "none",
		Sighing:  "none",
		Tension:  "none",
	}
	if shouting {
		prosody.Shouting = "present"
		prosody.Tension = "light"
	}

	return emotion.Result{
		Primary: primary,
		Valence: valence,
		Arousal: arousal,
		Labels:  labels,
		Prosody: prosody,
	}, nil
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
