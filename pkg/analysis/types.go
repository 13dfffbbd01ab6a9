// Package analysis defines the shard analysis document model and the
// Orchestrator that produces it from raw audio.
//
// A shard's analysis document carries two representations of the same
// emotion estimate: the legacy flat fields and score list kept for existing
// consumers, and the structured emotion block with a normalized probability
// distribution. Both are derived from one estimator call and must agree on
// the underlying values, differing only in vocabulary and shape.
package analysis

import "time"

// Source records which transcription backend produced the analysis.
type Source string

const (
	SourceLocal Source = "local"
	SourceCloud Source = "cloud"
)

// Mode records whether the analysis was produced by the automatic pipeline
// or entered manually.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManual    Mode = "manual"
)

// Legacy emotion vocabulary. The estimator reports in this vocabulary; the
// structured block maps it to the English one below.
const (
	LegacyValencePositive = "positivo"
	LegacyValenceNeutral  = "neutral"
	LegacyValenceNegative = "negativo"

	LegacyActivationLow    = "bajo"
	LegacyActivationMedium = "medio"
	LegacyActivationHigh   = "alto"
)

// Valence is the structured-block valence vocabulary.
type Valence string

const (
	ValencePositive Valence = "positive"
	ValenceNeutral  Valence = "neutral"
	ValenceNegative Valence = "negative"
)

// Activation is the structured-block activation vocabulary.
type Activation string

const (
	ActivationLow    Activation = "low"
	ActivationMedium Activation = "medium"
	ActivationHigh   Activation = "high"
)

// MapValence converts a legacy valence label to the structured vocabulary.
// Unknown labels yield the empty string. Both vocabularies are accepted so
// documents written by either generation round-trip cleanly.
func MapValence(legacy string) Valence {
	switch legacy {
	case LegacyValencePositive, string(ValencePositive):
		return ValencePositive
	case LegacyValenceNeutral:
		return ValenceNeutral
	case LegacyValenceNegative, string(ValenceNegative):
		return ValenceNegative
	}
	return ""
}

// MapActivation converts a legacy activation label to the structured
// vocabulary. Unknown labels yield the empty string.
func MapActivation(legacy string) Activation {
	switch legacy {
	case LegacyActivationLow, string(ActivationLow):
		return ActivationLow
	case LegacyActivationMedium, string(ActivationMedium):
		return ActivationMedium
	case LegacyActivationHigh, string(ActivationHigh):
		return ActivationHigh
	}
	return ""
}

// ActivationOrdinal maps an activation level to its fixed intensity ordinal
// used by the key-moments ranking when no distribution is available.
func ActivationOrdinal(a Activation) float64 {
	switch a {
	case ActivationLow:
		return 1
	case ActivationMedium:
		return 2
	case ActivationHigh:
		return 3
	}
	return 0
}

// LabelScore is one entry of the legacy emotion score list.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ProsodyFlags carries coarse prosodic observations from the estimator.
type ProsodyFlags struct {
	Laughter string `json:"laughter,omitempty"`
	Crying   string `json:"crying,omitempty"`
	Shouting string `json:"shouting,omitempty"`
	Sighing  string `json:"sighing,omitempty"`
	Tension  string `json:"tension,omitempty"`
}

// SignalFeatures carries the acoustic features attached to a shard. They are
// either computed from the uploaded waveform or passed through unchanged from
// client-supplied hints; the pipeline never recomputes a hinted value.
type SignalFeatures struct {
	RMS             *float64 `json:"rms,omitempty"`
	Peak            *float64 `json:"peak,omitempty"`
	CenterFrequency *float64 `json:"centerFrequency,omitempty"`
	ZCR             *float64 `json:"zcr,omitempty"`
}

// EmotionBlock is the structured emotion representation.
type EmotionBlock struct {
	Primary      string             `json:"primary,omitempty"`
	Valence      Valence            `json:"valence,omitempty"`
	Activation   Activation         `json:"activation,omitempty"`
	Distribution map[string]float64 `json:"distribution"`
	Headline     string             `json:"headline,omitempty"`
	Explanation  string             `json:"explanation,omitempty"`
	Intensity    *float64           `json:"intensity,omitempty"`
}

// LegacyEmotionBlock mirrors the estimator output in the legacy vocabulary.
type LegacyEmotionBlock struct {
	Primary    string       `json:"primary,omitempty"`
	Valence    string       `json:"valence,omitempty"`
	Activation string       `json:"activation,omitempty"`
	Scores     []LabelScore `json:"scores,omitempty"`
}

// SemanticFlags are the semantic analyzer's boolean markers.
type SemanticFlags struct {
	NeedsFollowup  bool `json:"needsFollowup"`
	PossibleCrisis bool `json:"possibleCrisis"`
}

// SemanticBlock is the semantic analyzer output.
type SemanticBlock struct {
	Summary    string        `json:"summary"`
	Topics     []string      `json:"topics"`
	MomentType string        `json:"momentType"`
	Flags      SemanticFlags `json:"flags"`
}

// SafeEmptySemantic returns the fixed placeholder substituted when the
// semantic stage cannot produce a result.
func SafeEmptySemantic() SemanticBlock {
	return SemanticBlock{
		Summary:    "",
		Topics:     []string{},
		MomentType: "otro",
		Flags:      SemanticFlags{NeedsFollowup: false, PossibleCrisis: false},
	}
}

// Result is the unified analysis document produced by the Orchestrator.
//
// Responses built from it are additive-only across versions: the flat legacy
// emotion fields stay populated alongside the structured block for as long
// as any consumer depends on them.
type Result struct {
	Transcript              string  `json:"transcript,omitempty"`
	TranscriptLanguage      string  `json:"transcriptLanguage,omitempty"`
	TranscriptionConfidence float64 `json:"transcriptionConfidence"`

	Language       string             `json:"language,omitempty"`
	Emotion        EmotionBlock       `json:"emotion"`
	EmotionLegacy  LegacyEmotionBlock `json:"emotionLegacy"`
	SignalFeatures SignalFeatures     `json:"signalFeatures"`
	Semantic       SemanticBlock      `json:"semantic"`

	// Legacy flat fields, kept in lockstep with Emotion / EmotionLegacy.
	PrimaryEmotion string        `json:"primaryEmotion,omitempty"`
	EmotionLabels  []LabelScore  `json:"emotionLabels,omitempty"`
	Valence        string        `json:"valence,omitempty"`
	Arousal        string        `json:"arousal,omitempty"`
	Prosody        *ProsodyFlags `json:"prosodyFlags,omitempty"`

	AnalysisSource  Source    `json:"analysisSource"`
	AnalysisMode    Mode      `json:"analysisMode"`
	AnalysisVersion string    `json:"analysisVersion"`
	AnalysisAt      time.Time `json:"analysisAt"`
}

// BuildHeadline derives the short emotion headline shown in feed entries.
// Returns the empty string when no headline applies.
func BuildHeadline(primary string, activation Activation, peak *float64) string {
	if primary == "" {
		return ""
	}
	switch activation {
	case ActivationHigh:
		switch primary {
		case "enojo", "ira":
			return "Alza de voz."
		case "miedo", "ansiedad":
			return "Tensión evidente."
		}
		return "Emoción intensa."
	case ActivationLow:
		return "Tono contenido."
	case ActivationMedium:
		return "Emoción moderada."
	}
	if peak != nil && *peak >= 0.75 {
		return "Alza de voz."
	}
	return ""
}

// NormalizeDistribution converts a legacy score list into a probability
// distribution. Negative scores are dropped; the remaining mass is scaled to
// sum to 1. An empty or all-zero list yields an empty (non-nil) map.
func NormalizeDistribution(scores []LabelScore) map[string]float64 {
	dist := make(map[string]float64, len(scores))
	var total float64
	for _, s := range scores {
		if s.Label == "" || s.Score < 0 {
			continue
		}
		dist[s.Label] = s.Score
		total += s.Score
	}
	if total > 0 {
		for k, v := range dist {
			dist[k] = v / total
		}
	}
	return dist
}
