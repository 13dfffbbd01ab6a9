package semantic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evalab/resona/pkg/analysis"
)

// SystemPrompt is the instruction shared by all LLM-backed analyzers. It
// pins the output to a single JSON object in the shape DecodeModelOutput
// expects.
const SystemPrompt = `You are a semantic analyzer for short voice diary clips in Spanish.
You receive:
- transcript: what the person said (mostly Spanish, sometimes Spanglish)
- language: ISO language code if available
- basic acoustic features (rms, peak, centerFrequency, zcr)

Your job is to output a compact JSON object with:
- summary: 1-3 sentences summarizing what the person is expressing, in the same language as the transcript.
- topics: 2-5 short keywords (single words or very short phrases) capturing the main themes (e.g. "ansiedad", "trabajo", "familia", "salud", "agradecimiento").
- momentType: one of:
  - "check-in" (estado general / como se siente)
  - "desahogo" (queja, descarga emocional)
  - "crisis" (angustia intensa, pensamientos de dano, urgencia emocional)
  - "recuerdo" (memoria del pasado)
  - "meta" (planes, objetivos, compromisos)
  - "agradecimiento" (gratitud, cosas buenas)
  - "otro" (si no encaja en lo anterior)
- flags:
  - needsFollowup: true si este momento merece ser revisado en otra sesion aunque no sea una crisis.
  - possibleCrisis: true solo si hay senales claras de crisis emocional (desesperacion extrema, ideas de dano, riesgo).

IMPORTANT:
- Output ONLY a JSON object. No explanations, no extra text.
- Be conservative with "possibleCrisis": only true if the language clearly suggests danger or serious risk.
`

// UserPayload is the user message body sent to the model.
type UserPayload struct {
	Transcript     string                   `json:"transcript"`
	Language       string                   `json:"language,omitempty"`
	SignalFeatures *analysis.SignalFeatures `json:"signalFeatures"`
}

// modelOutput mirrors the JSON shape the prompt asks for.
type modelOutput struct {
	Summary    string   `json:"summary"`
	Topics     []string `json:"topics"`
	MomentType string   `json:"momentType"`
	Flags      struct {
		NeedsFollowup  bool `json:"needsFollowup"`
		PossibleCrisis bool `json:"possibleCrisis"`
	} `json:"flags"`
}

// DecodeModelOutput decodes a model's JSON output into a SemanticBlock.
// Missing fields take their safe-empty values; an unknown moment type is
// coerced to "otro".
func DecodeModelOutput(content string) (analysis.SemanticBlock, error) {
	var out modelOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return analysis.SemanticBlock{}, fmt.Errorf("semantic: decode model output: %w", err)
	}

	block := analysis.SemanticBlock{
		Summary:    out.Summary,
		Topics:     out.Topics,
		MomentType: out.MomentType,
		Flags: analysis.SemanticFlags{
			NeedsFollowup:  out.Flags.NeedsFollowup,
			PossibleCrisis: out.Flags.PossibleCrisis,
		},
	}
	if block.Topics == nil {
		block.Topics = []string{}
	}
	if !KnownMoment(block.MomentType) {
		block.MomentType = MomentOther
	}
	return block, nil
}
