// Package pipeline sequences the three analysis stages (transcription,
// emotion estimation, semantic analysis) with per-stage fallback and
// assembles the unified analysis document.
//
// The Orchestrator persists nothing: given its collaborators it is pure,
// and the caller owns storage. After validation a call cannot fail short of
// context cancellation; each stage degrades to its documented fallback value
// instead of propagating errors.
package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/evalab/resona/internal/fault"
	"github.com/evalab/resona/pkg/analysis"
	"github.com/evalab/resona/pkg/provider/emotion"
	"github.com/evalab/resona/pkg/provider/semantic"
	"github.com/evalab/resona/pkg/provider/transcribe"
)

// Version is stamped onto every analysis document as analysisVersion.
const Version = "0.1.0-local"

// Stage names reported to the stage observer.
const (
	StageTranscribe = "transcribe"
	StageEmotion    = "emotion"
	StageSemantic   = "semantic"
)

// Default per-stage timeouts. A stage that exceeds its timeout is treated as
// a stage failure and falls back, never as a request-level error.
const (
	defaultTranscribeTimeout = 60 * time.Second
	defaultEmotionTimeout    = 15 * time.Second
	defaultSemanticTimeout   = 20 * time.Second
)

// wavContentTypes are the accepted multipart content types for shard audio.
var wavContentTypes = map[string]struct{}{
	"audio/wav":      {},
	"audio/x-wav":    {},
	"audio/wave":     {},
	"audio/vnd.wave": {},
}

// StageObserver receives the outcome of each pipeline stage. fellBack is
// true when the stage failed or timed out and its fallback value was used.
type StageObserver func(ctx context.Context, stage string, elapsed time.Duration, fellBack bool)

// Request is one ingest call into the pipeline. SampleRate and
// DurationSeconds arrive as strings from the transport layer and are
// validated here; ContentType is checked only when non-empty.
type Request struct {
	Audio           []byte
	ContentType     string
	SampleRate      string
	DurationSeconds string
	FeatureHints    analysis.SignalFeatures
}

// Orchestrator runs the three stages in order and merges their outputs.
type Orchestrator struct {
	transcriber transcribe.Provider
	estimator   emotion.Estimator
	analyzer    semantic.Analyzer

	correct  func(string) string
	probe    func(context.Context) error
	observer StageObserver

	transcribeTimeout time.Duration
	emotionTimeout    time.Duration
	semanticTimeout   time.Duration
}

// Option is a functional option for the Orchestrator.
type Option func(*Orchestrator)

// WithSemanticAnalyzer enables the semantic stage. Without it the stage is
// disabled and every document carries the safe-empty semantic block.
func WithSemanticAnalyzer(a semantic.Analyzer) Option {
	return func(o *Orchestrator) {
		o.analyzer = a
	}
}

// WithTranscriptCorrector installs a post-transcription text rewrite,
// typically a vocabulary corrector. Applied only to non-empty transcripts.
func WithTranscriptCorrector(fn func(string) string) Option {
	return func(o *Orchestrator) {
		o.correct = fn
	}
}

// WithAvailabilityProbe installs the pre-pipeline readiness check. A probe
// error rejects the request as model_unavailable before any stage runs.
func WithAvailabilityProbe(probe func(context.Context) error) Option {
	return func(o *Orchestrator) {
		o.probe = probe
	}
}

// WithStageObserver installs a callback invoked after every stage, used to
// record stage latency and fallback counters.
func WithStageObserver(obs StageObserver) Option {
	return func(o *Orchestrator) {
		o.observer = obs
	}
}

// WithTranscribeTimeout overrides the transcription stage timeout.
func WithTranscribeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.transcribeTimeout = d
	}
}

// WithEmotionTimeout overrides the emotion stage timeout.
func WithEmotionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.emotionTimeout = d
	}
}

// WithSemanticTimeout overrides the semantic stage timeout.
func WithSemanticTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.semanticTimeout = d
	}
}

// NewOrchestrator builds an Orchestrator over the required transcription and
// emotion backends.
func NewOrchestrator(t transcribe.Provider, e emotion.Estimator, opts ...Option) (*Orchestrator, error) {
	if t == nil {
		return nil, fault.New(fault.Internal, fault.CodeInternal, "pipeline: transcriber must not be nil")
	}
	if e == nil {
		return nil, fault.New(fault.Internal, fault.CodeInternal, "pipeline: emotion estimator must not be nil")
	}

	o := &Orchestrator{
		transcriber:       t,
		estimator:         e,
		transcribeTimeout: defaultTranscribeTimeout,
		emotionTimeout:    defaultEmotionTimeout,
		semanticTimeout:   defaultSemanticTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Analyze validates the request, runs the pipeline and assembles the result.
//
// Validation order is fixed: container, content type, numeric parameters,
// model availability. Any validation failure is returned as a classified
// fault before a single stage runs.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (analysis.Result, error) {
	if err := analysis.ValidateWAV(req.Audio); err != nil {
		return analysis.Result{}, fault.New(fault.Validation, fault.CodeInvalidAudio, "uploaded audio is not a valid WAV")
	}
	if req.ContentType != "" {
		if _, ok := wavContentTypes[req.ContentType]; !ok {
			return analysis.Result{}, fault.Newf(fault.Validation, fault.CodeInvalidAudioType, "unsupported content type: %s", req.ContentType)
		}
	}

	rate, rateErr := strconv.ParseFloat(req.SampleRate, 64)
	duration, durErr := strconv.ParseFloat(req.DurationSeconds, 64)
	if rateErr != nil || durErr != nil {
		return analysis.Result{}, fault.New(fault.Validation, fault.CodeInvalidParameters, "sampleRate and durationSeconds must be numeric")
	}
	if rate <= 0 || duration <= 0 {
		return analysis.Result{}, fault.New(fault.Validation, fault.CodeInvalidParameters, "sampleRate and durationSeconds must be > 0")
	}

	if o.probe != nil {
		if err := o.probe(ctx); err != nil {
			return analysis.Result{}, fault.Wrap(fault.ResourceUnavailable, fault.CodeModelUnavailable, "required model resources unavailable", err)
		}
	}

	features := o.resolveFeatures(req)

	tr, source := o.runTranscribe(ctx, req.Audio, int(rate))
	emo := o.runEmotion(ctx, tr.Text, features.Peak, duration)
	sem := o.runSemantic(ctx, tr, features)

	return o.assemble(tr, emo, sem, features, source), nil
}

// resolveFeatures computes acoustic features from the waveform and overlays
// client hints. Hinted values always win; nothing is recomputed over them.
func (o *Orchestrator) resolveFeatures(req Request) analysis.SignalFeatures {
	var computed analysis.SignalFeatures
	if w, err := analysis.DecodeWAV(req.Audio); err == nil {
		computed = analysis.ComputeFeatures(w)
	}
	return analysis.MergeFeatureHints(computed, req.FeatureHints)
}

func (o *Orchestrator) runTranscribe(ctx context.Context, audio []byte, rate int) (transcribe.Transcription, analysis.Source) {
	source := o.transcriber.Source()

	stageCtx, cancel := context.WithTimeout(ctx, o.transcribeTimeout)
	defer cancel()

	start := time.Now()
	tr, err := o.transcriber.Transcribe(stageCtx, audio, rate)
	o.observe(ctx, StageTranscribe, time.Since(start), err != nil)

	if err != nil {
		slog.Warn("transcription stage fell back", "error", err)
		return transcribe.Transcription{}, source
	}
	if tr.Source != "" {
		source = tr.Source
	}
	if o.correct != nil && tr.Text != "" {
		tr.Text = o.correct(tr.Text)
	}
	return tr, source
}

func (o *Orchestrator) runEmotion(ctx context.Context, transcript string, intensity *float64, duration float64) emotion.Result {
	stageCtx, cancel := context.WithTimeout(ctx, o.emotionTimeout)
	defer cancel()

	start := time.Now()
	res, err := o.estimator.Estimate(stageCtx, emotion.Request{
		Transcript:      transcript,
		Intensity:       intensity,
		DurationSeconds: &duration,
	})
	o.observe(ctx, StageEmotion, time.Since(start), err != nil)

	if err != nil {
		slog.Warn("emotion stage fell back", "error", err)
		return neutralEmotion()
	}
	return res
}

func (o *Orchestrator) runSemantic(ctx context.Context, tr transcribe.Transcription, features analysis.SignalFeatures) analysis.SemanticBlock {
	if o.analyzer == nil || tr.Text == "" {
		return analysis.SafeEmptySemantic()
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.semanticTimeout)
	defer cancel()

	start := time.Now()
	block, err := o.analyzer.Analyze(stageCtx, semantic.Request{
		Transcript: tr.Text,
		Language:   tr.Language,
		Features:   &features,
	})
	o.observe(ctx, StageSemantic, time.Since(start), err != nil)

	if err != nil {
		slog.Warn("semantic stage fell back", "error", err)
		return analysis.SafeEmptySemantic()
	}
	return block
}

// assemble merges the stage outputs into one document. The legacy and
// structured emotion representations are both derived from the same
// estimate and differ only in vocabulary and shape.
func (o *Orchestrator) assemble(tr transcribe.Transcription, emo emotion.Result, sem analysis.SemanticBlock, features analysis.SignalFeatures, source analysis.Source) analysis.Result {
	activation := analysis.MapActivation(emo.Arousal)
	prosody := emo.Prosody

	return analysis.Result{
		Transcript:              tr.Text,
		TranscriptLanguage:      tr.Language,
		TranscriptionConfidence: tr.Confidence,

		Language: tr.Language,
		Emotion: analysis.EmotionBlock{
			Primary:      emo.Primary,
			Valence:      analysis.MapValence(emo.Valence),
			Activation:   activation,
			Distribution: analysis.NormalizeDistribution(emo.Labels),
			Headline:     analysis.BuildHeadline(emo.Primary, activation, features.Peak),
			Intensity:    features.Peak,
		},
		EmotionLegacy: analysis.LegacyEmotionBlock{
			Primary:    emo.Primary,
			Valence:    emo.Valence,
			Activation: emo.Arousal,
			Scores:     emo.Labels,
		},
		SignalFeatures: features,
		Semantic:       sem,

		PrimaryEmotion: emo.Primary,
		EmotionLabels:  emo.Labels,
		Valence:        emo.Valence,
		Arousal:        emo.Arousal,
		Prosody:        &prosody,

		AnalysisSource:  source,
		AnalysisMode:    analysis.ModeAutomatic,
		AnalysisVersion: Version,
		AnalysisAt:      time.Now().UTC(),
	}
}

func (o *Orchestrator) observe(ctx context.Context, stage string, elapsed time.Duration, fellBack bool) {
	if o.observer != nil {
		o.observer(ctx, stage, elapsed, fellBack)
	}
}

// neutralEmotion is the fixed fallback used when the estimator fails.
func neutralEmotion() emotion.Result {
	return emotion.Result{
		Primary: "neutro",
		Valence: analysis.LegacyValenceNeutral,
		Arousal: analysis.LegacyActivationMedium,
		Labels:  []analysis.LabelScore{{Label: "neutro", Score: 1.0}},
		Prosody: analysis.ProsodyFlags{
			Laughter: "none",
			Crying:   "none",
			Shouting: "none",
			Sighing:  "none",
			Tension:  "none",
		},
	}
}
