// Package stt runs the transcription pipeline: decode, snapshot,
// engine call, history, and the forward to Core.
package stt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/orac-stt/internal/audio"
	"github.com/snarg/orac-stt/internal/coreclient"
	"github.com/snarg/orac-stt/internal/history"
	"github.com/snarg/orac-stt/internal/metrics"
	"github.com/snarg/orac-stt/internal/topics"
	"github.com/snarg/orac-stt/internal/whisper"
)

// Engine is the transcription backend.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, language string) (whisper.Result, error)
}

// Options carry per-request routing and correlation fields.
type Options struct {
	Topic         string
	Language      string
	Task          string
	ForwardToCore bool
	Streaming     bool

	// Producer-side timestamps passed through to Core for latency
	// correlation.
	WakeWordTime     string
	RecordingEndTime string
}

// Result is the response payload for one transcription attempt. Engine
// failures yield a zero-valued result, not an error; only bad input is
// an error.
type Result struct {
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	Language       string  `json:"language,omitempty"`
	Duration       float64 `json:"duration"`
	ProcessingTime float64 `json:"processing_time"`
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	engine    Engine
	ring      *history.Ring
	snapshots *history.Snapshots
	registry  *topics.Registry
	pool      *coreclient.Pool
	log       zerolog.Logger
}

// NewOrchestrator creates the pipeline. snapshots may be nil to skip
// debug recordings.
func NewOrchestrator(engine Engine, ring *history.Ring, snapshots *history.Snapshots, registry *topics.Registry, pool *coreclient.Pool, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		engine:    engine,
		ring:      ring,
		snapshots: snapshots,
		registry:  registry,
		pool:      pool,
		log:       log,
	}
}

// TranscribeUpload decodes a WAV upload and runs the pipeline. Decode
// failures return audio.ErrBadAudio.
func (o *Orchestrator) TranscribeUpload(ctx context.Context, wavBytes []byte, opts Options) (Result, error) {
	start := time.Now()
	samples, err := audio.DecodeWAV(wavBytes)
	if err != nil {
		return Result{}, err
	}
	return o.transcribe(ctx, start, samples, opts), nil
}

// TranscribeSamples runs the pipeline on already-decoded 16 kHz mono
// samples (the streaming path).
func (o *Orchestrator) TranscribeSamples(ctx context.Context, samples []float32, opts Options) Result {
	return o.transcribe(ctx, time.Now(), samples, opts)
}

func (o *Orchestrator) transcribe(ctx context.Context, start time.Time, samples []float32, opts Options) Result {
	topic := topics.Sanitize(opts.Topic)
	duration := audio.Duration(samples, audio.SampleRate)
	samples = audio.Prepare(samples)

	metrics.AudioDuration.Observe(duration)
	o.registry.UpdateActivity(topic, nil)

	log := o.log.With().Str("topic", topic).Logger()
	log.Info().Float64("duration", duration).Bool("streaming", opts.Streaming).Msg("processing audio")

	sttStart := start.UTC()
	res, engineErr := o.engine.Transcribe(ctx, samples, opts.Language)
	if engineErr == nil {
		metrics.InferenceDuration.Observe(res.InferenceSeconds)
	}

	processing := time.Since(start).Seconds()
	sttEnd := time.Now().UTC()

	if engineErr != nil {
		metrics.TranscriptionsTotal.WithLabelValues(outcomeLabel(engineErr)).Inc()
		log.Error().Err(engineErr).Msg("transcription failed")
		o.record(samples, history.Command{
			Text:            fmt.Sprintf("[Transcription Failed: %s]", errorKind(engineErr)),
			Topic:           topic,
			DurationSeconds: duration,
			ProcessingMs:    int64(processing * 1000),
			Failed:          true,
		})
		return Result{Duration: duration, ProcessingTime: processing}
	}

	if res.Text == "" {
		metrics.TranscriptionsTotal.WithLabelValues("empty").Inc()
	} else {
		metrics.TranscriptionsTotal.WithLabelValues("ok").Inc()
	}

	o.record(samples, history.Command{
		Text:            res.Text,
		Topic:           topic,
		DurationSeconds: duration,
		ProcessingMs:    int64(processing * 1000),
		Confidence:      res.Confidence,
		Language:        res.Language,
	})

	log.Info().
		Int("text_length", len(res.Text)).
		Float64("confidence", res.Confidence).
		Float64("processing_time", processing).
		Msg("transcription complete")

	if opts.ForwardToCore && forwardable(res.Text) {
		o.forward(topic, res, duration, processing, sttStart, sttEnd, opts)
	}

	return Result{
		Text:           res.Text,
		Confidence:     res.Confidence,
		Language:       res.Language,
		Duration:       duration,
		ProcessingTime: processing,
	}
}

// record snapshots the audio and appends the command to the ring.
func (o *Orchestrator) record(samples []float32, cmd history.Command) history.Command {
	if o.snapshots != nil {
		name, err := o.snapshots.Save(samples, cmd.Text)
		if err != nil {
			o.log.Warn().Err(err).Msg("failed to save debug recording")
		} else {
			cmd.AudioFile = name
		}
	}
	cmd = history.NewCommand(cmd)
	o.ring.Add(cmd)
	return cmd
}

// forwardable rejects empty text and bracketed status markers like
// "[BLANK_AUDIO]" that whisper emits for silence.
func forwardable(text string) bool {
	return text != "" && text[0] != '['
}

// forward ships the transcription to the topic's Core, fire and forget.
// The request carries its own timeout; the caller's context ends with
// the HTTP request, so it is not reused here.
func (o *Orchestrator) forward(topic string, res whisper.Result, duration, processing float64, sttStart, sttEnd time.Time, opts Options) {
	stripList := o.registry.WakeWordsToStrip(topic)
	text := topics.StripWakeWords(res.Text, stripList)
	if text == "" {
		o.log.Info().Str("topic", topic).Msg("transcription was only wake words, not forwarding")
		return
	}

	client := o.pool.For(derefOr(o.registry.CoreURL(topic), ""))
	if client == nil {
		o.log.Debug().Str("topic", topic).Msg("no core configured, skipping forward")
		return
	}

	metadata := map[string]any{
		"confidence":      res.Confidence,
		"language":        res.Language,
		"duration":        duration,
		"processing_time": processing,
		"stt_start_time":  sttStart.Format(time.RFC3339Nano),
		"stt_end_time":    sttEnd.Format(time.RFC3339Nano),
		"streaming":       opts.Streaming,
	}
	if opts.WakeWordTime != "" {
		metadata["wake_word_time"] = opts.WakeWordTime
	}
	if opts.RecordingEndTime != "" {
		metadata["recording_end_time"] = opts.RecordingEndTime
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client.ForwardTranscription(ctx, topic, text, metadata); err != nil {
			metrics.CoreForwardsTotal.WithLabelValues("error").Inc()
			o.log.Error().Err(err).Str("topic", topic).Msg("failed to forward transcription to core")
			return
		}
		metrics.CoreForwardsTotal.WithLabelValues("ok").Inc()
	}()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, whisper.ErrEngineTimeout):
		return "Engine Timeout"
	case errors.Is(err, whisper.ErrEngineDown):
		return "Engine Unavailable"
	default:
		return "Engine Error"
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, whisper.ErrEngineTimeout):
		return "timeout"
	case errors.Is(err, whisper.ErrEngineDown):
		return "engine_down"
	default:
		return "engine_error"
	}
}

func derefOr(s *string, fallback string) string {
	if s != nil {
		return *s
	}
	return fallback
}
