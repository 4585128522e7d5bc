// Package pipeline sequences a transcription job end to end:
// download, convert, transcribe, diarize, format, duration probe,
// callback. Scratch cleanup and exactly one callback attempt run on
// every exit path, including panics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tapenotes/transcriberd/internal/asr"
	"github.com/tapenotes/transcriberd/internal/bus"
	"github.com/tapenotes/transcriberd/internal/config"
	"github.com/tapenotes/transcriberd/internal/diarize"
	"github.com/tapenotes/transcriberd/internal/jobstore"
	"github.com/tapenotes/transcriberd/internal/media"
	"github.com/tapenotes/transcriberd/internal/output"
	"github.com/tapenotes/transcriberd/internal/protocol"
)

// ErrNoSource means the job carried neither audio_url nor video_url.
// The pipeline never starts; the caller still gets one callback.
var ErrNoSource = errors.New("no audio_url or video_url provided")

// Downloader resolves a media reference into a local scratch file.
type Downloader interface {
	Download(ctx context.Context, url, dest string) (int64, error)
}

// Converter normalizes media to canonical WAV and probes duration.
type Converter interface {
	ToWAV(ctx context.Context, inputPath, scratchDir, recordingID string) (string, error)
	ProbeDuration(ctx context.Context, wavPath string) float64
}

// Notifier delivers the result envelope to the job's webhook.
type Notifier interface {
	Notify(ctx context.Context, url, secret string, envelope protocol.ResultEnvelope)
}

// Deps are the collaborators an Orchestrator drives. Store and Events
// are optional; a nil Store or Publisher disables that concern.
type Deps struct {
	Downloader  Downloader
	Converter   Converter
	Transcriber asr.Engine
	Diarizer    diarize.Engine
	Notifier    Notifier
	Store       *jobstore.Store
	Events      *bus.Publisher
}

type Orchestrator struct {
	scratchDir       string
	defaultModelSize string
	deps             Deps
	log              *slog.Logger
	clock            func() time.Time

	jobsCompleted  metric.Int64Counter
	processingTime metric.Float64Histogram
}

func New(cfg config.Config, deps Deps, log *slog.Logger) *Orchestrator {
	meter := otel.Meter("github.com/tapenotes/transcriberd/internal/pipeline")
	jobsCompleted, _ := meter.Int64Counter("transcriber.jobs.completed",
		metric.WithDescription("Finished transcription jobs by status"))
	processingTime, _ := meter.Float64Histogram("transcriber.job.processing_seconds",
		metric.WithDescription("End-to-end job processing time"),
		metric.WithUnit("s"))

	return &Orchestrator{
		scratchDir:       cfg.Download.ScratchDir,
		defaultModelSize: cfg.Transcribe.DefaultModelSize,
		deps:             deps,
		log:              log,
		clock:            time.Now,
		jobsCompleted:    jobsCompleted,
		processingTime:   processingTime,
	}
}

// Run executes the whole pipeline for one job and returns the envelope
// that was delivered. It never returns without having attempted
// cleanup and exactly one callback.
func (o *Orchestrator) Run(ctx context.Context, req protocol.JobRequest) (envelope protocol.ResultEnvelope) {
	start := o.clock()
	log := o.log.With(slog.String("recording_id", req.RecordingID))
	log.Info("transcribing recording")

	envelope = protocol.ResultEnvelope{
		RecordingID: req.RecordingID,
		Status:      protocol.StatusError,
	}

	defer func() {
		if r := recover(); r != nil {
			envelope.Status = protocol.StatusError
			envelope.Error = fmt.Sprintf("panic: %v", r)
			log.Error("pipeline panicked", slog.String("error", envelope.Error))
		}
		envelope.ProcessingSeconds = int64(o.clock().Sub(start).Seconds())

		media.CleanupScratch(o.scratchDir, req.RecordingID, log)
		o.deps.Notifier.Notify(ctx, req.CallbackURL, req.CallbackSecret, envelope)
		o.finish(ctx, envelope)
	}()

	if err := o.process(ctx, req, log, &envelope); err != nil {
		envelope.Status = protocol.StatusError
		envelope.Error = err.Error()
		log.Error("transcription failed", slog.String("error", err.Error()))
	}
	return envelope
}

func (o *Orchestrator) process(ctx context.Context, req protocol.JobRequest, log *slog.Logger, envelope *protocol.ResultEnvelope) error {
	sourceURL := req.SourceURL()
	if sourceURL == "" {
		return ErrNoSource
	}

	inputPath := media.InputPath(o.scratchDir, req.RecordingID, sourceURL)
	if _, err := o.deps.Downloader.Download(ctx, sourceURL, inputPath); err != nil {
		return err
	}
	log.Info("downloaded media", slog.String("path", inputPath))

	wavPath, err := o.deps.Converter.ToWAV(ctx, inputPath, o.scratchDir, req.RecordingID)
	if err != nil {
		return err
	}
	log.Info("converted to wav", slog.String("path", wavPath))

	modelSize := req.ModelSize
	if modelSize == "" {
		modelSize = o.defaultModelSize
	}
	segments, language, err := o.deps.Transcriber.Transcribe(ctx, wavPath, modelSize, req.Language)
	if err != nil {
		return err
	}
	log.Info("transcribed segments",
		slog.Int("segments", len(segments)),
		slog.String("language", language))

	result, err := o.deps.Diarizer.Diarize(ctx, wavPath, segments, req.NumSpeakers)
	if err != nil {
		return err
	}
	if result.Degraded {
		log.Warn("diarization degraded to single speaker", slog.String("reason", result.Reason))
	}

	text, asJSON, utterances := output.Format(result.Segments)

	duration := o.deps.Converter.ProbeDuration(ctx, wavPath)

	envelope.Status = protocol.StatusSuccess
	envelope.TranscriptText = text
	envelope.TranscriptJSON = &asJSON
	envelope.TranscriptUtterances = utterances
	envelope.DurationSeconds = duration
	envelope.Language = language
	envelope.WordCount = len(strings.Fields(text))
	envelope.SpeakerCount = speakerCount(utterances)

	log.Info("transcription complete",
		slog.Int("words", envelope.WordCount),
		slog.Int("speakers", envelope.SpeakerCount))
	return nil
}

// finish records the outcome in the job history, announces it on the
// bus, and updates metrics. All best-effort.
func (o *Orchestrator) finish(ctx context.Context, envelope protocol.ResultEnvelope) {
	if err := o.deps.Store.Record(ctx, envelope); err != nil {
		o.log.Warn("failed to record job history", slog.String("error", err.Error()))
	}
	o.deps.Events.PublishCompleted(envelope)

	o.jobsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", envelope.Status)))
	o.processingTime.Record(ctx, float64(envelope.ProcessingSeconds))
}

func speakerCount(utterances []protocol.Utterance) int {
	speakers := make(map[int]struct{})
	for _, u := range utterances {
		speakers[u.Speaker] = struct{}{}
	}
	return len(speakers)
}
