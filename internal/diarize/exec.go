package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/tapenotes/transcriberd/internal/asr"
	"github.com/tapenotes/transcriberd/internal/config"
)

const modelKey = "speaker-diarization"

// execEngine shells out to a diarization helper (pyannote CLI wrapper)
// that prints speaker turns as JSON on stdout. One model instance is
// loaded per process and reused across jobs.
type execEngine struct {
	cmd       []string
	authToken string
	timeout   time.Duration
	cache     *asr.Cache
	log       *slog.Logger
}

type execTurn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

type execResult struct {
	Turns []execTurn `json:"turns"`
}

func NewExecEngine(cfg config.DiarizeConfig, log *slog.Logger) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse diarize command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("diarize command is empty")
	}
	return &execEngine{
		cmd:       args,
		authToken: cfg.AuthToken,
		timeout:   time.Duration(cfg.TimeoutS) * time.Second,
		cache:     asr.NewCache(),
		log:       log,
	}, nil
}

func (e *execEngine) Diarize(ctx context.Context, audioPath string, segments []asr.Segment, numSpeakers int) (Result, error) {
	if len(segments) == 0 {
		e.log.Warn("no segments to diarize")
		return Result{}, nil
	}

	// Missing credential is a supported degraded mode, not an error.
	if e.authToken == "" {
		e.log.Warn("diarization auth token not set, assigning default speaker to all segments")
		return Degrade(segments, "not configured"), nil
	}

	if _, err := e.cache.Get(modelKey, func() (any, error) {
		return modelKey, e.warmModel(ctx)
	}); err != nil {
		e.log.Error("diarization model load failed, falling back to single speaker", slog.String("error", err.Error()))
		return Degrade(segments, err.Error()), nil
	}

	turns, err := e.runModel(ctx, audioPath, numSpeakers)
	if err != nil {
		e.log.Error("diarization failed, falling back to single speaker", slog.String("error", err.Error()))
		return Degrade(segments, err.Error()), nil
	}

	attributed := AssignSpeakers(segments, turns)

	speakers := make(map[string]struct{})
	for _, seg := range attributed {
		speakers[seg.Speaker] = struct{}{}
	}
	e.log.Info("diarization complete",
		slog.Int("segments", len(attributed)),
		slog.Int("speakers", len(speakers)))
	return Result{Segments: attributed}, nil
}

func (e *execEngine) runModel(ctx context.Context, audioPath string, numSpeakers int) ([]Turn, error) {
	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", audioPath, "--auth-token", e.authToken)
	if numSpeakers > 0 {
		e.log.Info("diarizing with speaker count hint", slog.Int("num_speakers", numSpeakers))
		args = append(args, "--num-speakers", strconv.Itoa(numSpeakers))
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	command := exec.CommandContext(runCtx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("diarize command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode diarize response: %w", err)
	}

	turns := make([]Turn, 0, len(resp.Turns))
	for _, t := range resp.Turns {
		turns = append(turns, Turn{Speaker: t.Speaker, Start: t.Start, End: t.End})
	}
	return turns, nil
}

func (e *execEngine) warmModel(ctx context.Context) error {
	e.log.Info("loading diarization model")

	warmCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--warm", "--auth-token", e.authToken)

	command := exec.CommandContext(warmCtx, e.cmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("load diarization model: %w: %s", err, stderr.String())
	}
	return nil
}

func (e *execEngine) Warm() bool {
	return e.cache.Warm()
}
