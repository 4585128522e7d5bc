package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/tapenotes/transcriberd/internal/config"
)

// execEngine shells out to a transcription helper (whisper CLI wrapper)
// that prints JSON segments with word timestamps on stdout.
type execEngine struct {
	cmd     []string
	timeout time.Duration
	cache   *Cache
	log     *slog.Logger
}

type execWord struct {
	Word       string   `json:"word"`
	Start      *float64 `json:"start"`
	End        *float64 `json:"end"`
	Confidence *float64 `json:"confidence"`
}

type execSegment struct {
	Start      float64    `json:"start"`
	End        float64    `json:"end"`
	Text       string     `json:"text"`
	Confidence *float64   `json:"confidence"`
	Words      []execWord `json:"words"`
}

type execResult struct {
	Language string        `json:"language"`
	Segments []execSegment `json:"segments"`
}

func NewExecEngine(cfg config.TranscribeConfig, log *slog.Logger) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcribe command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcribe command is empty")
	}
	return &execEngine{
		cmd:     args,
		timeout: time.Duration(cfg.TimeoutS) * time.Second,
		cache:   NewCache(),
		log:     log,
	}, nil
}

func (e *execEngine) Transcribe(ctx context.Context, audioPath, modelSize, language string) ([]Segment, string, error) {
	model := ResolveModel(modelSize)

	// First use of a model pays the load cost; later jobs reuse the
	// warmed handle.
	if _, err := e.cache.Get(model, func() (any, error) {
		return model, e.warmModel(ctx, model)
	}); err != nil {
		return nil, "", &TranscriptionError{Model: model, Err: err}
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", audioPath, "--model", model, "--word-timestamps")
	if language != "" {
		args = append(args, "--language", language)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	command := exec.CommandContext(runCtx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, "", &TranscriptionError{Model: model, Err: fmt.Errorf("%w: %s", err, stderr.String())}
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, "", &TranscriptionError{Model: model, Err: fmt.Errorf("decode transcribe response: %w", err)}
	}

	detected := resp.Language
	if detected == "" {
		detected = language
	}
	if detected == "" {
		detected = "en"
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		seg := Segment{Start: s.Start, End: s.End, Text: s.Text, Confidence: s.Confidence}
		for _, w := range s.Words {
			seg.Words = append(seg.Words, Word{Word: w.Word, Start: w.Start, End: w.End, Confidence: w.Confidence})
		}
		segments = append(segments, seg)
	}

	e.log.Info("transcription complete",
		slog.String("model", model),
		slog.Int("segments", len(segments)),
		slog.String("language", detected))
	return segments, detected, nil
}

// warmModel asks the helper to load the model without transcribing, so
// the expensive load happens once per resolved name.
func (e *execEngine) warmModel(ctx context.Context, model string) error {
	e.log.Info("loading transcription model", slog.String("model", model))

	warmCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--warm", "--model", model)

	command := exec.CommandContext(warmCtx, e.cmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("load model %s: %w: %s", model, err, stderr.String())
	}
	return nil
}

func (e *execEngine) Warm() bool {
	return e.cache.Warm()
}
