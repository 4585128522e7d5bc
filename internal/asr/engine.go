package asr

import (
	"context"
	"fmt"
)

// Word is a word-level timestamp entry. Start, End, and Confidence are
// absent when the engine could not align the word; absence is explicit
// rather than a zero sentinel.
type Word struct {
	Word       string
	Start      *float64
	End        *float64
	Confidence *float64
}

// Segment is a contiguous unit of recognized speech. Segments are
// produced in non-decreasing start order and are immutable once
// returned by an Engine.
type Segment struct {
	Start      float64
	End        float64
	Text       string
	Confidence *float64
	Words      []Word
}

// Engine abstracts speech-to-text backends.
//
// Transcribe returns the ordered segments and the detected language.
// When language is empty the engine auto-detects; otherwise the
// returned language echoes the supplied one. An empty segment slice is
// a valid result for silent audio.
type Engine interface {
	Transcribe(ctx context.Context, audioPath, modelSize, language string) ([]Segment, string, error)
	Warm() bool
}

// TranscriptionError marks an engine invocation failure. It is fatal to
// the pipeline.
type TranscriptionError struct {
	Model string
	Err   error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed (model %s): %v", e.Model, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// modelAliases maps requested sizes the engine does not ship to the
// nearest supported base size.
var modelAliases = map[string]string{
	"large-v3": "large",
	"large-v2": "large",
}

// ResolveModel maps a requested model size to the engine's model name.
func ResolveModel(size string) string {
	if resolved, ok := modelAliases[size]; ok {
		return resolved
	}
	return size
}
