package diarize

import (
	"context"

	"github.com/tapenotes/transcriberd/internal/asr"
)

// DefaultSpeaker is assigned when diarization is unavailable or when no
// turn overlaps a segment.
const DefaultSpeaker = "SPEAKER_00"

// Turn is the engine's claim that one speaker was active over a time
// interval. Turns for different speakers may touch, but one speaker's
// turns never overlap each other.
type Turn struct {
	Speaker string
	Start   float64
	End     float64
}

// Attributed is a transcript segment with its speaker label.
type Attributed struct {
	asr.Segment
	Speaker string
}

// Result carries the attributed segments. Degraded marks the supported
// single-speaker fallback (missing credential, model failure); it is
// never pipeline-fatal. The error returned alongside a Result is
// reserved for faults outside the model itself.
type Result struct {
	Segments []Attributed
	Degraded bool
	Reason   string
}

// Engine abstracts diarization backends. numSpeakers is forwarded to
// the model only when positive.
type Engine interface {
	Diarize(ctx context.Context, audioPath string, segments []asr.Segment, numSpeakers int) (Result, error)
	Warm() bool
}

// Degrade assigns the default speaker to every segment.
func Degrade(segments []asr.Segment, reason string) Result {
	attributed := make([]Attributed, 0, len(segments))
	for _, seg := range segments {
		attributed = append(attributed, Attributed{Segment: seg, Speaker: DefaultSpeaker})
	}
	return Result{Segments: attributed, Degraded: true, Reason: reason}
}
