package diarize

import (
	"math"

	"github.com/tapenotes/transcriberd/internal/asr"
)

// AssignSpeakers attributes each segment to the speaker whose turns
// overlap it the most, accumulating overlap across all of a speaker's
// turns. Segments no turn touches get the default speaker.
func AssignSpeakers(segments []asr.Segment, turns []Turn) []Attributed {
	attributed := make([]Attributed, 0, len(segments))
	for _, seg := range segments {
		attributed = append(attributed, Attributed{Segment: seg, Speaker: dominantSpeaker(seg, turns)})
	}
	return attributed
}

func dominantSpeaker(seg asr.Segment, turns []Turn) string {
	overlapBySpeaker := make(map[string]float64)
	for _, turn := range turns {
		overlap := math.Min(seg.End, turn.End) - math.Max(seg.Start, turn.Start)
		if overlap > 0 {
			overlapBySpeaker[turn.Speaker] += overlap
		}
	}
	if len(overlapBySpeaker) == 0 {
		return DefaultSpeaker
	}

	var best string
	var bestOverlap float64
	for speaker, total := range overlapBySpeaker {
		// Ties go to the smallest label so the outcome never depends
		// on map iteration order.
		if total > bestOverlap || (total == bestOverlap && (best == "" || speaker < best)) {
			best = speaker
			bestOverlap = total
		}
	}
	return best
}
