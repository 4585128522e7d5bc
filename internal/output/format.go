// Package output assembles diarized segments into the three delivery
// representations: plain transcript text, the wrapped JSON form, and
// the flat utterance list. The text lines follow "Speaker N: text"
// exactly; the presentation layer splits on newline and parses each
// line for the "Name: text" pattern.
package output

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tapenotes/transcriberd/internal/diarize"
	"github.com/tapenotes/transcriberd/internal/protocol"
)

// Format converts attributed segments into the three output forms.
// Segments whose trimmed text is empty are skipped from all three
// alike, so the forms always agree in count and order.
func Format(segments []diarize.Attributed) (string, protocol.TranscriptJSON, []protocol.Utterance) {
	utterances := make([]protocol.Utterance, 0, len(segments))
	lines := make([]string, 0, len(segments))

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}

		speaker := speakerIndex(seg.Speaker)

		// Only words with both timestamps make the word list.
		words := make([]protocol.WordTiming, 0, len(seg.Words))
		for _, w := range seg.Words {
			if w.Start == nil || w.End == nil {
				continue
			}
			confidence := 0.0
			if w.Confidence != nil {
				confidence = *w.Confidence
			}
			words = append(words, protocol.WordTiming{
				Word:       w.Word,
				Start:      round3(*w.Start),
				End:        round3(*w.End),
				Confidence: round4(confidence),
			})
		}

		confidence := 0.0
		if seg.Confidence != nil {
			confidence = *seg.Confidence
		}

		utterances = append(utterances, protocol.Utterance{
			Speaker:    speaker,
			Start:      round3(seg.Start),
			End:        round3(seg.End),
			Text:       text,
			Confidence: round4(confidence),
			Words:      words,
		})
		lines = append(lines, fmt.Sprintf("Speaker %d: %s", speaker, text))
	}

	transcriptText := strings.Join(lines, "\n")
	return transcriptText, protocol.TranscriptJSON{Utterances: utterances}, utterances
}

// speakerIndex extracts the numeric index from a "SPEAKER_NN" label.
// Malformed or missing labels map to 0.
func speakerIndex(label string) int {
	trimmed := strings.TrimPrefix(label, "SPEAKER_")
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
