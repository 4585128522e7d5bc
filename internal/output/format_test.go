package output

import (
	"fmt"
	"strings"
	"testing"

	"github.com/tapenotes/transcriberd/internal/asr"
	"github.com/tapenotes/transcriberd/internal/diarize"
)

func f(v float64) *float64 { return &v }

func TestFormatLineShapeMatchesUtterances(t *testing.T) {
	segments := []diarize.Attributed{
		{Segment: asr.Segment{Start: 0, End: 2, Text: " Hello everyone. "}, Speaker: "SPEAKER_00"},
		{Segment: asr.Segment{Start: 2, End: 5, Text: "Thanks for joining."}, Speaker: "SPEAKER_01"},
	}

	text, asJSON, utterances := Format(segments)

	lines := strings.Split(text, "\n")
	if len(lines) != len(utterances) {
		t.Fatalf("line count %d != utterance count %d", len(lines), len(utterances))
	}
	if len(asJSON.Utterances) != len(utterances) {
		t.Fatalf("json count %d != utterance count %d", len(asJSON.Utterances), len(utterances))
	}
	for i, u := range utterances {
		want := fmt.Sprintf("Speaker %d: %s", u.Speaker, u.Text)
		if lines[i] != want {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want)
		}
	}
	if utterances[0].Speaker != 0 || utterances[1].Speaker != 1 {
		t.Fatalf("unexpected speaker indices: %d, %d", utterances[0].Speaker, utterances[1].Speaker)
	}
	if utterances[0].Text != "Hello everyone." {
		t.Fatalf("expected trimmed text, got %q", utterances[0].Text)
	}
}

func TestFormatSkipsEmptySegmentsEverywhere(t *testing.T) {
	segments := []diarize.Attributed{
		{Segment: asr.Segment{Text: "before"}, Speaker: "SPEAKER_00"},
		{Segment: asr.Segment{Text: "   "}, Speaker: "SPEAKER_01"},
		{Segment: asr.Segment{Text: ""}, Speaker: "SPEAKER_01"},
		{Segment: asr.Segment{Text: "after"}, Speaker: "SPEAKER_01"},
	}

	text, asJSON, utterances := Format(segments)

	if len(utterances) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(utterances))
	}
	if len(asJSON.Utterances) != 2 {
		t.Fatalf("expected 2 json utterances, got %d", len(asJSON.Utterances))
	}
	if strings.Contains(text, "Speaker 1: \n") || strings.Count(text, "\n") != 1 {
		t.Fatalf("empty segments leaked into transcript text: %q", text)
	}
}

func TestFormatWordFiltering(t *testing.T) {
	segments := []diarize.Attributed{
		{
			Segment: asr.Segment{
				Start: 0.12345,
				End:   1.98765,
				Text:  "hello world",
				Words: []asr.Word{
					{Word: "hello", Start: f(0.12345), End: f(0.5), Confidence: f(0.98765)},
					{Word: "world", Start: f(0.6)}, // missing end, dropped
					{Word: "again", End: f(1.9)},   // missing start, dropped
				},
			},
			Speaker: "SPEAKER_00",
		},
	}

	text, _, utterances := Format(segments)

	if len(utterances) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(utterances))
	}
	u := utterances[0]
	if len(u.Words) != 1 {
		t.Fatalf("expected 1 word with full timing, got %d", len(u.Words))
	}
	// The parent segment's text still appears even though words dropped.
	if !strings.Contains(text, "hello world") {
		t.Fatalf("segment text missing from transcript: %q", text)
	}
	if u.Words[0].Start != 0.123 {
		t.Fatalf("expected start rounded to 3 decimals, got %v", u.Words[0].Start)
	}
	if u.Words[0].Confidence != 0.9877 {
		t.Fatalf("expected confidence rounded to 4 decimals, got %v", u.Words[0].Confidence)
	}
	if u.Start != 0.123 || u.End != 1.988 {
		t.Fatalf("expected segment times rounded to 3 decimals, got %v..%v", u.Start, u.End)
	}
	if u.Confidence != 0 {
		t.Fatalf("absent segment confidence must default to 0, got %v", u.Confidence)
	}
}

func TestSpeakerIndexParsing(t *testing.T) {
	cases := map[string]int{
		"SPEAKER_00": 0,
		"SPEAKER_01": 1,
		"SPEAKER_12": 12,
		"":           0,
		"alice":      0,
		"SPEAKER_xx": 0,
	}
	for label, want := range cases {
		if got := speakerIndex(label); got != want {
			t.Errorf("speakerIndex(%q) = %d, want %d", label, got, want)
		}
	}
}

func TestFormatEmptyInput(t *testing.T) {
	text, asJSON, utterances := Format(nil)
	if text != "" {
		t.Fatalf("expected empty transcript, got %q", text)
	}
	if len(asJSON.Utterances) != 0 || len(utterances) != 0 {
		t.Fatal("expected no utterances")
	}
}
