package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tapenotes/transcriberd/internal/asr"
	"github.com/tapenotes/transcriberd/internal/config"
	"github.com/tapenotes/transcriberd/internal/diarize"
	"github.com/tapenotes/transcriberd/internal/media"
	"github.com/tapenotes/transcriberd/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeDownloader struct {
	err   error
	calls int
}

func (f *fakeDownloader) Download(_ context.Context, _ string, dest string) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if err := os.WriteFile(dest, []byte("raw media"), 0o644); err != nil {
		return 0, err
	}
	return 9, nil
}

type fakeConverter struct {
	duration float64
	err      error
}

func (f *fakeConverter) ToWAV(_ context.Context, _ string, scratchDir, recordingID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	wavPath := filepath.Join(scratchDir, recordingID+"_audio.wav")
	if err := os.WriteFile(wavPath, []byte("wav"), 0o644); err != nil {
		return "", err
	}
	return wavPath, nil
}

func (f *fakeConverter) ProbeDuration(_ context.Context, _ string) float64 {
	return f.duration
}

type failingTranscriber struct{ err error }

func (f *failingTranscriber) Transcribe(context.Context, string, string, string) ([]asr.Segment, string, error) {
	return nil, "", f.err
}

func (f *failingTranscriber) Warm() bool { return false }

type unconfiguredDiarizer struct{}

func (unconfiguredDiarizer) Diarize(_ context.Context, _ string, segments []asr.Segment, _ int) (diarize.Result, error) {
	return diarize.Degrade(segments, "not configured"), nil
}

func (unconfiguredDiarizer) Warm() bool { return false }

type spyDiarizer struct {
	hints []int
	turns []diarize.Turn
}

func (s *spyDiarizer) Diarize(_ context.Context, _ string, segments []asr.Segment, numSpeakers int) (diarize.Result, error) {
	s.hints = append(s.hints, numSpeakers)
	return diarize.Result{Segments: diarize.AssignSpeakers(segments, s.turns)}, nil
}

func (s *spyDiarizer) Warm() bool { return true }

type spyNotifier struct {
	envelopes []protocol.ResultEnvelope
}

func (s *spyNotifier) Notify(_ context.Context, _ string, _ string, envelope protocol.ResultEnvelope) {
	s.envelopes = append(s.envelopes, envelope)
}

func testOrchestrator(t *testing.T, deps Deps) (*Orchestrator, string) {
	t.Helper()
	cfg := config.Default()
	scratch := t.TempDir()
	cfg.Download.ScratchDir = scratch
	o := New(cfg, deps, newLogger())

	// Deterministic clock: each reading advances five seconds.
	var ticks int64
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	o.clock = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks-1) * 5 * time.Second)
	}
	return o, scratch
}

func threeSegments() []asr.Segment {
	return []asr.Segment{
		{Start: 0, End: 2, Text: "Good morning everyone."},
		{Start: 2, End: 4, Text: "Let's get started."},
		{Start: 4, End: 6, Text: "First item on the agenda."},
	}
}

func baseRequest() protocol.JobRequest {
	return protocol.JobRequest{
		RecordingID:    "rec-test",
		AudioURL:       "https://cdn.example.com/rec-test.mp3",
		CallbackURL:    "https://callbacks.example.com/done",
		CallbackSecret: "secret",
	}
}

func TestRunSuccessWithDegradedDiarization(t *testing.T) {
	notifier := &spyNotifier{}
	o, scratch := testOrchestrator(t, Deps{
		Downloader:  &fakeDownloader{},
		Converter:   &fakeConverter{duration: 42.5},
		Transcriber: asr.NewMockEngine(threeSegments(), "en"),
		Diarizer:    unconfiguredDiarizer{},
		Notifier:    notifier,
	})

	envelope := o.Run(context.Background(), baseRequest())

	if envelope.Status != protocol.StatusSuccess {
		t.Fatalf("expected success, got %q (%s)", envelope.Status, envelope.Error)
	}
	if len(envelope.TranscriptUtterances) != 3 {
		t.Fatalf("expected 3 utterances, got %d", len(envelope.TranscriptUtterances))
	}
	if envelope.SpeakerCount != 1 {
		t.Fatalf("expected speaker_count 1 in degraded mode, got %d", envelope.SpeakerCount)
	}
	for _, u := range envelope.TranscriptUtterances {
		if u.Speaker != 0 {
			t.Fatalf("degraded mode must assign speaker 0, got %d", u.Speaker)
		}
	}
	if envelope.DurationSeconds != 42.5 {
		t.Fatalf("expected probed duration, got %v", envelope.DurationSeconds)
	}
	if envelope.Language != "en" {
		t.Fatalf("expected detected language, got %q", envelope.Language)
	}

	lines := strings.Split(envelope.TranscriptText, "\n")
	if len(lines) != len(envelope.TranscriptUtterances) {
		t.Fatalf("transcript lines %d != utterances %d", len(lines), len(envelope.TranscriptUtterances))
	}
	if envelope.TranscriptJSON == nil || len(envelope.TranscriptJSON.Utterances) != 3 {
		t.Fatal("transcript_json must carry the same utterances")
	}
	if want := len(strings.Fields(envelope.TranscriptText)); envelope.WordCount != want {
		t.Fatalf("word_count %d != whitespace tokens %d", envelope.WordCount, want)
	}
	if envelope.ProcessingSeconds <= 0 {
		t.Fatalf("expected positive processing_seconds, got %d", envelope.ProcessingSeconds)
	}

	if len(notifier.envelopes) != 1 {
		t.Fatalf("expected exactly one callback, got %d", len(notifier.envelopes))
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected scratch cleaned up, found %v", entries)
	}
}

func TestRunTranscriptionFailure(t *testing.T) {
	notifier := &spyNotifier{}
	o, scratch := testOrchestrator(t, Deps{
		Downloader:  &fakeDownloader{},
		Converter:   &fakeConverter{},
		Transcriber: &failingTranscriber{err: &asr.TranscriptionError{Model: "medium", Err: errors.New("engine crashed")}},
		Diarizer:    unconfiguredDiarizer{},
		Notifier:    notifier,
	})

	envelope := o.Run(context.Background(), baseRequest())

	if envelope.Status != protocol.StatusError {
		t.Fatalf("expected error status, got %q", envelope.Status)
	}
	if envelope.Error == "" {
		t.Fatal("expected populated error message")
	}
	if envelope.TranscriptText != "" || envelope.TranscriptUtterances != nil || envelope.TranscriptJSON != nil {
		t.Fatal("failure envelope must not carry transcript fields")
	}
	if envelope.ProcessingSeconds <= 0 {
		t.Fatalf("expected processing_seconds on failure, got %d", envelope.ProcessingSeconds)
	}
	if len(notifier.envelopes) != 1 {
		t.Fatalf("expected exactly one callback, got %d", len(notifier.envelopes))
	}

	// Cleanup still ran for the files earlier stages produced.
	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected scratch cleaned up after failure, found %v", entries)
	}
}

func TestRunForwardsSpeakerHintOnce(t *testing.T) {
	diarizer := &spyDiarizer{turns: []diarize.Turn{
		{Speaker: "SPEAKER_00", Start: 0, End: 3},
		{Speaker: "SPEAKER_01", Start: 3, End: 6},
	}}
	notifier := &spyNotifier{}
	o, _ := testOrchestrator(t, Deps{
		Downloader:  &fakeDownloader{},
		Converter:   &fakeConverter{},
		Transcriber: asr.NewMockEngine(threeSegments(), "en"),
		Diarizer:    diarizer,
		Notifier:    notifier,
	})

	req := baseRequest()
	req.NumSpeakers = 2
	envelope := o.Run(context.Background(), req)

	if len(diarizer.hints) != 1 || diarizer.hints[0] != 2 {
		t.Fatalf("expected hint forwarded exactly once, got %v", diarizer.hints)
	}
	if envelope.SpeakerCount != 2 {
		t.Fatalf("expected 2 speakers, got %d", envelope.SpeakerCount)
	}
}

func TestRunNoSourceReference(t *testing.T) {
	downloader := &fakeDownloader{}
	notifier := &spyNotifier{}
	o, _ := testOrchestrator(t, Deps{
		Downloader:  downloader,
		Converter:   &fakeConverter{},
		Transcriber: asr.NewMockEngine(nil, "en"),
		Diarizer:    unconfiguredDiarizer{},
		Notifier:    notifier,
	})

	req := baseRequest()
	req.AudioURL = ""
	req.VideoURL = ""
	envelope := o.Run(context.Background(), req)

	if envelope.Status != protocol.StatusError {
		t.Fatalf("expected error status, got %q", envelope.Status)
	}
	if !strings.Contains(envelope.Error, "no audio_url or video_url") {
		t.Fatalf("unexpected error: %q", envelope.Error)
	}
	if downloader.calls != 0 {
		t.Fatal("pipeline must not start without a source reference")
	}
	if len(notifier.envelopes) != 1 {
		t.Fatalf("expected exactly one callback, got %d", len(notifier.envelopes))
	}
}

func TestRunDownloadFailureIsFatal(t *testing.T) {
	notifier := &spyNotifier{}
	o, _ := testOrchestrator(t, Deps{
		Downloader:  &fakeDownloader{err: &media.DownloadError{URL: "u", Err: errors.New("404")}},
		Converter:   &fakeConverter{},
		Transcriber: asr.NewMockEngine(threeSegments(), "en"),
		Diarizer:    unconfiguredDiarizer{},
		Notifier:    notifier,
	})

	envelope := o.Run(context.Background(), baseRequest())

	if envelope.Status != protocol.StatusError {
		t.Fatalf("expected error status, got %q", envelope.Status)
	}
	if len(notifier.envelopes) != 1 {
		t.Fatalf("expected exactly one callback, got %d", len(notifier.envelopes))
	}
}

func TestRunEmptyTranscriptionIsSuccess(t *testing.T) {
	notifier := &spyNotifier{}
	o, _ := testOrchestrator(t, Deps{
		Downloader:  &fakeDownloader{},
		Converter:   &fakeConverter{duration: 3.0},
		Transcriber: asr.NewMockEngine(nil, "en"),
		Diarizer:    unconfiguredDiarizer{},
		Notifier:    notifier,
	})

	envelope := o.Run(context.Background(), baseRequest())

	if envelope.Status != protocol.StatusSuccess {
		t.Fatalf("silence must be success, got %q (%s)", envelope.Status, envelope.Error)
	}
	if envelope.WordCount != 0 || envelope.SpeakerCount != 0 {
		t.Fatalf("expected empty counts, got words=%d speakers=%d", envelope.WordCount, envelope.SpeakerCount)
	}
	if envelope.TranscriptText != "" {
		t.Fatalf("expected empty transcript, got %q", envelope.TranscriptText)
	}
}

type panickyTranscriber struct{}

func (panickyTranscriber) Transcribe(context.Context, string, string, string) ([]asr.Segment, string, error) {
	panic("model tensor mismatch")
}

func (panickyTranscriber) Warm() bool { return false }

func TestRunPanicStillNotifies(t *testing.T) {
	notifier := &spyNotifier{}
	o, _ := testOrchestrator(t, Deps{
		Downloader:  &fakeDownloader{},
		Converter:   &fakeConverter{},
		Transcriber: panickyTranscriber{},
		Diarizer:    unconfiguredDiarizer{},
		Notifier:    notifier,
	})

	envelope := o.Run(context.Background(), baseRequest())

	if envelope.Status != protocol.StatusError {
		t.Fatalf("expected error status, got %q", envelope.Status)
	}
	if !strings.Contains(envelope.Error, "panic") {
		t.Fatalf("expected panic error, got %q", envelope.Error)
	}
	if len(notifier.envelopes) != 1 {
		t.Fatalf("expected exactly one callback after panic, got %d", len(notifier.envelopes))
	}
}
