package asr

import "context"

type mockEngine struct {
	segments []Segment
	language string
}

// NewMockEngine returns an engine with canned output, for tests and
// mode=mock deployments.
func NewMockEngine(segments []Segment, language string) Engine {
	return &mockEngine{segments: segments, language: language}
}

func (m *mockEngine) Transcribe(_ context.Context, _ string, _ string, language string) ([]Segment, string, error) {
	detected := m.language
	if detected == "" {
		detected = language
	}
	if detected == "" {
		detected = "en"
	}
	return m.segments, detected, nil
}

func (m *mockEngine) Warm() bool { return true }
