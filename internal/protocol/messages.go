package protocol

import "encoding/json"

// JobRequest is the payload accepted on POST /transcribe.
type JobRequest struct {
	RecordingID    string `json:"recording_id"`
	AudioURL       string `json:"audio_url,omitempty"`
	VideoURL       string `json:"video_url,omitempty"`
	CallbackURL    string `json:"callback_url"`
	CallbackSecret string `json:"callback_secret"`
	Language       string `json:"language,omitempty"`
	ModelSize      string `json:"model_size,omitempty"`
	NumSpeakers    int    `json:"num_speakers,omitempty"`
}

// SourceURL returns the media reference for the job, preferring audio
// over video (smaller file, faster download). Empty when neither is set.
func (r JobRequest) SourceURL() string {
	if r.AudioURL != "" {
		return r.AudioURL
	}
	return r.VideoURL
}

// WordTiming is a word-level timestamp entry in an utterance.
type WordTiming struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Utterance is a speaker-attributed transcript unit ready for delivery.
type Utterance struct {
	Speaker    int          `json:"speaker"`
	Start      float64      `json:"start"`
	End        float64      `json:"end"`
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Words      []WordTiming `json:"words"`
}

// TranscriptJSON wraps the utterance list for the transcript_json field.
type TranscriptJSON struct {
	Utterances []Utterance `json:"utterances"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ResultEnvelope is delivered to the callback URL when a job finishes.
// ProcessingSeconds is set on both success and error paths.
type ResultEnvelope struct {
	RecordingID          string          `json:"recording_id"`
	Status               string          `json:"status"`
	Error                string          `json:"error,omitempty"`
	TranscriptText       string          `json:"transcript_text,omitempty"`
	TranscriptJSON       *TranscriptJSON `json:"transcript_json,omitempty"`
	TranscriptUtterances []Utterance     `json:"transcript_utterances,omitempty"`
	DurationSeconds      float64         `json:"duration_seconds,omitempty"`
	Language             string          `json:"language,omitempty"`
	WordCount            int             `json:"word_count,omitempty"`
	SpeakerCount         int             `json:"speaker_count,omitempty"`
	ProcessingSeconds    int64           `json:"processing_seconds"`
}

// Marshal returns the canonical byte representation used both for
// callback delivery and for signing.
func (e ResultEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Bus subjects for job lifecycle events.
const (
	SubjectJobAccepted  = "transcribe.job.accepted"
	SubjectJobCompleted = "transcribe.job.completed"
)

// JobEvent is published on the bus when a job is accepted or completed.
type JobEvent struct {
	RecordingID       string `json:"recording_id"`
	Status            string `json:"status,omitempty"`
	Error             string `json:"error,omitempty"`
	ProcessingSeconds int64  `json:"processing_seconds,omitempty"`
}
