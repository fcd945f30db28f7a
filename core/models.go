package core

import (
	"time"
)

// ========== Media structures ==========

type Frame struct {
	Index        int     `json:"index"`
	TimestampSec float64 `json:"timestamp_sec"`
	Path         string  `json:"path"`
}

type VideoInfo struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	HasAudio bool    `json:"has_audio"`
}

// ========== Analysis structures ==========

// Utterance is one diarized, role-resolved span of speech.
// Utterances are sorted by Start and non-overlapping per speaker.
type Utterance struct {
	Speaker    int     `json:"speaker"`
	Role       string  `json:"role"`
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// FrameObservation is the vision-inference output for one retained frame.
// Immutable once created.
type FrameObservation struct {
	TimestampSec float64  `json:"timestamp_sec"`
	Text         string   `json:"text"`
	Tags         []string `json:"tags,omitempty"`
}

type Severity string

const (
	SeverityPositive Severity = "positive"
	SeverityNeutral  Severity = "neutral"
	SeverityWarning  Severity = "warning"
)

type TimelineEvent struct {
	TimeSec     float64  `json:"time_sec"`
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

type DomainScore struct {
	Domain    string          `json:"domain"`
	Score     float64         `json:"score"` // 0-10
	Criteria  map[string]bool `json:"criteria,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	Heuristic bool            `json:"heuristic,omitempty"` // true when the local fallback scored this domain
}

type Report struct {
	JobID        string             `json:"job_id"`
	VideoPath    string             `json:"video_path"`
	ContentKey   string             `json:"content_key"`
	DurationSec  float64            `json:"duration_sec"`
	Utterances   []Utterance        `json:"utterances"`
	Observations []FrameObservation `json:"observations"`
	Events       []TimelineEvent    `json:"events"`
	Domains      []DomainScore      `json:"domains"`
	OverallScore float64            `json:"overall_score"`
	MaxScore     float64            `json:"max_score"`
	Percentage   float64            `json:"percentage"`
	Grade        string             `json:"grade"`
	Feedback     []string           `json:"feedback"`
	CreatedAt    time.Time          `json:"created_at"`
}

// ========== Job structures ==========

type Stage string

const (
	StageAudioExtraction Stage = "audio_extraction"
	StageTranscription   Stage = "transcription"
	StageVideoAnalysis   Stage = "video_analysis"
	StageScoring         Stage = "behavioral_scoring"
	StageComplete        Stage = "complete"
	StageError           Stage = "error"
)

// Job tracks one pipeline run. Mutated only by its coordinator task;
// read concurrently by polling callers.
type Job struct {
	ID           string             `json:"id"`
	VideoPath    string             `json:"video_path"`
	ContentKey   string             `json:"content_key"`
	Stage        Stage              `json:"stage"`
	Progress     int                `json:"progress"`
	Utterances   []Utterance        `json:"utterances,omitempty"`
	Observations []FrameObservation `json:"observations,omitempty"`
	Report       *Report            `json:"report,omitempty"`
	Error        string             `json:"error,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	CompletedAt  time.Time          `json:"completed_at,omitempty"`
}

func (j *Job) Terminal() bool {
	return j.Stage == StageComplete || j.Stage == StageError
}

// PartialResults is what polling clients see while a job is running.
type PartialResults struct {
	UtteranceCount   int `json:"utterance_count"`
	ObservationCount int `json:"observation_count"`
}

type JobStatus struct {
	JobID        string         `json:"job_id"`
	Stage        Stage          `json:"stage"`
	Progress     int            `json:"progress"`
	Partial      PartialResults `json:"partial_results"`
	IsComplete   bool           `json:"is_complete"`
	Error        string         `json:"error,omitempty"`
	FinalResults *Report        `json:"final_results,omitempty"`
}

// ========== Session structures ==========

type SessionSummary struct {
	JobID        string    `json:"job_id"`
	VideoPath    string    `json:"video_path"`
	OverallScore float64   `json:"overall_score"`
	Percentage   float64   `json:"percentage"`
	Grade        string    `json:"grade"`
	CreatedAt    time.Time `json:"created_at"`
}

type SessionHit struct {
	JobID   string  `json:"job_id"`
	Score   float64 `json:"score"` // similarity score
	Grade   string  `json:"grade"`
	Summary string  `json:"summary"`
}
