package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobType enumerates supported generation job categories.
type JobType string

const (
	JobTypeImage   JobType = "image"
	JobTypeVideo   JobType = "video"
	JobTypePreview JobType = "preview"
	JobTypeEnhance JobType = "enhance"
)

// ParseJobType normalizes free-form input into a supported job type.
func ParseJobType(raw string) (JobType, error) {
	switch t := JobType(strings.ToLower(strings.TrimSpace(raw))); t {
	case JobTypeImage, JobTypeVideo, JobTypePreview, JobTypeEnhance:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidJobType, raw)
	}
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusUploading  JobStatus = "uploading"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ParseJobStatus validates a status reported by the worker or stored in the database.
func ParseJobStatus(raw string) (JobStatus, error) {
	switch s := JobStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case JobStatusQueued, JobStatusProcessing, JobStatusUploading, JobStatusCompleted, JobStatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown job status %q", raw)
	}
}

// IsTerminal reports whether no further transition may be recorded.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Rank orders statuses along the lifecycle so observers can reject regressions.
func (s JobStatus) Rank() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusUploading:
		return 2
	case JobStatusCompleted, JobStatusFailed:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
// Same-state moves are allowed for non-terminal states so metadata can be merged.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case JobStatusQueued:
		switch next {
		case JobStatusQueued, JobStatusProcessing, JobStatusUploading, JobStatusCompleted, JobStatusFailed:
			return true
		}
	case JobStatusProcessing:
		switch next {
		case JobStatusProcessing, JobStatusUploading, JobStatusCompleted, JobStatusFailed:
			return true
		}
	case JobStatusUploading:
		switch next {
		case JobStatusUploading, JobStatusCompleted, JobStatusFailed:
			return true
		}
	}
	return false
}

// Job encapsulates the lifecycle of a single generation request.
type Job struct {
	ID                 string
	OwnerID            string
	Type               JobType
	Status             JobStatus
	TargetEntityID     string
	WorkspaceSessionID string
	Request            []byte
	Metadata           Metadata
	ErrorMessage       string
	DerivedAssetID     *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
}

// Kind returns the closed variant for the job's type.
func (j *Job) Kind() (JobKind, error) {
	switch j.Type {
	case JobTypeImage:
		return ImageJob{Job: j}, nil
	case JobTypeVideo:
		return VideoJob{Job: j}, nil
	case JobTypePreview:
		return PreviewJob{Job: j, CharacterID: j.TargetEntityID}, nil
	case JobTypeEnhance:
		return EnhanceJob{Job: j}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobType, j.Type)
	}
}

// JobKind is the closed set of job variants. The unexported method keeps the
// set sealed to this package so type switches over it stay exhaustive.
type JobKind interface {
	jobKind()
	Base() *Job
}

// ImageJob produces a still image tracked by an images record.
type ImageJob struct{ Job *Job }

// VideoJob produces a clip tracked by a videos record.
type VideoJob struct{ Job *Job }

// PreviewJob renders a character preview; the derived record is the character itself.
type PreviewJob struct {
	Job         *Job
	CharacterID string
}

// EnhanceJob rewrites a prompt; its output lives in job metadata.
type EnhanceJob struct{ Job *Job }

func (ImageJob) jobKind()   {}
func (VideoJob) jobKind()   {}
func (PreviewJob) jobKind() {}
func (EnhanceJob) jobKind() {}

func (k ImageJob) Base() *Job   { return k.Job }
func (k VideoJob) Base() *Job   { return k.Job }
func (k PreviewJob) Base() *Job { return k.Job }
func (k EnhanceJob) Base() *Job { return k.Job }

// JobPatch carries the optional fields merged during a status update.
type JobPatch struct {
	Metadata       Metadata
	ErrorMessage   *string
	DerivedAssetID *string
}

// Transition reports the outcome of a status update.
type Transition struct {
	Job             *Job
	From            JobStatus
	AlreadyTerminal bool
}

// Metadata is the open key-value map attached to a job.
type Metadata map[string]any

// Merge returns a copy of m with patch applied on top. Keys absent from the
// patch are kept.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := make(Metadata, len(m)+len(patch))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Int64 returns the integer stored under key. Numbers decoded from JSON,
// native ints and numeric strings are accepted.
func (m Metadata) Int64(key string) (int64, bool) {
	switch n := m[key].(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

// Float64 is like Int64 for fractional values.
func (m Metadata) Float64(key string) (float64, bool) {
	switch n := m[key].(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// String returns the string value stored under key, if any.
func (m Metadata) String(key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
