package jobs

import (
	"fmt"
	"time"

	"github.com/mkang/shadowclip/internal/clip"
	"github.com/mkang/shadowclip/internal/subtitle"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ErrorKind classifies a job failure.
type ErrorKind string

const (
	ErrInputInvalid      ErrorKind = "input-invalid"
	ErrToolMissing       ErrorKind = "tool-missing"
	ErrToolFailed        ErrorKind = "tool-failed"
	ErrToolTimeout       ErrorKind = "tool-timeout"
	ErrResourceExhausted ErrorKind = "resource-exhausted"
	ErrCancelled         ErrorKind = "cancelled"
)

// JobError is the structured failure recorded on a job. Detail is a
// truncated diagnostic, never raw encoder stderr.
type JobError struct {
	Kind ErrorKind `json:"kind"`
	// PrimitiveIndex is the failing primitive's position, or -1 when the
	// failure precedes primitive rendering.
	PrimitiveIndex int    `json:"primitive_index"`
	Detail         string `json:"detail"`
}

func (e *JobError) Error() string {
	if e.PrimitiveIndex >= 0 {
		return fmt.Sprintf("%s at primitive %d: %s", e.Kind, e.PrimitiveIndex, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Segment is one source time range with its subtitle record.
type Segment struct {
	Start  float64         `json:"start"`
	End    float64         `json:"end"`
	Record subtitle.Record `json:"record"`
}

// Request is one submitted unit of work.
type Request struct {
	TemplateID int     `json:"template_id"`
	Source     string  `json:"source"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`

	Record subtitle.Record `json:"record"`
	// Records feeds continuous templates.
	Records []subtitle.Record `json:"records,omitempty"`

	// Segments switches the job to batch mode: each segment is rendered as
	// its own clip and the results are merged into one lesson file.
	Segments []Segment `json:"segments,omitempty"`
	// PreviewTemplate and ReviewTemplate optionally wrap a batch with study
	// clips rendered from the first and last segments. 0 disables them.
	PreviewTemplate int `json:"preview_template,omitempty"`
	ReviewTemplate  int `json:"review_template,omitempty"`

	// PaddingBefore and PaddingAfter widen the rendered segment. nil applies
	// the 0.5s defaults.
	PaddingBefore *float64 `json:"padding_before,omitempty"`
	PaddingAfter  *float64 `json:"padding_after,omitempty"`

	Fit clip.FitMode `json:"fit,omitempty"`
	// KeepClips retains the individual primitive clips next to the output.
	KeepClips bool   `json:"keep_clips,omitempty"`
	Title1    string `json:"title1,omitempty"`
	Title2    string `json:"title2,omitempty"`

	// DedupeKey suppresses duplicate submissions while an identical job is
	// still active. Empty disables deduplication.
	DedupeKey string `json:"dedupe_key,omitempty"`
}

// Job is the coordinator's record of one request.
type Job struct {
	ID         string    `json:"id"`
	Request    Request   `json:"request"`
	Status     Status    `json:"status"`
	Progress   int       `json:"progress"`
	OutputPath string    `json:"output_path,omitempty"`
	Error      *JobError `json:"error,omitempty"`
	// Checkpoint counts completed primitives for restart resume.
	Checkpoint int       `json:"checkpoint"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	if job.Error != nil {
		errCopy := *job.Error
		tmp.Error = &errCopy
	}
	return &tmp
}
