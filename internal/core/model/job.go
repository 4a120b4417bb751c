// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package model defines the core data structures for the video description
// service: the persistent job record and its status machine, the error
// taxonomy shared by every stage, and the analysis bundle that flows through
// the pipeline.
package model

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a video description job. Statuses form
// a strict progression; a job never moves backward and never leaves a
// terminal state. The store enforces this with conditional writes, so the
// ordering here is part of the persistence contract.
type JobStatus string

const (
	StatusPending      JobStatus = "pending"
	StatusDownloading  JobStatus = "downloading"
	StatusAnalyzing    JobStatus = "analyzing"
	StatusSynthesizing JobStatus = "synthesizing"
	StatusCompleted    JobStatus = "completed"
	StatusFailed       JobStatus = "failed"
)

// statusRanks orders the lifecycle. Terminal states share the top rank so
// neither can overwrite the other.
var statusRanks = map[JobStatus]int{
	StatusPending:      0,
	StatusDownloading:  1,
	StatusAnalyzing:    2,
	StatusSynthesizing: 3,
	StatusCompleted:    4,
	StatusFailed:       4,
}

// Rank returns the position of the status in the lifecycle, or -1 for an
// unknown status.
func (s JobStatus) Rank() int {
	if r, ok := statusRanks[s]; ok {
		return r
	}
	return -1
}

// IsTerminal reports whether the status ends the lifecycle.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseJobStatus validates a raw status string, typically one arriving on an
// HTTP query parameter.
func ParseJobStatus(raw string) (JobStatus, error) {
	s := JobStatus(raw)
	if s.Rank() < 0 {
		return "", fmt.Errorf("unknown job status %q", raw)
	}
	return s, nil
}

// ErrorKind classifies a job failure. The kind is persisted with the job so
// callers can distinguish a bad submission from a provider outage without
// parsing message text.
type ErrorKind string

const (
	ErrInvalidReference ErrorKind = "invalid_reference"
	ErrTooLarge         ErrorKind = "video_too_large"
	ErrUnreachable      ErrorKind = "unreachable"
	ErrFetchFailed      ErrorKind = "fetch_failed"
	ErrAnalysisProvider ErrorKind = "analysis_provider_error"
	ErrSynthesis        ErrorKind = "synthesis_error"
	ErrTimeout          ErrorKind = "timeout"
	ErrStoreConflict    ErrorKind = "store_conflict"
	ErrInternal         ErrorKind = "internal_error"
)

// JobError carries an ErrorKind alongside the underlying cause. Stages wrap
// their failures in a JobError so the pipeline's failure handler can persist
// the kind without inspecting stage internals.
type JobError struct {
	Kind ErrorKind
	Err  error
}

// NewJobError wraps err with a failure classification.
func NewJobError(kind ErrorKind, err error) *JobError {
	return &JobError{Kind: kind, Err: err}
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from an error chain, defaulting to
// ErrInternal when no JobError is present.
func KindOf(err error) ErrorKind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return ErrInternal
}

// Job is the persistent record of one description request. It is stored as a
// JSON document in Redis and expires after the configured job TTL.
type Job struct {
	ID          string     `json:"id"`
	Reference   string     `json:"reference"`       // Video reference URL as submitted.
	Fingerprint string     `json:"fingerprint"`     // Content fingerprint of the normalized reference.
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CacheHit    bool       `json:"cache_hit"`                // True when analysis was served from the fingerprint cache.
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`     // Set only on failed jobs.
	ErrorDetail string     `json:"error_detail,omitempty"`   // Human-readable failure detail.
	Result      *Result    `json:"result,omitempty"`         // Set only on completed jobs.
}

// Result is the caller-facing outcome of a completed job.
type Result struct {
	Description        string  `json:"description"`
	Confidence         float64 `json:"confidence"` // Composite score in [0, 1].
	ModelID            string  `json:"model_id"`
	HasTranscript      bool    `json:"has_transcript"`
	TranscriptLanguage string  `json:"transcript_language,omitempty"`
	DurationSeconds    float64 `json:"duration_seconds,omitempty"` // Video length, when the analyzer reports it.
	ProcessingSeconds  float64 `json:"processing_seconds"`         // Wall-clock time from submission to completion.
}
