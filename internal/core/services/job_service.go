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

// Package services contains the business logic behind the API surface.
// This file defines the JobService, which accepts video references,
// registers the job record, and hands processing off to the pipeline via
// Pub/Sub.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"github.com/brightclip/video-describe/internal/core/commands"
	"github.com/brightclip/video-describe/internal/core/model"
	"github.com/brightclip/video-describe/internal/store"
)

// DefaultEstimateSeconds is the completion estimate returned to callers on
// submission when no tighter figure is configured.
const DefaultEstimateSeconds = 300

// JobService encapsulates job submission and retrieval. Submission is
// deliberately cheap: validate, write a pending record, publish a dispatch
// message. All heavy work happens in the pipeline behind the subscription.
type JobService struct {
	Jobs            *store.RedisJobStore    // Job record persistence and status transitions.
	Cache           *store.FingerprintCache // Read-only here, for inlined analysis bundles.
	PubsubClient    *pubsub.Client          // Client used to publish dispatch messages.
	TopicID         string                  // Topic the pipeline listens on.
	EstimateSeconds int                     // Seconds added to now for the completion estimate.
}

// Submission is what the caller gets back from a successful Submit.
type Submission struct {
	JobID                   string    `json:"job_id"`
	Status                  string    `json:"status"`
	EstimatedCompletionTime time.Time `json:"estimated_completion_time"`
}

// Submit validates the reference, creates the pending job record, and
// publishes the dispatch message. An invalid reference returns a JobError
// of kind invalid_reference before anything is written.
func (s *JobService) Submit(ctx context.Context, reference string) (*Submission, error) {
	normalized, err := store.NormalizeReference(reference)
	if err != nil {
		return nil, model.NewJobError(model.ErrInvalidReference, err)
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:          uuid.NewString(),
		Reference:   reference,
		Fingerprint: store.Fingerprint(normalized),
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}

	msg := commands.DispatchMessage{JobID: job.ID, Reference: job.Reference}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dispatch message: %w", err)
	}
	result := s.PubsubClient.Topic(s.TopicID).Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		// The record stays pending until its TTL; the caller should retry.
		return nil, fmt.Errorf("failed to publish dispatch for job %s: %w", job.ID, err)
	}

	estimate := s.EstimateSeconds
	if estimate <= 0 {
		estimate = DefaultEstimateSeconds
	}
	return &Submission{
		JobID:                   job.ID,
		Status:                  string(job.Status),
		EstimatedCompletionTime: now.Add(time.Duration(estimate) * time.Second),
	}, nil
}

// Get returns the job record for id. Missing and expired records both
// surface as store.ErrNotFound.
func (s *JobService) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.Jobs.GetJob(ctx, id)
}

// GetAnalysis returns the analysis bundle behind a completed job, looked up
// from the fingerprint cache. Nil without error when the cache no longer
// holds it; the bundle is a byproduct, not part of the durable record.
func (s *JobService) GetAnalysis(ctx context.Context, job *model.Job) (*model.AnalysisBundle, error) {
	if s.Cache == nil || job.Fingerprint == "" {
		return nil, nil
	}
	entry, err := s.Cache.Get(ctx, job.Fingerprint)
	if err != nil || entry == nil {
		return nil, err
	}
	return &entry.Bundle, nil
}

// ListByStatus returns up to limit jobs in the given status, oldest first.
func (s *JobService) ListByStatus(ctx context.Context, status model.JobStatus, limit int64) ([]*model.Job, error) {
	return s.Jobs.ListByStatus(ctx, status, limit)
}
