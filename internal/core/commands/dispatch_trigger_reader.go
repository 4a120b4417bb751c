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

package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brightclip/video-describe/internal/core/cor"
	"github.com/brightclip/video-describe/internal/core/model"
	"github.com/brightclip/video-describe/internal/store"
)

// DispatchMessage is the JSON payload published by the submission handler
// and consumed from the dispatch subscription.
type DispatchMessage struct {
	JobID     string `json:"job_id"`
	Reference string `json:"reference"`
}

// DispatchTriggerReader parses the dispatch message, loads the job record,
// and computes the reference fingerprint the cache lookup keys on. A job
// that is no longer pending has already been picked up by another delivery
// of the same message; the chain aborts rather than processing twice.
type DispatchTriggerReader struct {
	cor.BaseCommand
	jobs *store.RedisJobStore
}

// NewDispatchTriggerReader creates the trigger reader backed by the given
// job store.
func NewDispatchTriggerReader(name string, jobs *store.RedisJobStore) *DispatchTriggerReader {
	return &DispatchTriggerReader{BaseCommand: *cor.NewBaseCommand(name), jobs: jobs}
}

// Execute decodes the message and loads the job into the context.
func (c *DispatchTriggerReader) Execute(context cor.Context) {
	raw := context.Get(c.GetInputParam()).(string)

	var msg DispatchMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("malformed dispatch message: %w", err))
		return
	}
	if msg.JobID == "" || msg.Reference == "" {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("dispatch message missing job_id or reference"))
		return
	}

	job, err := c.jobs.GetJob(context.GetContext(), msg.JobID)
	if errors.Is(err, store.ErrNotFound) {
		// The record expired before processing started. Nothing to update.
		context.Abort("job " + msg.JobID + " no longer exists")
		return
	}
	if err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), err)
		return
	}
	if job.Status != model.StatusPending {
		context.Abort("job " + job.ID + " already in status " + string(job.Status))
		return
	}

	if job.Fingerprint == "" {
		if normalized, err := store.NormalizeReference(job.Reference); err == nil {
			job.Fingerprint = store.Fingerprint(normalized)
		}
	}

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(GetJobParameterName(), job)
	context.Add(c.GetOutputParam(), job)
}
