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
	"time"

	"github.com/brightclip/video-describe/internal/core/cor"
	"github.com/brightclip/video-describe/internal/core/model"
	"github.com/brightclip/video-describe/internal/core/synth"
	"github.com/brightclip/video-describe/internal/store"
)

// PersistResult assembles the caller-facing result and completes the job
// with one final conditional write. On a cache hit the job jumps here
// straight from pending; the lifecycle permits any forward move into a
// terminal state.
type PersistResult struct {
	cor.BaseCommand
	jobs *store.RedisJobStore
}

// NewPersistResult creates the completion command.
func NewPersistResult(name string, jobs *store.RedisJobStore) *PersistResult {
	return &PersistResult{BaseCommand: *cor.NewBaseCommand(name), jobs: jobs}
}

// IsExecutable requires a synthesis output and a bundle.
func (c *PersistResult) IsExecutable(context cor.Context) bool {
	return context.Get(GetJobParameterName()) != nil &&
		context.Get(GetBundleParameterName()) != nil &&
		context.Get(GetSynthesisParameterName()) != nil
}

// Execute writes the completed job record.
func (c *PersistResult) Execute(context cor.Context) {
	job := context.Get(GetJobParameterName()).(*model.Job)
	bundle := context.Get(GetBundleParameterName()).(*model.AnalysisBundle)
	out := context.Get(GetSynthesisParameterName()).(*synth.Output)

	now := time.Now().UTC()
	result := &model.Result{
		Description:       out.Description,
		Confidence:        out.Confidence,
		ModelID:           out.ModelID,
		HasTranscript:     bundle.HasTranscript(),
		DurationSeconds:   bundle.Visual.DurationSeconds,
		ProcessingSeconds: now.Sub(job.CreatedAt).Seconds(),
	}
	if bundle.HasTranscript() {
		result.TranscriptLanguage = bundle.Transcript.LanguageCode
	}

	job.Result = result
	job.CompletedAt = &now

	if !advanceJob(context, c.jobs, job, model.StatusCompleted, c.GetName()) {
		job.Result = nil
		job.CompletedAt = nil
		return
	}

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(c.GetOutputParam(), job)
}
