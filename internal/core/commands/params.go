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

// Package commands implements the pipeline steps of the video description
// workflow as Chain of Responsibility commands. Each command reads its
// inputs from well-known context keys, performs one stage, and records its
// outputs for the stages downstream.
package commands

import (
	"errors"

	"github.com/brightclip/video-describe/internal/core/cor"
	"github.com/brightclip/video-describe/internal/core/model"
	"github.com/brightclip/video-describe/internal/store"
)

// GetJobParameterName returns the context key holding the *model.Job being
// processed.
func GetJobParameterName() string {
	return "__JOB__"
}

// GetStagedObjectParameterName returns the context key holding the
// *cloud.StagedObject for the fetched video.
func GetStagedObjectParameterName() string {
	return "__STAGED_OBJECT__"
}

// GetBundleParameterName returns the context key holding the
// *model.AnalysisBundle produced by the fan-out or the cache.
func GetBundleParameterName() string {
	return "__ANALYSIS_BUNDLE__"
}

// GetSynthesisParameterName returns the context key holding the completed
// *synth.Output.
func GetSynthesisParameterName() string {
	return "__SYNTHESIS__"
}

// advanceJob performs the conditional status write moving job to target and
// reconciles the outcome with the chain:
//   - success updates the in-memory job and returns true;
//   - a lost conditional write (or a record that expired mid-flight) aborts
//     the chain without error, since another writer owns the job now;
//   - anything else records an error and returns false.
func advanceJob(chainCtx cor.Context, jobs *store.RedisJobStore, job *model.Job, target model.JobStatus, commandName string) bool {
	from := job.Status
	job.Status = target
	err := jobs.UpdateStatus(chainCtx.GetContext(), job, from)
	if err == nil {
		return true
	}

	job.Status = from
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		chainCtx.Abort("lost conditional write moving job " + job.ID + " to " + string(target))
		return false
	}
	chainCtx.AddError(commandName, err)
	return false
}
