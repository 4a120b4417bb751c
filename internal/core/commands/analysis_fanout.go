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
	"github.com/brightclip/video-describe/internal/cloud"
	"github.com/brightclip/video-describe/internal/core/analysis"
	"github.com/brightclip/video-describe/internal/core/cor"
	"github.com/brightclip/video-describe/internal/core/model"
	"github.com/brightclip/video-describe/internal/store"
)

// AnalyzeContent moves the job to analyzing and runs the analysis fan-out
// over the staged video. Skipped when a cache hit already provided the
// bundle.
type AnalyzeContent struct {
	cor.BaseCommand
	jobs   *store.RedisJobStore
	fanout *analysis.FanOut
}

// NewAnalyzeContent creates the analysis command.
func NewAnalyzeContent(name string, jobs *store.RedisJobStore, fanout *analysis.FanOut) *AnalyzeContent {
	return &AnalyzeContent{BaseCommand: *cor.NewBaseCommand(name), jobs: jobs, fanout: fanout}
}

// IsExecutable requires a staged object and no bundle yet.
func (c *AnalyzeContent) IsExecutable(context cor.Context) bool {
	return context.Get(GetJobParameterName()) != nil &&
		context.Get(GetStagedObjectParameterName()) != nil &&
		context.Get(GetBundleParameterName()) == nil
}

// Execute runs the fan-out and stores the joined bundle.
func (c *AnalyzeContent) Execute(context cor.Context) {
	job := context.Get(GetJobParameterName()).(*model.Job)
	staged := context.Get(GetStagedObjectParameterName()).(*cloud.StagedObject)

	if !advanceJob(context, c.jobs, job, model.StatusAnalyzing, c.GetName()) {
		return
	}

	bundle, err := c.fanout.Analyze(context.GetContext(), staged)
	if err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), err)
		return
	}

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(GetBundleParameterName(), bundle)
	context.Add(c.GetOutputParam(), bundle)
}
