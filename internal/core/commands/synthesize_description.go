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
	"github.com/brightclip/video-describe/internal/core/cor"
	"github.com/brightclip/video-describe/internal/core/model"
	"github.com/brightclip/video-describe/internal/core/synth"
	"github.com/brightclip/video-describe/internal/store"
)

// SynthesizeDescription moves the job to synthesizing and generates the
// final description from the analysis bundle. Skipped when the cache lookup
// already seeded a synthesis output.
type SynthesizeDescription struct {
	cor.BaseCommand
	jobs        *store.RedisJobStore
	synthesizer *synth.Synthesizer
}

// NewSynthesizeDescription creates the synthesis command.
func NewSynthesizeDescription(name string, jobs *store.RedisJobStore, synthesizer *synth.Synthesizer) *SynthesizeDescription {
	return &SynthesizeDescription{BaseCommand: *cor.NewBaseCommand(name), jobs: jobs, synthesizer: synthesizer}
}

// IsExecutable requires a bundle and no synthesis output yet.
func (c *SynthesizeDescription) IsExecutable(context cor.Context) bool {
	return context.Get(GetJobParameterName()) != nil &&
		context.Get(GetBundleParameterName()) != nil &&
		context.Get(GetSynthesisParameterName()) == nil
}

// Execute synthesizes the description and stores the output.
func (c *SynthesizeDescription) Execute(context cor.Context) {
	job := context.Get(GetJobParameterName()).(*model.Job)
	bundle := context.Get(GetBundleParameterName()).(*model.AnalysisBundle)

	if !advanceJob(context, c.jobs, job, model.StatusSynthesizing, c.GetName()) {
		return
	}

	out, err := c.synthesizer.Synthesize(context.GetContext(), bundle)
	if err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), err)
		return
	}

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(GetSynthesisParameterName(), out)
	context.Add(c.GetOutputParam(), out)
}
