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
	"github.com/brightclip/video-describe/internal/core/fetch"
	"github.com/brightclip/video-describe/internal/core/model"
	"github.com/brightclip/video-describe/internal/store"
)

// FetchContent moves the job to downloading and retrieves the video into
// the staging store. A cache hit upstream seeds an analysis bundle, which
// makes this command skip: there is nothing to download when the analysis
// is already known.
type FetchContent struct {
	cor.BaseCommand
	jobs    *store.RedisJobStore
	fetcher *fetch.ContentFetcher
}

// NewFetchContent creates the fetch command.
func NewFetchContent(name string, jobs *store.RedisJobStore, fetcher *fetch.ContentFetcher) *FetchContent {
	return &FetchContent{BaseCommand: *cor.NewBaseCommand(name), jobs: jobs, fetcher: fetcher}
}

// IsExecutable requires a loaded job and no bundle from the cache.
func (c *FetchContent) IsExecutable(context cor.Context) bool {
	return context.Get(GetJobParameterName()) != nil &&
		context.Get(GetBundleParameterName()) == nil
}

// Execute fetches and stages the referenced video.
func (c *FetchContent) Execute(context cor.Context) {
	job := context.Get(GetJobParameterName()).(*model.Job)

	if !advanceJob(context, c.jobs, job, model.StatusDownloading, c.GetName()) {
		return
	}

	staged, err := c.fetcher.Fetch(context.GetContext(), job.ID, job.Reference)
	if err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), err)
		return
	}

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(GetStagedObjectParameterName(), staged)
	context.Add(c.GetOutputParam(), staged)
}
