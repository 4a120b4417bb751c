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
	"log/slog"

	"github.com/brightclip/video-describe/internal/core/cor"
	"github.com/brightclip/video-describe/internal/core/model"
	"github.com/brightclip/video-describe/internal/core/synth"
	"github.com/brightclip/video-describe/internal/store"
)

// CacheLookup consults the fingerprint cache before any fetching happens.
// On a hit, the cached bundle and description are seeded into the context
// and the fetch, analysis, and synthesis commands all skip themselves. The
// lookup is best-effort: a cache failure is a miss, never a job failure.
type CacheLookup struct {
	cor.BaseCommand
	cache *store.FingerprintCache
}

// NewCacheLookup creates the cache lookup command.
func NewCacheLookup(name string, cache *store.FingerprintCache) *CacheLookup {
	return &CacheLookup{BaseCommand: *cor.NewBaseCommand(name), cache: cache}
}

// IsExecutable requires a loaded job with a fingerprint.
func (c *CacheLookup) IsExecutable(context cor.Context) bool {
	job, ok := context.Get(GetJobParameterName()).(*model.Job)
	return ok && job.Fingerprint != ""
}

// Execute checks the cache and seeds the context on a hit.
func (c *CacheLookup) Execute(context cor.Context) {
	job := context.Get(GetJobParameterName()).(*model.Job)

	entry, err := c.cache.Get(context.GetContext(), job.Fingerprint)
	if err != nil {
		slog.Warn("fingerprint cache read failed, treating as miss",
			"job_id", job.ID, "error", err)
		return
	}
	if entry == nil {
		return
	}

	bundle := entry.Bundle
	job.CacheHit = true
	context.Add(GetBundleParameterName(), &bundle)
	context.Add(GetSynthesisParameterName(), &synth.Output{
		Description: entry.Description,
		Confidence:  entry.Confidence,
		ModelID:     entry.ModelID,
	})
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	slog.Info("fingerprint cache hit", "job_id", job.ID, "fingerprint", job.Fingerprint)
}
