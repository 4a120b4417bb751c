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
	"time"

	"github.com/brightclip/video-describe/internal/core/cor"
	"github.com/brightclip/video-describe/internal/core/model"
	"github.com/brightclip/video-describe/internal/core/synth"
	"github.com/brightclip/video-describe/internal/store"
)

// CacheStore writes the finished bundle and description back to the
// fingerprint cache so a later job for the same reference can skip the
// whole pipeline. Best-effort: a failed write is logged and forgotten.
type CacheStore struct {
	cor.BaseCommand
	cache *store.FingerprintCache
}

// NewCacheStore creates the cache write-back command.
func NewCacheStore(name string, cache *store.FingerprintCache) *CacheStore {
	return &CacheStore{BaseCommand: *cor.NewBaseCommand(name), cache: cache}
}

// IsExecutable requires a freshly computed bundle and synthesis; jobs served
// from the cache have nothing new to store.
func (c *CacheStore) IsExecutable(context cor.Context) bool {
	job, ok := context.Get(GetJobParameterName()).(*model.Job)
	if !ok || job.CacheHit || job.Fingerprint == "" {
		return false
	}
	return context.Get(GetBundleParameterName()) != nil &&
		context.Get(GetSynthesisParameterName()) != nil
}

// Execute stores the cache entry.
func (c *CacheStore) Execute(context cor.Context) {
	job := context.Get(GetJobParameterName()).(*model.Job)
	bundle := context.Get(GetBundleParameterName()).(*model.AnalysisBundle)
	out := context.Get(GetSynthesisParameterName()).(*synth.Output)

	entry := &model.CacheEntry{
		Fingerprint: job.Fingerprint,
		Bundle:      *bundle,
		Description: out.Description,
		Confidence:  out.Confidence,
		ModelID:     out.ModelID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.cache.Put(context.GetContext(), entry); err != nil {
		slog.Warn("fingerprint cache write failed",
			"job_id", job.ID, "fingerprint", job.Fingerprint, "error", err)
		return
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
}
