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

package analysis

import (
	goctx "context"
	"fmt"
	"sync"
	"time"

	"github.com/brightclip/video-describe/internal/cloud"
	"github.com/brightclip/video-describe/internal/core/model"
)

// BranchPolicy states what a branch failure means for the job. The policy is
// a value on the branch, not a conditional in the join logic, so adding a
// branch never means touching the failure handling.
type BranchPolicy string

const (
	// PolicyMandatory branches fail the whole fan-out when they fail.
	PolicyMandatory BranchPolicy = "mandatory"
	// PolicyOptional branches degrade gracefully: their absence is recorded
	// and the fan-out proceeds.
	PolicyOptional BranchPolicy = "optional"
)

// branchJob is one unit of work dispatched to the worker pool.
type branchJob struct {
	name   string
	policy BranchPolicy
	run    func(ctx goctx.Context) (interface{}, error)
}

// branchResult carries a branch's outcome back to the join.
type branchResult struct {
	name   string
	policy BranchPolicy
	value  interface{}
	err    error
}

// FanOut runs the analysis branches concurrently over a staged video and
// joins their outputs into one AnalysisBundle. Each branch retries with
// exponential backoff up to the configured bound before its policy decides
// the outcome.
type FanOut struct {
	visual      VisualAnalyzer
	transcriber Transcriber
	workers     int
	maxRetries  int
	baseBackoff time.Duration
}

// NewFanOut assembles the fan-out. transcriber may be nil, in which case the
// transcription branch is skipped and the bundle reports the transcript
// absent.
func NewFanOut(visual VisualAnalyzer, transcriber Transcriber, workers int, maxRetries int, baseBackoff time.Duration) *FanOut {
	if workers <= 0 {
		workers = 2
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseBackoff <= 0 {
		baseBackoff = time.Second
	}
	return &FanOut{
		visual:      visual,
		transcriber: transcriber,
		workers:     workers,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
	}
}

// Analyze runs visual analysis (mandatory) and transcription (optional) over
// the staged object. The returned error is always a JobError carrying
// ErrAnalysisProvider or ErrTimeout.
func (f *FanOut) Analyze(ctx goctx.Context, staged *cloud.StagedObject) (*model.AnalysisBundle, error) {
	branches := []branchJob{
		{
			name:   "visual",
			policy: PolicyMandatory,
			run: func(ctx goctx.Context) (interface{}, error) {
				return f.visual.AnalyzeVisual(ctx, staged)
			},
		},
	}
	if f.transcriber != nil {
		branches = append(branches, branchJob{
			name:   "transcription",
			policy: PolicyOptional,
			run: func(ctx goctx.Context) (interface{}, error) {
				return f.transcriber.Transcribe(ctx, staged)
			},
		})
	}

	var wg sync.WaitGroup
	jobs := make(chan branchJob, len(branches))
	results := make(chan branchResult, len(branches))

	for w := 0; w < f.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				value, err := f.runWithRetry(ctx, job)
				results <- branchResult{name: job.name, policy: job.policy, value: value, err: err}
			}
		}()
	}

	for _, b := range branches {
		jobs <- b
	}
	close(jobs)
	wg.Wait()
	close(results)

	bundle := &model.AnalysisBundle{TranscriptState: model.TranscriptAbsent}
	for r := range results {
		if r.err != nil {
			if r.policy == PolicyMandatory {
				if ctx.Err() != nil {
					return nil, model.NewJobError(model.ErrTimeout, r.err)
				}
				return nil, model.NewJobError(model.ErrAnalysisProvider,
					fmt.Errorf("%s branch failed: %w", r.name, r.err))
			}
			// Optional branch exhausted its retries; proceed without it.
			if r.name == "transcription" {
				bundle.TranscriptState = model.TranscriptUnavailable
			}
			continue
		}

		switch r.name {
		case "visual":
			bundle.Visual = *(r.value.(*model.VisualAnalysis))
		case "transcription":
			transcript, _ := r.value.(*model.Transcript)
			if transcript == nil {
				bundle.TranscriptState = model.TranscriptAbsent
			} else {
				bundle.Transcript = transcript
				bundle.TranscriptState = model.TranscriptAvailable
			}
		}
	}

	return bundle, nil
}

// runWithRetry executes one branch with exponential backoff. Context
// expiry stops retrying immediately: the job budget is global and a branch
// must not outlive it.
func (f *FanOut) runWithRetry(ctx goctx.Context, job branchJob) (interface{}, error) {
	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := f.baseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		value, err := job.run(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("exhausted %d attempts: %w", f.maxRetries+1, lastErr)
}
