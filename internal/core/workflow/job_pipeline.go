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

// Package workflow defines the high-level business logic orchestrations,
// combining various commands into coherent pipelines. This file implements the
// primary video description workflow.
package workflow

import (
	goctx "context"
	"errors"
	"log/slog"
	"time"

	"github.com/brightclip/video-describe/internal/cloud"
	"github.com/brightclip/video-describe/internal/core/analysis"
	"github.com/brightclip/video-describe/internal/core/commands"
	"github.com/brightclip/video-describe/internal/core/cor"
	"github.com/brightclip/video-describe/internal/core/fetch"
	"github.com/brightclip/video-describe/internal/core/model"
	"github.com/brightclip/video-describe/internal/core/synth"
	"github.com/brightclip/video-describe/internal/store"
)

// JobPipeline orchestrates the processing of one video description job from
// dispatch message to completed (or failed) record. It is structured as a
// Chain of Responsibility (cor.Chain) whose commands fetch the video, run
// the analysis fan-out, synthesize the description, and persist the result.
//
// The pipeline is triggered by a Pub/Sub message published by the submission
// handler. Every run operates under a single wall-clock budget: a Go context
// deadline wraps the whole chain, so a stall in any stage surfaces as a
// timeout rather than a hung job.
type JobPipeline struct {
	cor.BaseCommand
	config  *cloud.Config
	jobs    *store.RedisJobStore
	cache   *store.FingerprintCache
	staging cloud.StagingStore
	chain   cor.Chain
}

// Execute runs the full pipeline for one dispatch message. The chain stands
// down silently when a conditional status write is lost (another worker owns
// the job); any other chain error marks the job failed with its classified
// error kind. The staged video is deleted on the way out regardless of
// outcome.
func (p *JobPipeline) Execute(context cor.Context) {
	runCtx, cancel := goctx.WithTimeout(context.GetContext(), p.config.ProcessingTimeout())
	defer cancel()

	parent := context.GetContext()
	context.SetContext(runCtx)
	defer context.SetContext(parent)

	p.chain.Execute(context)

	if staged, ok := context.Get(commands.GetStagedObjectParameterName()).(*cloud.StagedObject); ok {
		// Cleanup must survive an expired run context.
		cleanupCtx, cleanupCancel := goctx.WithTimeout(parent, 30*time.Second)
		if err := p.staging.Delete(cleanupCtx, staged.URI()); err != nil {
			slog.Warn("failed to delete staged video", "uri", staged.URI(), "error", err)
		}
		cleanupCancel()
	}

	if context.IsAborted() {
		slog.Info("pipeline standing down", "reason", context.AbortReason())
		return
	}
	if !context.HasErrors() {
		return
	}
	p.failJob(parent, context)
}

// failJob classifies the first chain error and moves the job to failed with
// one conditional write. A lost write here means another worker advanced the
// job after our failure, so the record is left alone.
func (p *JobPipeline) failJob(ctx goctx.Context, context cor.Context) {
	job, ok := context.Get(commands.GetJobParameterName()).(*model.Job)
	if !ok {
		// The trigger reader failed before a job was loaded. There is no
		// record to update; the message will be redelivered or dead-lettered.
		return
	}

	var kind model.ErrorKind
	var detail string
	for name, err := range context.GetErrors() {
		kind = model.KindOf(err)
		detail = name + ": " + err.Error()
		if errors.Is(ctx.Err(), goctx.DeadlineExceeded) || kind == model.ErrTimeout {
			kind = model.ErrTimeout
			break
		}
	}

	from := job.Status
	now := time.Now().UTC()
	job.Status = model.StatusFailed
	job.ErrorKind = kind
	job.ErrorDetail = detail
	job.CompletedAt = &now

	err := p.jobs.UpdateStatus(ctx, job, from)
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		slog.Info("job advanced elsewhere while failing, standing down", "job_id", job.ID)
		return
	}
	if err != nil {
		slog.Error("failed to persist job failure", "job_id", job.ID, "error", err)
		return
	}
	slog.Warn("job failed", "job_id", job.ID, "kind", string(kind), "detail", detail)
}

// initializeChain builds the sequence of commands that make up the pipeline.
// Commands gate themselves on the artifacts already present in the context,
// which is how a cache hit skips the fetch, analysis, and synthesis stages
// without any branching here.
func (p *JobPipeline) initializeChain(fetcher *fetch.ContentFetcher, fanout *analysis.FanOut, synthesizer *synth.Synthesizer) {
	out := cor.NewBaseChain(p.GetName())

	// Step 1: Decode the dispatch message and load the pending job record.
	out.AddCommand(commands.NewDispatchTriggerReader("read-dispatch-trigger", p.jobs))

	// Step 2: Consult the fingerprint cache. On a hit the bundle and
	// description are seeded and steps 3-5 skip themselves.
	out.AddCommand(commands.NewCacheLookup("fingerprint-cache-lookup", p.cache))

	// Step 3: Download the referenced video into the staging bucket.
	out.AddCommand(commands.NewFetchContent("fetch-video", p.jobs, fetcher))

	// Step 4: Run visual analysis and transcription in parallel and join
	// the branches into a single bundle.
	out.AddCommand(commands.NewAnalyzeContent("analyze-video", p.jobs, fanout))

	// Step 5: Synthesize the natural-language description from the bundle.
	out.AddCommand(commands.NewSynthesizeDescription("synthesize-description", p.jobs, synthesizer))

	// Step 6: Assemble the result and complete the job.
	out.AddCommand(commands.NewPersistResult("persist-result", p.jobs))

	// Step 7: Write freshly computed analyses back to the fingerprint cache.
	out.AddCommand(commands.NewCacheStore("fingerprint-cache-store", p.cache))

	p.chain = out
}

// NewJobPipeline is the constructor for the JobPipeline. It wires the stores,
// the fetcher, the Gemini-backed analysis branches, and the synthesizer, then
// builds the command chain.
//
// Inputs:
//   - config: The application's overall configuration.
//   - serviceClients: A struct containing initialized clients for GCP services.
//   - analysisModelName: The structured-output agent model for the analysis branches.
//   - synthesisModelName: The text-output agent model for description synthesis.
//
// Returns:
//   - A pointer to a newly created and fully initialized JobPipeline.
func NewJobPipeline(
	config *cloud.Config,
	serviceClients *cloud.ServiceClients,
	analysisModelName string,
	synthesisModelName string) *JobPipeline {

	agentModel, ok := serviceClients.AgentModels[analysisModelName]
	if !ok {
		panic("unknown agent model: " + analysisModelName)
	}
	synthModel, ok := serviceClients.AgentModels[synthesisModelName]
	if !ok {
		panic("unknown agent model: " + synthesisModelName)
	}

	jobs := store.NewRedisJobStore(serviceClients.RedisClient, config.JobTTL())
	cache := store.NewFingerprintCache(serviceClients.RedisClient, config.CacheTTL())
	staging := cloud.NewGCSStagingStore(serviceClients.StorageClient, config.Storage.StagingBucket)

	var resolver fetch.Resolver
	if config.Fetcher.YtDlpPath != "" {
		resolver = fetch.NewYtDlpResolver(config.Fetcher.YtDlpPath)
	}
	downloadTimeout := time.Duration(config.Fetcher.DownloadTimeoutSeconds) * time.Second
	fetcher := fetch.NewContentFetcher(staging, resolver, config.MaxVideoSizeBytes(), downloadTimeout, config.Fetcher.UserAgent, config.Fetcher.MaxRetries, time.Second)

	visual := analysis.NewGeminiVisualAnalyzer(agentModel, config.PromptTemplates.VisualAnalysisPrompt)
	var transcriber analysis.Transcriber
	if config.PromptTemplates.TranscriptionPrompt != "" {
		transcriber = analysis.NewGeminiTranscriber(agentModel, config.PromptTemplates.TranscriptionPrompt)
	}
	fanout := analysis.NewFanOut(visual, transcriber, config.Application.ThreadPoolSize, agentModel.MaxRetries, time.Second)

	generator := analysis.NewGeminiGenerator(synthModel)
	synthesizer, err := synth.NewSynthesizer(generator, config.PromptTemplates.DescriptionPrompt, synthModel.MaxRetries, time.Second)
	if err != nil {
		panic(err) // Panic on failure, as the app cannot run without a valid template.
	}

	pipeline := &JobPipeline{
		BaseCommand: *cor.NewBaseCommand("job-pipeline"),
		config:      config,
		jobs:        jobs,
		cache:       cache,
		staging:     staging,
	}
	pipeline.initializeChain(fetcher, fanout, synthesizer)
	return pipeline
}
