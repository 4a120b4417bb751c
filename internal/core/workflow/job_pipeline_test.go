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

package workflow

import (
	"bytes"
	goctx "context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightclip/video-describe/internal/cloud"
	"github.com/brightclip/video-describe/internal/core/analysis"
	"github.com/brightclip/video-describe/internal/core/commands"
	"github.com/brightclip/video-describe/internal/core/cor"
	"github.com/brightclip/video-describe/internal/core/fetch"
	"github.com/brightclip/video-describe/internal/core/model"
	"github.com/brightclip/video-describe/internal/core/synth"
	"github.com/brightclip/video-describe/internal/store"
	test "github.com/brightclip/video-describe/internal/testutil"
)

// memoryStaging is an in-memory StagingStore so pipeline tests run
// without GCS.
type memoryStaging struct {
	objects map[string][]byte
}

func newMemoryStaging() *memoryStaging {
	return &memoryStaging{objects: make(map[string][]byte)}
}

func (m *memoryStaging) Put(_ goctx.Context, name string, mimeType string, r io.Reader) (*cloud.StagedObject, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return nil, err
	}
	m.objects[name] = buf.Bytes()
	return &cloud.StagedObject{Bucket: "test-staging", Name: name, MIMEType: mimeType, Size: n}, nil
}

func (m *memoryStaging) Delete(_ goctx.Context, uri string) error {
	_, name, err := cloud.ParseGCSURI(uri)
	if err != nil {
		return err
	}
	delete(m.objects, name)
	return nil
}

// okVisual answers immediately with the fixture analysis.
type okVisual struct{}

func (okVisual) AnalyzeVisual(_ goctx.Context, _ *cloud.StagedObject) (*model.VisualAnalysis, error) {
	return &test.NewTestBundle().Visual, nil
}

// stalledVisual blocks until the run context expires, the way a hung
// provider call does.
type stalledVisual struct{}

func (stalledVisual) AnalyzeVisual(ctx goctx.Context, _ *cloud.StagedObject) (*model.VisualAnalysis, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type okTranscriber struct{}

func (okTranscriber) Transcribe(_ goctx.Context, _ *cloud.StagedObject) (*model.Transcript, error) {
	return test.NewTestBundle().Transcript, nil
}

type okGenerator struct{}

func (okGenerator) GenerateDescription(_ goctx.Context, _ string) (string, error) {
	return "A skate crew films tricks along the waterfront at sunset.", nil
}

func (okGenerator) ModelID() string { return "fake-model" }

// newPipeline assembles a JobPipeline over miniredis, an in-memory staging
// store, and the given visual provider. timeoutSeconds is the full-run
// wall-clock budget.
func newPipeline(t *testing.T, visual analysis.VisualAnalyzer, timeoutSeconds int) (*JobPipeline, *store.RedisJobStore, *memoryStaging) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	config := cloud.NewConfig()
	config.Fetcher.ProcessingTimeoutSeconds = timeoutSeconds

	jobs := store.NewRedisJobStore(rdb, 24*time.Hour)
	cache := store.NewFingerprintCache(rdb, time.Hour)
	staging := newMemoryStaging()

	fetcher := fetch.NewContentFetcher(staging, nil, 1<<20, 30*time.Second, "video-describe-test", 0, time.Millisecond)
	fanout := analysis.NewFanOut(visual, okTranscriber{}, 2, 0, time.Millisecond)
	synthesizer, err := synth.NewSynthesizer(okGenerator{}, "", 0, time.Millisecond)
	require.NoError(t, err)

	p := &JobPipeline{
		BaseCommand: *cor.NewBaseCommand("job-pipeline"),
		config:      config,
		jobs:        jobs,
		cache:       cache,
		staging:     staging,
	}
	p.initializeChain(fetcher, fanout, synthesizer)
	return p, jobs, staging
}

func runPipeline(t *testing.T, p *JobPipeline, id string, reference string) cor.Context {
	t.Helper()
	msg, err := json.Marshal(commands.DispatchMessage{JobID: id, Reference: reference})
	require.NoError(t, err)

	chainCtx := cor.NewBaseContext()
	t.Cleanup(chainCtx.Close)
	chainCtx.SetContext(goctx.Background())
	chainCtx.Add(cor.CtxIn, string(msg))
	p.Execute(chainCtx)
	return chainCtx
}

func mp4Server(t *testing.T) *httptest.Server {
	t.Helper()
	header := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2'}
	payload := make([]byte, 4096)
	copy(payload, header)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestPipelineCompletesAndDeletesStagedVideo(t *testing.T) {
	p, jobs, staging := newPipeline(t, okVisual{}, 60)
	server := mp4Server(t)

	job := test.NewTestJob("job-ok", server.URL+"/clip.mp4")
	require.NoError(t, jobs.CreateJob(goctx.Background(), job))

	chainCtx := runPipeline(t, p, job.ID, job.Reference)
	assert.False(t, chainCtx.HasErrors())

	stored, err := jobs.GetJob(goctx.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)
	require.NotNil(t, stored.Result)
	assert.NotEmpty(t, stored.Result.Description)
	// The wrapper removes the staged bytes once the run is over.
	assert.Empty(t, staging.objects)
}

func TestPipelineBudgetExpiryFailsJobWithTimeout(t *testing.T) {
	p, jobs, staging := newPipeline(t, stalledVisual{}, 1)
	server := mp4Server(t)

	job := test.NewTestJob("job-stalled", server.URL+"/clip.mp4")
	require.NoError(t, jobs.CreateJob(goctx.Background(), job))

	runPipeline(t, p, job.ID, job.Reference)

	stored, err := jobs.GetJob(goctx.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
	assert.Equal(t, model.ErrTimeout, stored.ErrorKind)
	require.NotNil(t, stored.CompletedAt)
	// Cleanup runs on the parent context, so it survives the expired budget.
	assert.Empty(t, staging.objects)
}

func TestPipelinePersistsClassifiedFetchFailure(t *testing.T) {
	p, jobs, _ := newPipeline(t, okVisual{}, 60)
	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	job := test.NewTestJob("job-gone", server.URL+"/missing.mp4")
	require.NoError(t, jobs.CreateJob(goctx.Background(), job))

	runPipeline(t, p, job.ID, job.Reference)

	stored, err := jobs.GetJob(goctx.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
	assert.Equal(t, model.ErrUnreachable, stored.ErrorKind)
	assert.NotEmpty(t, stored.ErrorDetail)
	require.NotNil(t, stored.CompletedAt)
}

func TestFailJobStandsDownWhenRecordAdvancedElsewhere(t *testing.T) {
	p, jobs, _ := newPipeline(t, okVisual{}, 60)

	job := test.NewTestJob("job-raced", "https://videos.example.com/clip.mp4")
	require.NoError(t, jobs.CreateJob(goctx.Background(), job))

	// Another worker claims the job after this worker loaded it.
	claimed := *job
	claimed.Status = model.StatusDownloading
	require.NoError(t, jobs.UpdateStatus(goctx.Background(), &claimed, model.StatusPending))

	chainCtx := cor.NewBaseContext()
	t.Cleanup(chainCtx.Close)
	chainCtx.SetContext(goctx.Background())
	chainCtx.Add(commands.GetJobParameterName(), job)
	chainCtx.AddError("fetch-video", errors.New("stale worker failure"))

	p.failJob(goctx.Background(), chainCtx)

	stored, err := jobs.GetJob(goctx.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDownloading, stored.Status)
	assert.Empty(t, string(stored.ErrorKind))
}
