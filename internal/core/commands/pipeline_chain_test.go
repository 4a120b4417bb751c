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

package commands_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"

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

const tName = "github.com/brightclip/video-describe/tests/commands"

var logger = otelslog.NewLogger(tName)

// memoryStaging is an in-memory StagingStore so chain tests run without GCS.
type memoryStaging struct {
	objects map[string][]byte
}

func newMemoryStaging() *memoryStaging {
	return &memoryStaging{objects: make(map[string][]byte)}
}

func (m *memoryStaging) Put(_ context.Context, name string, mimeType string, r io.Reader) (*cloud.StagedObject, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return nil, err
	}
	m.objects[name] = buf.Bytes()
	return &cloud.StagedObject{Bucket: "test-staging", Name: name, MIMEType: mimeType, Size: n}, nil
}

func (m *memoryStaging) Delete(_ context.Context, uri string) error {
	_, name, err := cloud.ParseGCSURI(uri)
	if err != nil {
		return err
	}
	delete(m.objects, name)
	return nil
}

type fakeVisual struct {
	calls atomic.Int32
}

func (f *fakeVisual) AnalyzeVisual(_ context.Context, _ *cloud.StagedObject) (*model.VisualAnalysis, error) {
	f.calls.Add(1)
	bundle := test.NewTestBundle()
	return &bundle.Visual, nil
}

type fakeTranscriber struct {
	calls atomic.Int32
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ *cloud.StagedObject) (*model.Transcript, error) {
	f.calls.Add(1)
	return test.NewTestBundle().Transcript, nil
}

type fakeGenerator struct {
	calls atomic.Int32
}

func (f *fakeGenerator) GenerateDescription(_ context.Context, _ string) (string, error) {
	f.calls.Add(1)
	return "Skaters carve along a waterfront street at sunset near the Golden Gate Bridge.", nil
}

func (f *fakeGenerator) ModelID() string { return "fake-model" }

// testHarness bundles everything one chain execution needs.
type testHarness struct {
	jobs        *store.RedisJobStore
	cache       *store.FingerprintCache
	staging     *memoryStaging
	visual      *fakeVisual
	transcriber *fakeTranscriber
	generator   *fakeGenerator
	chain       cor.Chain
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &testHarness{
		jobs:        store.NewRedisJobStore(client, time.Hour),
		cache:       store.NewFingerprintCache(client, time.Hour),
		staging:     newMemoryStaging(),
		visual:      &fakeVisual{},
		transcriber: &fakeTranscriber{},
		generator:   &fakeGenerator{},
	}

	fetcher := fetch.NewContentFetcher(h.staging, nil, 1<<20, 30*time.Second, "video-describe-test", 0, time.Millisecond)
	fanout := analysis.NewFanOut(h.visual, h.transcriber, 2, 1, time.Millisecond)
	synthesizer, err := synth.NewSynthesizer(h.generator, "", 1, time.Millisecond)
	require.NoError(t, err)

	chain := cor.NewBaseChain("test-pipeline")
	chain.AddCommand(commands.NewDispatchTriggerReader("read-dispatch-trigger", h.jobs))
	chain.AddCommand(commands.NewCacheLookup("fingerprint-cache-lookup", h.cache))
	chain.AddCommand(commands.NewFetchContent("fetch-video", h.jobs, fetcher))
	chain.AddCommand(commands.NewAnalyzeContent("analyze-video", h.jobs, fanout))
	chain.AddCommand(commands.NewSynthesizeDescription("synthesize-description", h.jobs, synthesizer))
	chain.AddCommand(commands.NewPersistResult("persist-result", h.jobs))
	chain.AddCommand(commands.NewCacheStore("fingerprint-cache-store", h.cache))
	h.chain = chain

	return h
}

func (h *testHarness) submit(t *testing.T, id string, reference string) *model.Job {
	t.Helper()
	job := test.NewTestJob(id, reference)
	require.NoError(t, h.jobs.CreateJob(context.Background(), job))
	return job
}

func (h *testHarness) run(t *testing.T, id string, reference string) cor.Context {
	t.Helper()
	msg, err := json.Marshal(commands.DispatchMessage{JobID: id, Reference: reference})
	require.NoError(t, err)

	chainCtx := cor.NewBaseContext()
	defer chainCtx.Close()
	chainCtx.SetContext(context.Background())
	chainCtx.Add(cor.CtxIn, string(msg))
	h.chain.Execute(chainCtx)
	logger.InfoContext(context.Background(), "chain run finished", "job_id", id, "errors", chainCtx.HasErrors())
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

func TestChainCompletesJob(t *testing.T) {
	server := mp4Server(t)
	reference := server.URL + "/clips/test-trailer-001.mp4"
	h := newTestHarness(t)

	h.submit(t, "job-1", reference)
	chainCtx := h.run(t, "job-1", reference)

	assert.False(t, chainCtx.HasErrors())
	assert.False(t, chainCtx.IsAborted())

	job, err := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.False(t, job.CacheHit)
	require.NotNil(t, job.Result)
	assert.NotEmpty(t, job.Result.Description)
	assert.Equal(t, "fake-model", job.Result.ModelID)
	assert.True(t, job.Result.HasTranscript)
	assert.Equal(t, "en-US", job.Result.TranscriptLanguage)
	assert.NotNil(t, job.CompletedAt)
	assert.Greater(t, job.Result.Confidence, 0.0)

	// The staged object is left for the workflow wrapper to delete.
	assert.Len(t, h.staging.objects, 1)

	// A fresh run writes the bundle back to the fingerprint cache.
	entry, err := h.cache.Get(context.Background(), job.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, job.Result.Description, entry.Description)
}

func TestChainCacheHitSkipsFetchAndAnalysis(t *testing.T) {
	server := mp4Server(t)
	reference := server.URL + "/clips/test-trailer-002.mp4"
	h := newTestHarness(t)

	h.submit(t, "job-1", reference)
	h.run(t, "job-1", reference)
	require.EqualValues(t, 1, h.visual.calls.Load())

	// Second job for the same reference rides the cache.
	h.submit(t, "job-2", reference)
	chainCtx := h.run(t, "job-2", reference)

	assert.False(t, chainCtx.HasErrors())
	assert.EqualValues(t, 1, h.visual.calls.Load(), "visual analysis must not run again")
	assert.EqualValues(t, 1, h.transcriber.calls.Load())
	assert.EqualValues(t, 1, h.generator.calls.Load())
	assert.Len(t, h.staging.objects, 1, "no second download")

	job, err := h.jobs.GetJob(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.True(t, job.CacheHit)
	require.NotNil(t, job.Result)
	assert.NotEmpty(t, job.Result.Description)
}

func TestChainAbortsWhenJobAlreadyClaimed(t *testing.T) {
	server := mp4Server(t)
	reference := server.URL + "/clips/test-trailer-003.mp4"
	h := newTestHarness(t)

	job := h.submit(t, "job-1", reference)
	// Another worker already moved the job past pending; a redelivered
	// message must stand down without touching the record.
	job.Status = model.StatusDownloading
	require.NoError(t, h.jobs.UpdateStatus(context.Background(), job, model.StatusPending))

	chainCtx := h.run(t, "job-1", reference)
	assert.True(t, chainCtx.IsAborted())
	assert.False(t, chainCtx.HasErrors())
	assert.EqualValues(t, 0, h.visual.calls.Load())
}

func TestChainAbortsWhenJobExpired(t *testing.T) {
	server := mp4Server(t)
	reference := server.URL + "/clips/test-trailer-004.mp4"
	h := newTestHarness(t)

	// No record was ever written; the TTL reaped it before delivery.
	chainCtx := h.run(t, "gone-job", reference)
	assert.True(t, chainCtx.IsAborted())
	assert.False(t, chainCtx.HasErrors())
}

func TestChainRecordsFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	reference := server.URL + "/clips/missing.mp4"
	h := newTestHarness(t)

	h.submit(t, "job-1", reference)
	chainCtx := h.run(t, "job-1", reference)

	require.True(t, chainCtx.HasErrors())
	err := chainCtx.GetErrors()["fetch-video"]
	require.Error(t, err)
	assert.Equal(t, model.ErrUnreachable, model.KindOf(err))
	assert.EqualValues(t, 0, h.visual.calls.Load())

	// The job was advanced to downloading before the failure; the workflow
	// wrapper is responsible for the terminal failed write.
	job, getErr := h.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, getErr)
	assert.Equal(t, model.StatusDownloading, job.Status)
}

func TestChainMalformedDispatchMessage(t *testing.T) {
	h := newTestHarness(t)

	chainCtx := cor.NewBaseContext()
	defer chainCtx.Close()
	chainCtx.SetContext(context.Background())
	chainCtx.Add(cor.CtxIn, "{not json")
	h.chain.Execute(chainCtx)

	assert.True(t, chainCtx.HasErrors())
	assert.False(t, chainCtx.IsAborted())
}
