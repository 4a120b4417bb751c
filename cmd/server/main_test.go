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

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightclip/video-describe/internal/core/model"
	"github.com/brightclip/video-describe/internal/core/services"
	"github.com/brightclip/video-describe/internal/store"
	test "github.com/brightclip/video-describe/internal/testutil"
)

// newTestRouter wires the API routes onto stores backed by an in-process
// Redis. Submission tests stop at validation, so no Pub/Sub client is set.
func newTestRouter(t *testing.T) (*gin.Engine, *store.RedisJobStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	jobs := store.NewRedisJobStore(rdb, 24*time.Hour)
	state.jobService = &services.JobService{
		Jobs:  jobs,
		Cache: store.NewFingerprintCache(rdb, time.Hour),
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	apiV1 := r.Group("/api/v1")
	JobRouter(apiV1)
	Dashboard(apiV1)
	return r, jobs
}

func doRequest(r *gin.Engine, method string, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAnalyzeRejectsMissingReference(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodPost, "/api/v1/analyze", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeRejectsInvalidReference(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodPost, "/api/v1/analyze", `{"reference": "not a video url"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusUnknownJobIs404(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/api/v1/status/no-such-job", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusIncludesProgressWhileRunning(t *testing.T) {
	r, jobs := newTestRouter(t)
	job := test.NewTestJob("job-running", "https://videos.example.com/clip.mp4")
	require.NoError(t, jobs.CreateJob(context.Background(), job))

	w := doRequest(r, http.MethodGet, "/api/v1/status/job-running", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-running", resp.JobID)
	assert.Equal(t, "https://videos.example.com/clip.mp4", resp.Reference)
	assert.Equal(t, string(model.StatusPending), resp.Status)
	require.NotNil(t, resp.Progress)
	assert.NotEmpty(t, resp.Progress.Stage)
	assert.GreaterOrEqual(t, resp.Progress.ElapsedSeconds, 0.0)
}

func TestStatusOmitsProgressWhenTerminal(t *testing.T) {
	r, jobs := newTestRouter(t)
	job := test.NewTestJob("job-done", "https://videos.example.com/clip.mp4")
	now := time.Now().UTC()
	job.Status = model.StatusCompleted
	job.CompletedAt = &now
	require.NoError(t, jobs.CreateJob(context.Background(), job))

	w := doRequest(r, http.MethodGet, "/api/v1/status/job-done", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Progress)
	require.NotNil(t, resp.CompletedAt)
}

func TestResultConflictWhileRunning(t *testing.T) {
	r, jobs := newTestRouter(t)
	job := test.NewTestJob("job-in-flight", "https://videos.example.com/clip.mp4")
	require.NoError(t, jobs.CreateJob(context.Background(), job))

	w := doRequest(r, http.MethodGet, "/api/v1/result/job-in-flight", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResultUnknownJobIs404(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/api/v1/result/no-such-job", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResultForCompletedJob(t *testing.T) {
	r, jobs := newTestRouter(t)
	job := test.NewTestJob("job-complete", "https://videos.example.com/clip.mp4")
	now := time.Now().UTC()
	job.Status = model.StatusCompleted
	job.CompletedAt = &now
	job.Result = &model.Result{
		Description: "A short clip of a dog catching a frisbee in a park.",
		Confidence:  0.82,
		ModelID:     "test-model",
	}
	require.NoError(t, jobs.CreateJob(context.Background(), job))

	w := doRequest(r, http.MethodGet, "/api/v1/result/job-complete", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp["status"])
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, result["description"])
}

func TestResultForFailedJob(t *testing.T) {
	r, jobs := newTestRouter(t)
	job := test.NewTestJob("job-failed", "https://videos.example.com/clip.mp4")
	now := time.Now().UTC()
	job.Status = model.StatusFailed
	job.CompletedAt = &now
	job.ErrorKind = model.ErrTooLarge
	job.ErrorDetail = "video exceeds the configured size limit"
	require.NoError(t, jobs.CreateJob(context.Background(), job))

	w := doRequest(r, http.MethodGet, "/api/v1/result/job-failed", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp["status"])
	assert.Equal(t, string(model.ErrTooLarge), resp["error_kind"])
}

func TestQueueStatsCountsByStatus(t *testing.T) {
	r, jobs := newTestRouter(t)
	for _, id := range []string{"q-1", "q-2"} {
		job := test.NewTestJob(id, "https://videos.example.com/"+id+".mp4")
		require.NoError(t, jobs.CreateJob(context.Background(), job))
	}

	w := doRequest(r, http.MethodGet, "/api/v1/stats/queue", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	pending, ok := resp["pending"]
	require.True(t, ok)
	assert.Equal(t, float64(2), pending["count"])
}
