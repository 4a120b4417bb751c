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

package analysis_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightclip/video-describe/internal/cloud"
	"github.com/brightclip/video-describe/internal/core/analysis"
	"github.com/brightclip/video-describe/internal/core/model"
)

type fakeVisual struct {
	failures int32
	result   *model.VisualAnalysis
	calls    int32
}

func (f *fakeVisual) AnalyzeVisual(_ context.Context, _ *cloud.StagedObject) (*model.VisualAnalysis, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return nil, errors.New("visual provider unavailable")
	}
	return f.result, nil
}

type fakeTranscriber struct {
	failures int32
	result   *model.Transcript
	calls    int32
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ *cloud.StagedObject) (*model.Transcript, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return nil, errors.New("transcription provider unavailable")
	}
	return f.result, nil
}

func testStaged() *cloud.StagedObject {
	return &cloud.StagedObject{Bucket: "test-staging", Name: "staged/job-1", MIMEType: "video/mp4", Size: 1024}
}

func testVisual() *model.VisualAnalysis {
	return &model.VisualAnalysis{
		Labels:      []model.Label{{Name: "Cooking", Confidence: 96}},
		TopCategory: "Cooking",
	}
}

func TestFanOutBothBranchesSucceed(t *testing.T) {
	visual := &fakeVisual{result: testVisual()}
	transcriber := &fakeTranscriber{result: &model.Transcript{Text: "chop the onions", Confidence: 0.9, WordCount: 3}}
	f := analysis.NewFanOut(visual, transcriber, 2, 2, time.Millisecond)

	bundle, err := f.Analyze(context.Background(), testStaged())
	require.NoError(t, err)
	assert.Equal(t, "Cooking", bundle.Visual.TopCategory)
	assert.Equal(t, model.TranscriptAvailable, bundle.TranscriptState)
	assert.True(t, bundle.HasTranscript())
}

func TestFanOutSilentVideo(t *testing.T) {
	visual := &fakeVisual{result: testVisual()}
	transcriber := &fakeTranscriber{result: nil}
	f := analysis.NewFanOut(visual, transcriber, 2, 2, time.Millisecond)

	bundle, err := f.Analyze(context.Background(), testStaged())
	require.NoError(t, err)
	assert.Equal(t, model.TranscriptAbsent, bundle.TranscriptState)
	assert.False(t, bundle.HasTranscript())
}

func TestFanOutTranscriptionFailureDegrades(t *testing.T) {
	visual := &fakeVisual{result: testVisual()}
	transcriber := &fakeTranscriber{failures: 100}
	f := analysis.NewFanOut(visual, transcriber, 2, 1, time.Millisecond)

	bundle, err := f.Analyze(context.Background(), testStaged())
	require.NoError(t, err)
	assert.Equal(t, model.TranscriptUnavailable, bundle.TranscriptState)
	assert.Equal(t, "Cooking", bundle.Visual.TopCategory)
	// One initial attempt plus one retry.
	assert.Equal(t, int32(2), transcriber.calls)
}

func TestFanOutVisualFailureFailsJob(t *testing.T) {
	visual := &fakeVisual{failures: 100}
	transcriber := &fakeTranscriber{result: &model.Transcript{Text: "hello", WordCount: 1}}
	f := analysis.NewFanOut(visual, transcriber, 2, 1, time.Millisecond)

	_, err := f.Analyze(context.Background(), testStaged())
	require.Error(t, err)
	assert.Equal(t, model.ErrAnalysisProvider, model.KindOf(err))
}

func TestFanOutRetriesTransientVisualFailure(t *testing.T) {
	visual := &fakeVisual{failures: 2, result: testVisual()}
	f := analysis.NewFanOut(visual, nil, 2, 3, time.Millisecond)

	bundle, err := f.Analyze(context.Background(), testStaged())
	require.NoError(t, err)
	assert.Equal(t, "Cooking", bundle.Visual.TopCategory)
	assert.Equal(t, int32(3), visual.calls)
}

func TestFanOutWithoutTranscriber(t *testing.T) {
	visual := &fakeVisual{result: testVisual()}
	f := analysis.NewFanOut(visual, nil, 2, 0, time.Millisecond)

	bundle, err := f.Analyze(context.Background(), testStaged())
	require.NoError(t, err)
	assert.Equal(t, model.TranscriptAbsent, bundle.TranscriptState)
}

func TestFanOutCanceledContextIsTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	visual := &fakeVisual{failures: 100}
	f := analysis.NewFanOut(visual, nil, 2, 3, time.Millisecond)

	_, err := f.Analyze(ctx, testStaged())
	require.Error(t, err)
	assert.Equal(t, model.ErrTimeout, model.KindOf(err))
}
