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

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightclip/video-describe/internal/core/model"
	"github.com/brightclip/video-describe/internal/store"
)

func newTestCache(t *testing.T, ttl time.Duration) (*store.FingerprintCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewFingerprintCache(client, ttl), mr
}

func TestCachePutAndGet(t *testing.T) {
	c, _ := newTestCache(t, 7*24*time.Hour)
	ctx := context.Background()

	fp := store.Fingerprint("https://videos.example.com/clips/a.mp4")
	entry := &model.CacheEntry{
		Fingerprint: fp,
		Bundle: model.AnalysisBundle{
			Visual:          model.VisualAnalysis{Labels: []model.Label{{Name: "Surfing", Confidence: 95}}},
			TranscriptState: model.TranscriptAbsent,
		},
		Description: "A surfer rides a wave at dawn.",
		Confidence:  0.81,
		ModelID:     "gemini-2.0-flash",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, c.Put(ctx, entry))

	got, err := c.Get(ctx, fp)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.Description, got.Description)
	assert.Equal(t, model.TranscriptAbsent, got.Bundle.TranscriptState)
}

func TestCacheMiss(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)

	got, err := c.Get(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheEntryExpires(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	entry := &model.CacheEntry{Fingerprint: "abc123", Description: "x", CreatedAt: time.Now().UTC()}
	require.NoError(t, c.Put(ctx, entry))

	mr.FastForward(2 * time.Minute)

	got, err := c.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Nil(t, got)
}
