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

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightclip/video-describe/internal/core/model"
)

const cacheKeyPrefix = "vd:cache:"

// FingerprintCache stores completed analysis bundles keyed by reference
// fingerprint. The cache is strictly best-effort: the pipeline treats a
// failed read as a miss and a failed write as a non-event, so a cache outage
// degrades throughput, never correctness.
type FingerprintCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewFingerprintCache creates a cache whose entries expire after ttl.
func NewFingerprintCache(client *redis.Client, ttl time.Duration) *FingerprintCache {
	return &FingerprintCache{client: client, ttl: ttl}
}

func cacheKey(fingerprint string) string {
	return cacheKeyPrefix + fingerprint
}

// Get returns the cached entry for a fingerprint, or (nil, nil) on a miss.
func (c *FingerprintCache) Get(ctx context.Context, fingerprint string) (*model.CacheEntry, error) {
	raw, err := c.client.Get(ctx, cacheKey(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %s: %w", fingerprint, err)
	}

	var entry model.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// A corrupt entry is a miss; overwrite it on the next store.
		return nil, nil
	}
	return &entry, nil
}

// Put stores an entry under its fingerprint for the cache TTL.
func (c *FingerprintCache) Put(ctx context.Context, entry *model.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry %s: %w", entry.Fingerprint, err)
	}
	if err := c.client.Set(ctx, cacheKey(entry.Fingerprint), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", entry.Fingerprint, err)
	}
	return nil
}
