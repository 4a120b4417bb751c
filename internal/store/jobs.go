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

// Sentinel errors returned by the job store. ErrConflict is the losing side
// of a conditional write: the job moved since the caller read it, and the
// caller must stand down rather than overwrite.
var (
	ErrNotFound = errors.New("job not found")
	ErrConflict = errors.New("job status changed since read")
)

const (
	jobKeyPrefix   = "vd:job:"
	statusIndexFmt = "vd:jobs:status:%s"
)

// updateScript performs the conditional status write atomically: the job
// JSON is replaced only if the stored status still equals the expected one,
// and the secondary index entry moves to the new status in the same step.
// KEYS[1] job key, KEYS[2] old index, KEYS[3] new index.
// ARGV[1] expected status, ARGV[2] new JSON, ARGV[3] job id, ARGV[4] score.
// Returns 1 on success, 0 on conflict, -1 when the job is gone.
var updateScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return -1
end
local job = cjson.decode(raw)
if job['status'] ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'KEEPTTL')
redis.call('ZREM', KEYS[2], ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[3])
return 1
`)

// RedisJobStore persists job records as JSON documents with a native TTL,
// plus one sorted set per status scored by creation time so listByStatus
// reads in submission order without scanning.
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisJobStore creates a job store whose records expire after ttl.
func NewRedisJobStore(client *redis.Client, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{client: client, ttl: ttl}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func statusIndexKey(status model.JobStatus) string {
	return fmt.Sprintf(statusIndexFmt, status)
}

// CreateJob writes a new job record and indexes it under its status. The
// record and its index entry both live for the configured TTL.
func (s *RedisJobStore) CreateJob(ctx context.Context, job *model.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), raw, s.ttl)
	pipe.ZAdd(ctx, statusIndexKey(job.Status), redis.Z{
		Score:  float64(job.CreatedAt.UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob reads a job by ID. Expired and unknown jobs are indistinguishable
// and both return ErrNotFound.
func (s *RedisJobStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	raw, err := s.client.Get(ctx, jobKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}

	var job model.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

// UpdateStatus writes the job conditionally: the write succeeds only if the
// stored status still equals expectedFrom and the transition moves forward
// in the lifecycle. A regressive transition is rejected locally; a lost
// race returns ErrConflict so the caller can stand down.
func (s *RedisJobStore) UpdateStatus(ctx context.Context, job *model.Job, expectedFrom model.JobStatus) error {
	if job.Status.Rank() < 0 || expectedFrom.Rank() < 0 {
		return fmt.Errorf("unknown status in transition %s -> %s", expectedFrom, job.Status)
	}
	if job.Status.Rank() <= expectedFrom.Rank() && job.Status != expectedFrom {
		return fmt.Errorf("regressive transition %s -> %s", expectedFrom, job.Status)
	}
	if expectedFrom.IsTerminal() {
		return fmt.Errorf("job %s is already terminal (%s)", job.ID, expectedFrom)
	}

	job.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	keys := []string{jobKey(job.ID), statusIndexKey(expectedFrom), statusIndexKey(job.Status)}
	res, err := updateScript.Run(ctx, s.client, keys,
		string(expectedFrom), string(raw), job.ID, float64(job.CreatedAt.UnixMilli())).Int()
	if err != nil {
		return fmt.Errorf("failed conditional write for job %s: %w", job.ID, err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return ErrConflict
	default:
		return ErrNotFound
	}
}

// ListByStatus returns up to limit jobs in the given status, ordered by
// creation time. Index entries whose records have since expired are
// skipped; the janitor prunes them.
func (s *RedisJobStore) ListByStatus(ctx context.Context, status model.JobStatus, limit int64) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.ZRange(ctx, statusIndexKey(status), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}

	jobs := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// PruneIndexes removes index members whose primary records have expired.
// Records expire via Redis TTL; sorted sets have no per-member TTL, so a
// background sweep keeps the indexes honest. Returns the number pruned.
func (s *RedisJobStore) PruneIndexes(ctx context.Context) (int, error) {
	pruned := 0
	for status := range map[model.JobStatus]struct{}{
		model.StatusPending:      {},
		model.StatusDownloading:  {},
		model.StatusAnalyzing:    {},
		model.StatusSynthesizing: {},
		model.StatusCompleted:    {},
		model.StatusFailed:       {},
	} {
		ids, err := s.client.ZRange(ctx, statusIndexKey(status), 0, -1).Result()
		if err != nil {
			return pruned, fmt.Errorf("failed to scan %s index: %w", status, err)
		}
		for _, id := range ids {
			exists, err := s.client.Exists(ctx, jobKey(id)).Result()
			if err != nil {
				return pruned, err
			}
			if exists == 0 {
				if err := s.client.ZRem(ctx, statusIndexKey(status), id).Err(); err != nil {
					return pruned, err
				}
				pruned++
			}
		}
	}
	return pruned, nil
}
