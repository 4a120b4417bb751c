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

// This file implements the background maintenance job for the job store.
package workflow

import (
	goctx "context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/brightclip/video-describe/internal/cloud"
	"github.com/brightclip/video-describe/internal/store"
)

// IndexJanitor periodically removes dangling status index entries left
// behind when job records hit their TTL. Redis expires the records
// natively; only the sorted-set indexes need sweeping.
type IndexJanitor struct {
	jobs     *store.RedisJobStore
	interval time.Duration
}

// StartTimer kicks off the background sweep. It creates a time.Ticker that
// fires at the janitor's interval and runs each sweep inside its own trace
// span. The goroutine runs until the application shuts down.
func (j *IndexJanitor) StartTimer() {
	tracer := otel.Tracer("index-janitor")
	ticker := time.NewTicker(j.interval)
	closeTicker := make(chan struct{})

	go func(j *IndexJanitor) {
		for {
			select {
			case <-ticker.C:
				traceCtx, span := tracer.Start(goctx.Background(), "prune-job-indexes")
				removed, err := j.jobs.PruneIndexes(traceCtx)
				if err != nil {
					span.SetStatus(codes.Error, "failed to prune job indexes")
					slog.Error("index sweep failed", "error", err)
				} else {
					span.SetStatus(codes.Ok, fmt.Sprintf("pruned %d index entries", removed))
					if removed > 0 {
						slog.Info("pruned expired job index entries", "count", removed)
					}
				}
				span.End()
			case <-closeTicker:
				ticker.Stop()
				return
			}
		}
	}(j)
}

// NewIndexJanitor creates the janitor sweeping every five minutes.
func NewIndexJanitor(config *cloud.Config, serviceClients *cloud.ServiceClients) *IndexJanitor {
	return &IndexJanitor{
		jobs:     store.NewRedisJobStore(serviceClients.RedisClient, config.JobTTL()),
		interval: 5 * time.Minute,
	}
}
