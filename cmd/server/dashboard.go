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
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/brightclip/video-describe/internal/core/model"
)

// Dashboard configures the operational statistics routes. The queue view is
// what operators watch when throughput drops: how many jobs are sitting in
// each non-terminal status, oldest first.
func Dashboard(r *gin.RouterGroup) {
	stats := r.Group("/stats")
	{
		stats.GET("/queue", func(c *gin.Context) {
			count, err := strconv.ParseInt(c.DefaultQuery("count", "20"), 10, 64)
			if err != nil || count <= 0 {
				count = 20
			}

			out := gin.H{}
			for _, status := range []model.JobStatus{
				model.StatusPending,
				model.StatusDownloading,
				model.StatusAnalyzing,
				model.StatusSynthesizing,
			} {
				jobs, err := state.jobService.ListByStatus(c.Request.Context(), status, count)
				if err != nil {
					slog.Error("queue stats lookup failed", "status", string(status), "error", err)
					c.Status(http.StatusInternalServerError)
					return
				}
				ids := make([]string, 0, len(jobs))
				for _, j := range jobs {
					ids = append(ids, j.ID)
				}
				out[string(status)] = gin.H{"count": len(jobs), "job_ids": ids}
			}
			c.JSON(http.StatusOK, out)
		})
	}
}
