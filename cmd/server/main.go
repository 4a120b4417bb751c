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
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/brightclip/video-describe/internal/core/model"
	"github.com/brightclip/video-describe/internal/store"
	"github.com/brightclip/video-describe/internal/telemetry"
)

func main() {
	telemetry.SetupLogging()
	slog.Info("Logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := GetConfig()

	_, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		slog.Error("Failed to setup OpenTelemetry", "error", err)
		log.Fatal(err)
	}
	slog.Info("Tracing initialized")

	InitState(ctx)
	slog.Info("Initialized State")

	r := gin.Default()

	// Add OpenTelemetry middleware
	r.Use(otelgin.Middleware("video-describe-server"))

	// Default CORS configuration: allows all origins, methods, and headers,
	// which is what local development against the frontend needs.
	r.Use(cors.Default())

	// Create the "/api/v1" group
	apiV1 := r.Group("/api/v1")
	{
		JobRouter(apiV1)
		Dashboard(apiV1)
	}

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	// Start the server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to listen: ", "error", err)
		}
	}()
	slog.Info("Server Ready on port 8080")

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutdown Server ...")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server Shutdown Failed:", "error", err)
	}

	log.Println("Server exiting")
}

// analyzeRequest is the submission payload: one video reference to describe.
type analyzeRequest struct {
	Reference string `json:"reference" binding:"required"`
}

// statusResponse is the caller-facing view of a job in flight.
type statusResponse struct {
	JobID       string        `json:"job_id"`
	Reference   string        `json:"reference"`
	Status      string        `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	ErrorDetail string        `json:"error_detail,omitempty"`
	Progress    *progressInfo `json:"progress,omitempty"`
}

// progressInfo is a coarse view of where a running job is, derived from
// its status rather than tracked separately.
type progressInfo struct {
	Stage          string  `json:"stage"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

var stageDescriptions = map[model.JobStatus]string{
	model.StatusPending:      "waiting for a worker",
	model.StatusDownloading:  "fetching video content",
	model.StatusAnalyzing:    "running visual analysis and transcription",
	model.StatusSynthesizing: "generating description",
}

func progressFor(job *model.Job) *progressInfo {
	stage, ok := stageDescriptions[job.Status]
	if !ok {
		return nil
	}
	return &progressInfo{
		Stage:          stage,
		ElapsedSeconds: time.Since(job.CreatedAt).Seconds(),
	}
}

// JobRouter sets up the routes for job submission and retrieval.
func JobRouter(r *gin.RouterGroup) {
	r.POST("/analyze", func(c *gin.Context) {
		var req analyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body must contain a reference"})
			return
		}

		submission, err := state.jobService.Submit(c.Request.Context(), req.Reference)
		if err != nil {
			if model.KindOf(err) == model.ErrInvalidReference {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.Error("job submission failed", "error", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusAccepted, submission)
	})

	r.GET("/status/:id", func(c *gin.Context) {
		job, err := state.jobService.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		if err != nil {
			slog.Error("status lookup failed", "job_id", c.Param("id"), "error", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, statusResponse{
			JobID:       job.ID,
			Reference:   job.Reference,
			Status:      string(job.Status),
			CreatedAt:   job.CreatedAt,
			UpdatedAt:   job.UpdatedAt,
			CompletedAt: job.CompletedAt,
			ErrorKind:   string(job.ErrorKind),
			ErrorDetail: job.ErrorDetail,
			Progress:    progressFor(job),
		})
	})

	r.GET("/result/:id", func(c *gin.Context) {
		job, err := state.jobService.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		if err != nil {
			slog.Error("result lookup failed", "job_id", c.Param("id"), "error", err)
			c.Status(http.StatusInternalServerError)
			return
		}

		switch job.Status {
		case model.StatusCompleted:
			out := gin.H{
				"job_id":       job.ID,
				"status":       string(job.Status),
				"cache_hit":    job.CacheHit,
				"completed_at": job.CompletedAt,
				"result":       job.Result,
			}
			if c.Query("include_analysis") == "true" {
				if bundle, err := state.jobService.GetAnalysis(c.Request.Context(), job); err == nil && bundle != nil {
					out["analysis"] = bundle
				}
			}
			c.JSON(http.StatusOK, out)
		case model.StatusFailed:
			c.JSON(http.StatusOK, gin.H{
				"job_id":       job.ID,
				"status":       string(job.Status),
				"error_kind":   string(job.ErrorKind),
				"error_detail": job.ErrorDetail,
			})
		default:
			// Still in flight. 409 tells the caller to keep polling /status.
			c.JSON(http.StatusConflict, gin.H{
				"job_id": job.ID,
				"status": string(job.Status),
				"error":  "job has not finished yet",
			})
		}
	})
}
