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

// Package cloud holds the application configuration structs, loaded from TOML
// files, and the shared clients for the external services the pipeline talks
// to: Cloud Storage, Pub/Sub, Vertex AI, and Redis.
package cloud

import (
	"time"

	"google.golang.org/genai"
)

// DefaultSafetySettings are the content safety thresholds applied to every
// generative model. They are non-restrictive: the inputs are videos the
// caller already controls, and blocking categories here would surface as
// opaque generation failures.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
}

// PromptTemplates holds the text templates for the prompts sent to the
// generative models. Templates are data, not code, so operators can tune
// wording without a deploy.
type PromptTemplates struct {
	VisualAnalysisPrompt string `toml:"visual_analysis"` // Prompt for the visual analysis branch.
	TranscriptionPrompt  string `toml:"transcription"`   // Prompt for the audio transcription branch.
	DescriptionPrompt    string `toml:"description"`     // Template for the final description synthesis.
}

// VertexAiLLMModel configures one Vertex AI generative model.
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`               // The Vertex AI model name.
	SystemInstructions string  `toml:"system_instructions"` // System instructions applied to every call.
	Temperature        float32 `toml:"temperature"`
	TopP               float32 `toml:"top_p"`
	TopK               float32 `toml:"top_k"`
	MaxTokens          int32   `toml:"max_tokens"`
	OutputFormat       string  `toml:"output_format"` // Response MIME type, e.g. "application/json".
	RateLimit          int     `toml:"rate_limit"`    // Requests per second allowed against the model.
	MaxRetries         int     `toml:"max_retries"`   // Bounded retries for transient provider failures.
}

// TopicSubscription configures one Pub/Sub subscription and the topic it
// hangs off. The submission handler publishes to Topic; the pipeline
// listener receives on Name.
type TopicSubscription struct {
	Name             string `toml:"name"`
	Topic            string `toml:"topic"`
	DeadLetterTopic  string `toml:"dead_letter_topic"`
	TimeoutInSeconds int    `toml:"timeout_in_seconds"`
}

// Storage configures the Cloud Storage staging bucket where fetched video
// bytes are parked for the duration of a job.
type Storage struct {
	StagingBucket string `toml:"staging_bucket"`
}

// JobStore configures the Redis instance backing the job records and the
// fingerprint cache.
type JobStore struct {
	Address      string `toml:"address"`
	Password     string `toml:"password"`
	Database     int    `toml:"database"`
	JobTTLDays   int    `toml:"job_ttl_days"`   // Days before a job record expires.
	CacheTTLDays int    `toml:"cache_ttl_days"` // Days an analysis bundle stays valid in the fingerprint cache.
}

// Fetcher configures content retrieval: the size ceiling, the per-job budget,
// and the resolver used for hosting-page references.
type Fetcher struct {
	MaxVideoSizeMB           int    `toml:"max_video_size_mb"`
	ProcessingTimeoutSeconds int    `toml:"processing_timeout_seconds"` // Wall-clock budget for one job, all stages included.
	DownloadTimeoutSeconds   int    `toml:"download_timeout_seconds"`
	YtDlpPath                string `toml:"yt_dlp_path"` // Binary used to resolve hosting-page URLs to direct media URLs.
	UserAgent                string `toml:"user_agent"`
	MaxRetries               int    `toml:"max_retries"` // Extra download attempts after a transient failure.
}

// Config is the root configuration, loaded hierarchically from a base TOML
// file plus a runtime-specific overlay.
type Config struct {
	Application struct {
		Name            string `toml:"name"`
		GoogleProjectId string `toml:"google_project_id"`
		GoogleLocation  string `toml:"location"`
		ThreadPoolSize  int    `toml:"thread_pool_size"` // Parallelism of the analysis fan-out worker pool.
	} `toml:"application"`
	Storage            Storage                      `toml:"storage"`
	JobStore           JobStore                     `toml:"job_store"`
	Fetcher            Fetcher                      `toml:"fetcher"`
	PromptTemplates    PromptTemplates              `toml:"prompt_templates"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"`
	AgentModels        map[string]VertexAiLLMModel  `toml:"agent_models"`
}

// NewConfig returns a Config with its maps initialized so the TOML decoder
// can populate them directly.
func NewConfig() *Config {
	return &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
		AgentModels:        make(map[string]VertexAiLLMModel),
	}
}

// ProcessingTimeout returns the per-job wall-clock budget as a Duration,
// falling back to 900 seconds when unset.
func (c *Config) ProcessingTimeout() time.Duration {
	if c.Fetcher.ProcessingTimeoutSeconds <= 0 {
		return 900 * time.Second
	}
	return time.Duration(c.Fetcher.ProcessingTimeoutSeconds) * time.Second
}

// MaxVideoSizeBytes returns the fetch size ceiling in bytes, falling back to
// 500 MB when unset.
func (c *Config) MaxVideoSizeBytes() int64 {
	mb := c.Fetcher.MaxVideoSizeMB
	if mb <= 0 {
		mb = 500
	}
	return int64(mb) * 1024 * 1024
}

// JobTTL returns the job record lifetime, falling back to 30 days.
func (c *Config) JobTTL() time.Duration {
	days := c.JobStore.JobTTLDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// CacheTTL returns the fingerprint cache lifetime, falling back to 7 days.
func (c *Config) CacheTTL() time.Duration {
	days := c.JobStore.CacheTTLDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}
