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

// Package test provides shared helpers for the test suite: a cached test
// configuration, environment setup for the config loader, and sample
// pipeline data.
package test

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/brightclip/video-describe/internal/cloud"
	"github.com/brightclip/video-describe/internal/core/model"
)

// StateManager caches the loaded configuration so the TOML files are read
// once per test run.
type StateManager struct {
	config *cloud.Config
}

var state = &StateManager{}

// HandleErr fails the test when err is not nil. Convenience to cut
// boilerplate in workflow tests.
func HandleErr(err error, t *testing.T) {
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// GetTestDispatchMessageText returns the JSON payload of a job dispatch
// message as published by the submission handler.
func GetTestDispatchMessageText() string {
	return `{
  "job_id": "6f1c2f6a-9f1e-4a57-a9f3-9c1b1f2d3e4c",
  "reference": "https://videos.example.com/clips/test-trailer-001.mp4"
}`
}

// NewTestBundle returns a populated analysis bundle with a transcript, the
// shape the synthesizer and cache expect after a successful fan-out.
func NewTestBundle() *model.AnalysisBundle {
	return &model.AnalysisBundle{
		Visual: model.VisualAnalysis{
			Labels: []model.Label{
				{Name: "Skateboarding", Confidence: 97.2},
				{Name: "Street", Confidence: 91.5},
				{Name: "Sunset", Confidence: 84.0},
			},
			Entities:        []string{"Golden Gate Bridge"},
			OnScreenText:    []string{"SUMMER 2024"},
			Activities:      []string{"skateboarding", "filming"},
			TopCategory:     "Skateboarding",
			DurationSeconds: 57,
		},
		Transcript: &model.Transcript{
			Text:            "so we took the boards down to the waterfront at golden hour",
			LanguageCode:    "en-US",
			Confidence:      0.93,
			WordCount:       12,
			DurationSeconds: 55,
		},
		TranscriptState: model.TranscriptAvailable,
	}
}

// NewTestJob returns a pending job record for the given reference.
func NewTestJob(id string, reference string) *model.Job {
	now := time.Now().UTC()
	return &model.Job{
		ID:        id,
		Reference: reference,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetupOS points the configuration loader at the test config files.
func SetupOS() (err error) {
	err = os.Setenv(cloud.EnvConfigFilePrefix, "configs")
	if err != nil {
		return err
	}
	err = os.Setenv(cloud.EnvConfigRuntime, "test")
	return err
}

// GetConfig is a singleton accessor for the test configuration. The TOML
// files are loaded once and cached for the rest of the run.
func GetConfig() *cloud.Config {
	if state.config == nil {
		err := SetupOS()
		if err != nil {
			log.Fatalf("failed to setup environment for test: %v\n", err)
		}
		config := cloud.NewConfig()
		cloud.LoadConfig(&config)
		state.config = config
	}
	return state.config
}
