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

// Package main contains the logic for setting up and starting the Pub/Sub
// message listeners that drive the background job processing.
package main

import (
	"context"

	"github.com/brightclip/video-describe/internal/cloud"
	"github.com/brightclip/video-describe/internal/core/workflow"
)

// SetupListeners configures and starts the background Pub/Sub listeners.
// The job pipeline is attached to the dispatch subscription; every message
// published by the submission handler becomes one pipeline execution.
//
// Inputs:
//   - config: The application's configuration, containing topic settings.
//   - cloudClients: A struct containing all the initialized Google Cloud service clients.
//   - ctx: The application's root context, used to manage the lifecycle of the listeners.
func SetupListeners(config *cloud.Config, cloudClients *cloud.ServiceClients, ctx context.Context) {
	jobPipeline := workflow.NewJobPipeline(config, cloudClients, "descriptive-flash", "descriptive-text")
	cloudClients.PubSubListeners["JobDispatch"].SetCommand(jobPipeline)
	cloudClients.PubSubListeners["JobDispatch"].Listen(ctx)
}
