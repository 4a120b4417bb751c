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

// Package analysis runs the two-branch analysis fan-out over a staged video:
// visual understanding and audio transcription. The provider capabilities
// are interfaces so the pipeline can be exercised end to end with
// deterministic fakes; the production implementations call Gemini on Vertex
// AI with the staged object as multi-modal file data.
package analysis

import (
	"context"

	"github.com/brightclip/video-describe/internal/cloud"
	"github.com/brightclip/video-describe/internal/core/model"
)

// VisualAnalyzer extracts labels, entities, on-screen text, and activities
// from a staged video.
type VisualAnalyzer interface {
	AnalyzeVisual(ctx context.Context, staged *cloud.StagedObject) (*model.VisualAnalysis, error)
}

// Transcriber extracts the spoken-word transcript from a staged video. A
// video with no usable audio track returns (nil, nil); that is a normal
// outcome, not an error.
type Transcriber interface {
	Transcribe(ctx context.Context, staged *cloud.StagedObject) (*model.Transcript, error)
}

// DescriptionGenerator produces the final natural-language description from
// a fully rendered prompt.
type DescriptionGenerator interface {
	GenerateDescription(ctx context.Context, prompt string) (string, error)
	// ModelID identifies the underlying model, recorded with each result.
	ModelID() string
}
