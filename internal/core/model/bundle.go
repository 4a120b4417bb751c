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

package model

import "time"

// TranscriptState records what happened on the transcription branch. A video
// with no audio track and a video whose transcription failed after retries
// both produce a bundle without a transcript, but the two are distinguished
// here for observability.
type TranscriptState string

const (
	// TranscriptAvailable means transcription succeeded and Transcript is set.
	TranscriptAvailable TranscriptState = "available"
	// TranscriptAbsent means the video carries no usable audio track.
	TranscriptAbsent TranscriptState = "absent"
	// TranscriptUnavailable means transcription failed after retries and the
	// job proceeded on visual analysis alone.
	TranscriptUnavailable TranscriptState = "unavailable"
)

// Label is a visual concept detected in the video with the provider's
// confidence, on a 0-100 scale.
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// VisualAnalysis is the structured output of the visual branch.
type VisualAnalysis struct {
	Labels          []Label  `json:"labels"`                     // Detected concepts, ordered by confidence.
	Entities        []string `json:"entities,omitempty"`         // Recognized public figures or named entities.
	OnScreenText    []string `json:"on_screen_text,omitempty"`   // Deduplicated text detected in frames.
	Activities      []string `json:"activities,omitempty"`       // Observed actions or activities.
	TopCategory     string   `json:"top_category,omitempty"`     // Highest-confidence label name.
	DurationSeconds float64  `json:"duration_seconds,omitempty"` // Video length as reported by the analyzer.
}

// Transcript is the structured output of the audio branch.
type Transcript struct {
	Text            string  `json:"text"`
	LanguageCode    string  `json:"language_code,omitempty"`
	Confidence      float64 `json:"confidence"` // Provider confidence in [0, 1].
	WordCount       int     `json:"word_count"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// AnalysisBundle is everything the analysis fan-out learned about one video.
// It is what the synthesizer consumes and what the fingerprint cache stores,
// so a cache hit can skip fetching and analysis entirely.
type AnalysisBundle struct {
	Visual          VisualAnalysis  `json:"visual"`
	Transcript      *Transcript     `json:"transcript,omitempty"`
	TranscriptState TranscriptState `json:"transcript_state"`
}

// HasTranscript reports whether a usable transcript is present.
func (b *AnalysisBundle) HasTranscript() bool {
	return b.TranscriptState == TranscriptAvailable && b.Transcript != nil && b.Transcript.Text != ""
}

// CacheEntry is the value stored in the fingerprint cache: the full bundle
// plus the synthesized description, so repeat submissions skip every
// provider call.
type CacheEntry struct {
	Fingerprint string         `json:"fingerprint"`
	Bundle      AnalysisBundle `json:"bundle"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	ModelID     string         `json:"model_id"`
	CreatedAt   time.Time      `json:"created_at"`
}
