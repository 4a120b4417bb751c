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

package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	goctx "context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"

	"github.com/brightclip/video-describe/internal/cloud"
	"github.com/brightclip/video-describe/internal/core/model"
)

// maxLabels bounds how many visual labels are kept from a single analysis.
const maxLabels = 20

// geminiTelemetry bundles the per-provider token and retry counters.
type geminiTelemetry struct {
	inputTokenCounter  metric.Int64Counter
	outputTokenCounter metric.Int64Counter
	retryCounter       metric.Int64Counter
}

func newGeminiTelemetry(name string) geminiTelemetry {
	meter := otel.Meter("github.com/brightclip/video-describe")
	var t geminiTelemetry
	t.inputTokenCounter, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.token.input", name))
	t.outputTokenCounter, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.token.output", name))
	t.retryCounter, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.retry", name))
	return t
}

// stagedContents builds the multi-modal request: the prompt text plus the
// staged video referenced by its GCS URI.
func stagedContents(prompt string, staged *cloud.StagedObject) []*genai.Content {
	return []*genai.Content{
		{
			Parts: []*genai.Part{
				{Text: prompt},
				{FileData: &genai.FileData{
					FileURI:  staged.URI(),
					MIMEType: staged.MIMEType,
				}},
			},
			Role: "user",
		},
	}
}

// GeminiVisualAnalyzer implements VisualAnalyzer with a Gemini model that
// returns structured JSON.
type GeminiVisualAnalyzer struct {
	model     *cloud.QuotaAwareGenerativeAIModel
	prompt    string
	telemetry geminiTelemetry
}

// NewGeminiVisualAnalyzer creates a visual analyzer using the given
// rate-limited model and prompt text.
func NewGeminiVisualAnalyzer(model *cloud.QuotaAwareGenerativeAIModel, prompt string) *GeminiVisualAnalyzer {
	return &GeminiVisualAnalyzer{
		model:     model,
		prompt:    prompt,
		telemetry: newGeminiTelemetry("visual-analyzer"),
	}
}

// AnalyzeVisual sends the staged video to the model and decodes the
// structured response. Labels come back sorted by confidence and capped.
func (a *GeminiVisualAnalyzer) AnalyzeVisual(ctx goctx.Context, staged *cloud.StagedObject) (*model.VisualAnalysis, error) {
	out, err := cloud.GenerateMultiModalResponse(ctx,
		a.telemetry.inputTokenCounter, a.telemetry.outputTokenCounter, a.telemetry.retryCounter,
		a.model, stagedContents(a.prompt, staged))
	if err != nil {
		return nil, fmt.Errorf("visual analysis request failed: %w", err)
	}

	var visual model.VisualAnalysis
	if err := json.Unmarshal([]byte(out), &visual); err != nil {
		return nil, fmt.Errorf("failed to decode visual analysis response: %w", err)
	}

	sort.SliceStable(visual.Labels, func(i, j int) bool {
		return visual.Labels[i].Confidence > visual.Labels[j].Confidence
	})
	if len(visual.Labels) > maxLabels {
		visual.Labels = visual.Labels[:maxLabels]
	}
	if visual.TopCategory == "" && len(visual.Labels) > 0 {
		visual.TopCategory = visual.Labels[0].Name
	}
	visual.OnScreenText = dedupeText(visual.OnScreenText)

	return &visual, nil
}

// dedupeText drops duplicates and fragments too short to carry meaning.
func dedupeText(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if len(s) <= 2 {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

// transcriptionResponse is the JSON shape the transcription prompt asks the
// model for. has_audio false means the video carries no usable audio track.
type transcriptionResponse struct {
	HasAudio        bool    `json:"has_audio"`
	Text            string  `json:"text"`
	LanguageCode    string  `json:"language_code"`
	Confidence      float64 `json:"confidence"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// GeminiTranscriber implements Transcriber with a Gemini model.
type GeminiTranscriber struct {
	model     *cloud.QuotaAwareGenerativeAIModel
	prompt    string
	telemetry geminiTelemetry
}

// NewGeminiTranscriber creates a transcriber using the given rate-limited
// model and prompt text.
func NewGeminiTranscriber(model *cloud.QuotaAwareGenerativeAIModel, prompt string) *GeminiTranscriber {
	return &GeminiTranscriber{
		model:     model,
		prompt:    prompt,
		telemetry: newGeminiTelemetry("transcriber"),
	}
}

// Transcribe sends the staged video to the model. Silent videos return
// (nil, nil).
func (t *GeminiTranscriber) Transcribe(ctx goctx.Context, staged *cloud.StagedObject) (*model.Transcript, error) {
	out, err := cloud.GenerateMultiModalResponse(ctx,
		t.telemetry.inputTokenCounter, t.telemetry.outputTokenCounter, t.telemetry.retryCounter,
		t.model, stagedContents(t.prompt, staged))
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}

	var resp transcriptionResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}
	if !resp.HasAudio || strings.TrimSpace(resp.Text) == "" {
		return nil, nil
	}

	text := strings.TrimSpace(resp.Text)
	return &model.Transcript{
		Text:            text,
		LanguageCode:    resp.LanguageCode,
		Confidence:      resp.Confidence,
		WordCount:       len(strings.Fields(text)),
		DurationSeconds: resp.DurationSeconds,
	}, nil
}

// GeminiGenerator implements DescriptionGenerator with a text-out Gemini
// model.
type GeminiGenerator struct {
	model     *cloud.QuotaAwareGenerativeAIModel
	telemetry geminiTelemetry
}

// NewGeminiGenerator creates a description generator over the given
// rate-limited model.
func NewGeminiGenerator(model *cloud.QuotaAwareGenerativeAIModel) *GeminiGenerator {
	return &GeminiGenerator{
		model:     model,
		telemetry: newGeminiTelemetry("description-generator"),
	}
}

// GenerateDescription sends the rendered prompt and returns the model's text.
func (g *GeminiGenerator) GenerateDescription(ctx goctx.Context, prompt string) (string, error) {
	out, err := cloud.GenerateMultiModalResponse(ctx,
		g.telemetry.inputTokenCounter, g.telemetry.outputTokenCounter, g.telemetry.retryCounter,
		g.model, cloud.NewTextPart(prompt))
	if err != nil {
		return "", fmt.Errorf("description request failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ModelID returns the configured Vertex AI model name.
func (g *GeminiGenerator) ModelID() string {
	return g.model.ModelName
}
