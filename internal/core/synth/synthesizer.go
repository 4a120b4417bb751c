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

// Package synth turns an analysis bundle into the final video description.
// The prompt is rendered with a Go template over the bundle alone, so the
// same bundle always produces the same prompt; regenerating a description
// differs only by model sampling, never by prompt assembly.
package synth

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/brightclip/video-describe/internal/core/analysis"
	"github.com/brightclip/video-describe/internal/core/model"
)

// DefaultDescriptionPrompt is used when the configuration carries no
// description template.
const DefaultDescriptionPrompt = `You are writing a single-paragraph description of a video for a content catalog.

Visual analysis found these concepts (with confidence):
{{range .Labels}}- {{.Name}} ({{printf "%.0f" .Confidence}})
{{end}}{{if .Entities}}Recognized entities: {{join .Entities ", "}}.
{{end}}{{if .OnScreenText}}On-screen text: {{join .OnScreenText " | "}}.
{{end}}{{if .Activities}}Observed activities: {{join .Activities ", "}}.
{{end}}{{if .HasTranscript}}Spoken audio transcript:
"{{.TranscriptText}}"
{{else}}The video has no usable speech audio; describe what is seen.
{{end}}
Write 2-4 sentences describing what happens in the video. Mention the setting, the main subjects, and any notable action. Do not mention that this text was generated from an analysis.`

// maxTranscriptChars bounds how much transcript is inlined into the prompt
// so a long video cannot blow the model's input window.
const maxTranscriptChars = 4000

// Output is a completed synthesis: the description plus its composite
// confidence and the model that produced it.
type Output struct {
	Description string
	Confidence  float64
	ModelID     string
}

// Synthesizer renders the deterministic prompt and calls the description
// generator with bounded retries.
type Synthesizer struct {
	generator   analysis.DescriptionGenerator
	template    *template.Template
	maxRetries  int
	baseBackoff time.Duration
}

// NewSynthesizer builds a synthesizer from the configured template text,
// falling back to the default prompt when the text is empty.
func NewSynthesizer(generator analysis.DescriptionGenerator, templateText string, maxRetries int, baseBackoff time.Duration) (*Synthesizer, error) {
	if templateText == "" {
		templateText = DefaultDescriptionPrompt
	}
	tmpl, err := template.New("description").
		Funcs(template.FuncMap{"join": strings.Join}).
		Parse(templateText)
	if err != nil {
		return nil, fmt.Errorf("invalid description template: %w", err)
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseBackoff <= 0 {
		baseBackoff = time.Second
	}
	return &Synthesizer{
		generator:   generator,
		template:    tmpl,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
	}, nil
}

// promptParams is the data the template sees. It is derived from the bundle
// only.
type promptParams struct {
	Labels         []model.Label
	Entities       []string
	OnScreenText   []string
	Activities     []string
	TopCategory    string
	HasTranscript  bool
	TranscriptText string
}

// BuildPrompt renders the prompt for a bundle. Exported so determinism is
// directly testable.
func (s *Synthesizer) BuildPrompt(bundle *model.AnalysisBundle) (string, error) {
	params := promptParams{
		Labels:        bundle.Visual.Labels,
		Entities:      bundle.Visual.Entities,
		OnScreenText:  bundle.Visual.OnScreenText,
		Activities:    bundle.Visual.Activities,
		TopCategory:   bundle.Visual.TopCategory,
		HasTranscript: bundle.HasTranscript(),
	}
	if params.HasTranscript {
		text := bundle.Transcript.Text
		if len(text) > maxTranscriptChars {
			cut := maxTranscriptChars
			// Back off to a rune boundary so the cut never splits a
			// multi-byte character.
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
		}
		params.TranscriptText = text
	}

	var buffer bytes.Buffer
	if err := s.template.Execute(&buffer, params); err != nil {
		return "", fmt.Errorf("failed to render description prompt: %w", err)
	}
	return buffer.String(), nil
}

// Synthesize generates the description for a bundle. Provider failures are
// retried with exponential backoff up to the bound, then surfaced as a
// synthesis error; an expired budget surfaces as a timeout.
func (s *Synthesizer) Synthesize(ctx context.Context, bundle *model.AnalysisBundle) (*Output, error) {
	prompt, err := s.BuildPrompt(bundle)
	if err != nil {
		return nil, model.NewJobError(model.ErrSynthesis, err)
	}

	var description string
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.baseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, model.NewJobError(model.ErrTimeout, ctx.Err())
			case <-time.After(backoff):
			}
		}
		description, lastErr = s.generator.GenerateDescription(ctx, prompt)
		if lastErr == nil && strings.TrimSpace(description) != "" {
			break
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("generator returned empty description")
		}
		if ctx.Err() != nil {
			return nil, model.NewJobError(model.ErrTimeout, lastErr)
		}
	}
	if lastErr != nil && strings.TrimSpace(description) == "" {
		return nil, model.NewJobError(model.ErrSynthesis,
			fmt.Errorf("synthesis failed after %d attempts: %w", s.maxRetries+1, lastErr))
	}

	description = strings.TrimSpace(description)
	return &Output{
		Description: description,
		Confidence:  ComputeConfidence(bundle, description),
		ModelID:     s.generator.ModelID(),
	}, nil
}

// ComputeConfidence scores a result in [0, 1] as the mean of the available
// signals: the top visual label confidences, the transcript confidence when
// present, and description length saturating at 200 characters.
func ComputeConfidence(bundle *model.AnalysisBundle, description string) float64 {
	components := make([]float64, 0, 3)

	if n := len(bundle.Visual.Labels); n > 0 {
		if n > 10 {
			n = 10
		}
		sum := 0.0
		for _, label := range bundle.Visual.Labels[:n] {
			sum += label.Confidence / 100.0
		}
		components = append(components, sum/float64(n))
	}

	if bundle.HasTranscript() {
		components = append(components, bundle.Transcript.Confidence)
	}

	lengthScore := float64(len(description)) / 200.0
	if lengthScore > 1.0 {
		lengthScore = 1.0
	}
	components = append(components, lengthScore)

	total := 0.0
	for _, c := range components {
		total += c
	}
	score := total / float64(len(components))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
