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

// Package fetch retrieves video content for a job: it resolves hosting-page
// references to direct media URLs, streams the bytes with the size ceiling
// enforced mid-download, and parks them in the staging store for the
// analysis providers to read.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
)

// hostingDomains are sites whose URLs point at watch pages rather than media
// files. References on these hosts go through the resolver before download.
var hostingDomains = []string{
	"youtube.com",
	"youtu.be",
	"vimeo.com",
	"dailymotion.com",
	"twitch.tv",
}

// Resolver turns a hosting-page reference into a direct media URL.
type Resolver interface {
	Resolve(ctx context.Context, reference string) (string, error)
}

// IsHostingReference reports whether the reference points at a known video
// hosting page. Unparseable input returns false; validation happened at
// submission time.
func IsHostingReference(reference string) bool {
	u, err := url.Parse(reference)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range hostingDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// YtDlpResolver resolves hosting pages by shelling out to the yt-dlp binary
// with --get-url, which prints the direct media URL without downloading.
type YtDlpResolver struct {
	binaryPath string
}

// NewYtDlpResolver creates a resolver using the given binary, defaulting to
// "yt-dlp" on the PATH.
func NewYtDlpResolver(binaryPath string) *YtDlpResolver {
	if binaryPath == "" {
		binaryPath = "yt-dlp"
	}
	return &YtDlpResolver{binaryPath: binaryPath}
}

// Resolve runs yt-dlp and returns the first URL it prints. yt-dlp may emit
// separate video and audio URLs for split formats; the first line is the
// combined or best video stream.
func (r *YtDlpResolver) Resolve(ctx context.Context, reference string) (string, error) {
	cmd := exec.CommandContext(ctx, r.binaryPath, "-f", "b", "--get-url", "--no-warnings", reference)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("yt-dlp failed for %s: %w, stderr: %s", reference, err, stderr.String())
	}

	resolved := strings.TrimSpace(out.String())
	if resolved == "" {
		return "", fmt.Errorf("yt-dlp returned no URL for %s", reference)
	}

	lines := strings.Split(resolved, "\n")
	return strings.TrimSpace(lines[0]), nil
}
