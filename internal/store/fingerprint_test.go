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

package store_test

import (
	"strings"
	"testing"

	"github.com/zeebo/assert"

	"github.com/brightclip/video-describe/internal/store"
)

func TestNormalizeReference(t *testing.T) {
	got, err := store.NormalizeReference("  HTTPS://Videos.Example.COM:443/Clips/a.mp4/#t=30  ")
	assert.NoError(t, err)
	assert.Equal(t, "https://videos.example.com/Clips/a.mp4", got)
}

func TestNormalizeReferenceEquivalentSpellings(t *testing.T) {
	a, err := store.NormalizeReference("https://videos.example.com/clips/a.mp4")
	assert.NoError(t, err)
	b, err := store.NormalizeReference("HTTPS://VIDEOS.EXAMPLE.COM/clips/a.mp4#frag")
	assert.NoError(t, err)
	assert.Equal(t, store.Fingerprint(a), store.Fingerprint(b))
}

func TestNormalizeReferenceRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"ftp://example.com/a.mp4",
		"not a url",
		"https://" + strings.Repeat("a", store.MaxReferenceLength) + ".com/v.mp4",
	}
	for _, in := range cases {
		_, err := store.NormalizeReference(in)
		assert.Error(t, err)
	}
}

func TestFingerprintIsStable(t *testing.T) {
	fp := store.Fingerprint("https://videos.example.com/clips/a.mp4")
	assert.Equal(t, 64, len(fp))
	assert.Equal(t, fp, store.Fingerprint("https://videos.example.com/clips/a.mp4"))
}
