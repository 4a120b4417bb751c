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

// Package store implements the Redis-backed persistence for the service: the
// job store with its conditional status writes, the fingerprint cache, and
// the reference normalization both of them key on.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// MaxReferenceLength bounds accepted video references. Anything longer is
// rejected before normalization.
const MaxReferenceLength = 2048

// NormalizeReference canonicalizes a video reference so that trivially
// different spellings of the same URL fingerprint identically: scheme and
// host are lowercased, the fragment is dropped, default ports and trailing
// slashes are removed. Returns an error for anything that is not an
// absolute http(s) URL.
func NormalizeReference(reference string) (string, error) {
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return "", fmt.Errorf("empty video reference")
	}
	if len(trimmed) > MaxReferenceLength {
		return "", fmt.Errorf("video reference exceeds %d characters", MaxReferenceLength)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("unparseable video reference: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("video reference has no host")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String(), nil
}

// Fingerprint returns the content fingerprint of a normalized reference: the
// hex SHA-256 of the canonical URL. Two submissions of the same video under
// equivalent references share a fingerprint and therefore a cache entry.
func Fingerprint(normalizedReference string) string {
	sum := sha256.Sum256([]byte(normalizedReference))
	return hex.EncodeToString(sum[:])
}
