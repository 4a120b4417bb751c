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

package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"

	"github.com/brightclip/video-describe/internal/cloud"
	"github.com/brightclip/video-describe/internal/core/model"
)

// sniffLen is how many leading bytes are inspected to determine the media
// type. 262 bytes covers every signature filetype knows.
const sniffLen = 262

var errTooLarge = errors.New("video exceeds maximum size")

// ContentFetcher downloads a video reference and stages the bytes for
// analysis. The size ceiling is enforced twice: against Content-Length when
// the server reports it, and incrementally while streaming, so an oversized
// or lying server never fills the staging bucket.
type ContentFetcher struct {
	httpClient  *http.Client
	staging     cloud.StagingStore
	resolver    Resolver
	maxBytes    int64
	userAgent   string
	maxRetries  int
	baseBackoff time.Duration
}

// NewContentFetcher creates a fetcher with the given staging store and
// resolver. downloadTimeout bounds a single HTTP transfer; the per-job
// budget on ctx still applies on top. maxRetries is the number of extra
// attempts made after a transient failure.
func NewContentFetcher(staging cloud.StagingStore, resolver Resolver, maxBytes int64, downloadTimeout time.Duration, userAgent string, maxRetries int, baseBackoff time.Duration) *ContentFetcher {
	if downloadTimeout <= 0 {
		downloadTimeout = 10 * time.Minute
	}
	if baseBackoff <= 0 {
		baseBackoff = time.Second
	}
	return &ContentFetcher{
		httpClient:  &http.Client{Timeout: downloadTimeout},
		staging:     staging,
		resolver:    resolver,
		maxBytes:    maxBytes,
		userAgent:   userAgent,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
	}
}

// Fetch retrieves the referenced video and stages it under the job's name.
// Hosting-page references are resolved to direct media URLs first. Errors
// carry the failure classification: ErrTooLarge for the size ceiling,
// ErrUnreachable for transport failures, ErrFetchFailed for bad responses.
// Transient failures (unreachable, bad response) are retried with
// exponential backoff before becoming fatal; the size ceiling and invalid
// references fail immediately.
func (f *ContentFetcher) Fetch(ctx context.Context, jobID string, reference string) (*cloud.StagedObject, error) {
	target := reference
	if IsHostingReference(reference) {
		if f.resolver == nil {
			return nil, model.NewJobError(model.ErrFetchFailed,
				fmt.Errorf("no resolver configured for hosting reference %s", reference))
		}
		resolved, err := f.resolver.Resolve(ctx, reference)
		if err != nil {
			return nil, model.NewJobError(model.ErrFetchFailed, err)
		}
		target = resolved
	}

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := f.baseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, model.NewJobError(model.ErrTimeout, ctx.Err())
			case <-time.After(backoff):
			}
		}
		staged, err := f.download(ctx, jobID, target, reference)
		if err == nil {
			return staged, nil
		}
		lastErr = err
		if !retryableKind(model.KindOf(err)) || ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// retryableKind reports whether a fetch failure is worth another attempt.
// Oversized and malformed references never improve on retry.
func retryableKind(kind model.ErrorKind) bool {
	return kind == model.ErrUnreachable || kind == model.ErrFetchFailed
}

// download makes a single HTTP attempt and stages the body.
func (f *ContentFetcher) download(ctx context.Context, jobID string, target string, reference string) (*cloud.StagedObject, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, model.NewJobError(model.ErrInvalidReference, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, model.NewJobError(model.ErrTimeout, ctx.Err())
		}
		return nil, model.NewJobError(model.ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		kind := model.ErrFetchFailed
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			kind = model.ErrUnreachable
		}
		return nil, model.NewJobError(kind, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, reference))
	}

	// Reject early when the server admits the body is oversized. Servers
	// that omit or understate Content-Length are caught by the counting
	// reader below.
	if resp.ContentLength > f.maxBytes {
		return nil, model.NewJobError(model.ErrTooLarge,
			fmt.Errorf("content length %d exceeds limit %d", resp.ContentLength, f.maxBytes))
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, model.NewJobError(model.ErrFetchFailed, err)
	}
	head = head[:n]

	mimeType := sniffMIMEType(head, resp.Header.Get("Content-Type"))

	body := io.MultiReader(bytes.NewReader(head), resp.Body)
	limited := &countingReader{r: body, remaining: f.maxBytes}

	objectName := fmt.Sprintf("staged/%s", jobID)
	staged, err := f.staging.Put(ctx, objectName, mimeType, limited)
	if err != nil {
		if errors.Is(err, errTooLarge) || limited.exceeded {
			return nil, model.NewJobError(model.ErrTooLarge,
				fmt.Errorf("download exceeded limit of %d bytes", f.maxBytes))
		}
		if ctx.Err() != nil {
			return nil, model.NewJobError(model.ErrTimeout, ctx.Err())
		}
		return nil, model.NewJobError(model.ErrFetchFailed, err)
	}

	return staged, nil
}

// sniffMIMEType prefers the magic-byte signature over the server's header,
// since misconfigured origins routinely serve video as octet-stream.
func sniffMIMEType(head []byte, headerType string) string {
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if headerType != "" {
		return headerType
	}
	return matchers.TypeMp4.MIME.Value
}

// countingReader enforces the size ceiling while streaming. Exceeding the
// ceiling fails the copy mid-transfer rather than after buffering the rest.
type countingReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.exceeded {
		return 0, errTooLarge
	}
	// Read at most one byte past the ceiling so a body of exactly the
	// maximum size still succeeds.
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	if int64(n) > c.remaining {
		c.exceeded = true
		return n, errTooLarge
	}
	c.remaining -= int64(n)
	return n, err
}
