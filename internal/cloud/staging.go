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

package cloud

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// StagedObject identifies one video parked in the staging bucket for the
// lifetime of a job. The URI is what gets handed to the generative models as
// multi-modal file data.
type StagedObject struct {
	Bucket   string
	Name     string
	MIMEType string
	Size     int64
}

// URI returns the object's "gs://" address.
func (o *StagedObject) URI() string {
	return fmt.Sprintf("gs://%s/%s", o.Bucket, o.Name)
}

// StagingStore parks fetched video bytes somewhere the analysis providers
// can read them, and removes them when a job finishes. It is an interface so
// pipeline tests can run against an in-memory fake.
type StagingStore interface {
	// Put streams r into the store under name and returns the staged object.
	Put(ctx context.Context, name string, mimeType string, r io.Reader) (*StagedObject, error)
	// Delete removes a staged object. Best effort on job teardown.
	Delete(ctx context.Context, uri string) error
}

// GCSStagingStore is the Cloud Storage implementation of StagingStore.
type GCSStagingStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStagingStore creates a staging store over the given bucket.
func NewGCSStagingStore(client *storage.Client, bucket string) *GCSStagingStore {
	return &GCSStagingStore{client: client, bucket: bucket}
}

// Put streams r into the staging bucket. The writer is chunked, so the copy
// never buffers the whole video in memory.
func (s *GCSStagingStore) Put(ctx context.Context, name string, mimeType string, r io.Reader) (*StagedObject, error) {
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = mimeType

	n, err := io.Copy(w, r)
	if err != nil {
		// Closing after a failed copy would finalize a truncated object, so
		// close and remove whatever was written.
		_ = w.Close()
		_ = s.client.Bucket(s.bucket).Object(name).Delete(ctx)
		return nil, fmt.Errorf("failed to stage object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize staged object %s: %w", name, err)
	}

	return &StagedObject{Bucket: s.bucket, Name: name, MIMEType: mimeType, Size: n}, nil
}

// Delete removes the object addressed by a "gs://" URI.
func (s *GCSStagingStore) Delete(ctx context.Context, uri string) error {
	bucket, name, err := ParseGCSURI(uri)
	if err != nil {
		return err
	}
	return s.client.Bucket(bucket).Object(name).Delete(ctx)
}

// ParseGCSURI splits a "gs://bucket/object" URI into its bucket and object
// name.
func ParseGCSURI(uri string) (bucket string, name string, err error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	if trimmed == uri {
		return "", "", fmt.Errorf("not a gs:// uri: %s", uri)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed gs:// uri: %s", uri)
	}
	return parts[0], parts[1], nil
}
