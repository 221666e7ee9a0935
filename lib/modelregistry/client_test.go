// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modelregistry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func digestOf(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func TestClientFetchIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/index.json" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"schemaVersion": 1,
				"models": [
					{"name": "conll03-en", "owner": "antfly", "type": "extractor", "size": 1000}
				]
			}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL + "/v1/"))

	index, err := client.FetchIndex(context.Background())
	if err != nil {
		t.Fatalf("FetchIndex() error = %v", err)
	}
	if len(index.Models) != 1 {
		t.Fatalf("len(Models) = %v, want 1", len(index.Models))
	}
	if index.Models[0].Name != "conll03-en" {
		t.Errorf("Models[0].Name = %v, want conll03-en", index.Models[0].Name)
	}

	bad := NewClient(WithBaseURL(server.URL + "/missing"))
	if _, err := bad.FetchIndex(context.Background()); err == nil {
		t.Error("Expected error for missing index")
	}
}

func TestClientFetchManifest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/manifests/antfly/conll03-en.json" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"schemaVersion": 1,
				"name": "conll03-en",
				"owner": "antfly",
				"type": "chunker",
				"files": [
					{"name": "trained_segmenter.dat", "digest": "sha256:abc123", "size": 1000}
				]
			}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL + "/v1"))

	t.Run("existing model", func(t *testing.T) {
		manifest, err := client.FetchManifest(context.Background(), MustParseModelRef("antfly/conll03-en"))
		if err != nil {
			t.Fatalf("FetchManifest() error = %v", err)
		}
		if manifest.Type != ModelTypeChunker {
			t.Errorf("Type = %v, want chunker", manifest.Type)
		}
	})

	t.Run("non-existent model", func(t *testing.T) {
		_, err := client.FetchManifest(context.Background(), MustParseModelRef("not-found"))
		if !errors.Is(err, ErrModelNotFound) {
			t.Errorf("FetchManifest() error = %v, want ErrModelNotFound", err)
		}
	})
}

func TestClientPullModel(t *testing.T) {
	testContent := []byte("NERCONLL test model content")
	testDigest := digestOf(testContent)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/blobs/"+testDigest {
			_, _ = w.Write(testContent)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	var progressed int64
	client := NewClient(
		WithBaseURL(server.URL+"/v1"),
		WithLogger(zaptest.NewLogger(t)),
		WithProgressHandler(func(downloaded, total int64, filename string) {
			progressed = downloaded
		}),
	)

	manifest := &ModelManifest{
		SchemaVersion: 1,
		Name:          "conll03-en",
		Owner:         "antfly",
		Type:          ModelTypeExtractor,
		Files: []ModelFile{
			{Name: "ner_model.dat", Digest: testDigest, Size: int64(len(testContent))},
		},
	}

	tmpDir := t.TempDir()
	dir, err := client.PullModel(context.Background(), manifest, tmpDir)
	if err != nil {
		t.Fatalf("PullModel() error = %v", err)
	}
	if want := filepath.Join(tmpDir, "extractors", "antfly", "conll03-en"); dir != want {
		t.Errorf("PullModel() dir = %v, want %v", dir, want)
	}

	content, err := os.ReadFile(filepath.Join(dir, "ner_model.dat"))
	if err != nil {
		t.Fatalf("Failed to read downloaded file: %v", err)
	}
	if string(content) != string(testContent) {
		t.Errorf("File content mismatch")
	}
	if progressed != int64(len(testContent)) {
		t.Errorf("progress = %v, want %v", progressed, len(testContent))
	}

	local, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatalf("LoadManifestFromDir() error = %v", err)
	}
	if local.Provenance == nil || local.Provenance.DownloadedFrom != "registry" {
		t.Errorf("Provenance = %+v", local.Provenance)
	}
	if manifest.Provenance != nil {
		t.Error("PullModel should not modify the caller's manifest")
	}
}

func TestClientSkipsExistingFile(t *testing.T) {
	testContent := []byte("existing content")
	testDigest := digestOf(testContent)

	downloadCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloadCount++
		_, _ = w.Write(testContent)
	}))
	defer server.Close()

	client := NewClient(
		WithBaseURL(server.URL+"/v1"),
		WithLogger(zap.NewNop()),
	)

	manifest := &ModelManifest{
		SchemaVersion: 1,
		Name:          "conll03-en",
		Type:          ModelTypeChunker,
		Files: []ModelFile{
			{Name: "trained_segmenter.dat", Digest: testDigest, Size: int64(len(testContent))},
		},
	}

	tmpDir := t.TempDir()
	modelDir := filepath.Join(tmpDir, "chunkers", "conll03-en")
	if err := os.MkdirAll(modelDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, "trained_segmenter.dat"), testContent, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := client.PullModel(context.Background(), manifest, tmpDir); err != nil {
		t.Fatalf("PullModel() error = %v", err)
	}
	if downloadCount > 0 {
		t.Errorf("Expected 0 downloads for existing file, got %d", downloadCount)
	}
}

func TestClientHashMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("wrong content"))
	}))
	defer server.Close()

	client := NewClient(
		WithBaseURL(server.URL+"/v1"),
		WithLogger(zap.NewNop()),
	)

	manifest := &ModelManifest{
		SchemaVersion: 1,
		Name:          "conll03-en",
		Type:          ModelTypeExtractor,
		Files: []ModelFile{
			{Name: "ner_model.dat", Digest: "sha256:expected_hash", Size: 13},
		},
	}

	tmpDir := t.TempDir()
	if _, err := client.PullModel(context.Background(), manifest, tmpDir); err == nil {
		t.Fatal("Expected error for hash mismatch")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "extractors", "conll03-en", "ner_model.dat")); !os.IsNotExist(err) {
		t.Error("Mismatched download should not be left in place")
	}
}

func TestNewClientOptions(t *testing.T) {
	var progressCalled bool
	client := NewClient(
		WithBaseURL("https://custom.registry.com/v2/"),
		WithLogger(zap.NewNop()),
		WithProgressHandler(func(downloaded, total int64, filename string) {
			progressCalled = true
		}),
	)

	if client.baseURL != "https://custom.registry.com/v2" {
		t.Errorf("baseURL = %v, want https://custom.registry.com/v2", client.baseURL)
	}

	client.progressHandler(100, 1000, "ner_model.dat")
	if !progressCalled {
		t.Error("Progress handler was not called")
	}
}
