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

// Package modelregistry pulls trained extractors, chunkers and word vector
// dictionaries from a remote registry in an Ollama-style fashion.
package modelregistry

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/antflydb/nerconll/lib/features"
	"github.com/antflydb/nerconll/lib/ner"
	"github.com/bytedance/sonic"
)

// ModelType represents the kind of artifact a registry entry holds.
type ModelType string

const (
	ModelTypeExtractor   ModelType = "extractor"
	ModelTypeChunker     ModelType = "chunker"
	ModelTypeWordVectors ModelType = "vectors"
)

// ModelTypes lists every type in display order.
var ModelTypes = []ModelType{ModelTypeExtractor, ModelTypeChunker, ModelTypeWordVectors}

// ParseModelType parses a string into a ModelType
func ParseModelType(s string) (ModelType, error) {
	switch strings.ToLower(s) {
	case "extractor", "extractors":
		return ModelTypeExtractor, nil
	case "chunker", "chunkers":
		return ModelTypeChunker, nil
	case "vectors", "word-vectors", "embeddings":
		return ModelTypeWordVectors, nil
	default:
		return "", fmt.Errorf("unknown model type: %s (valid: extractor, chunker, vectors)", s)
	}
}

// String returns the string representation of the model type
func (t ModelType) String() string {
	return string(t)
}

// DirName returns the directory name for this model type (plural form)
func (t ModelType) DirName() string {
	switch t {
	case ModelTypeExtractor:
		return "extractors"
	case ModelTypeChunker:
		return "chunkers"
	case ModelTypeWordVectors:
		return "vectors"
	default:
		return string(t) + "s"
	}
}

// PrimaryFile is the file every model of this type must contain.
func (t ModelType) PrimaryFile() string {
	switch t {
	case ModelTypeExtractor:
		return ner.ExtractorFile
	case ModelTypeChunker:
		return ner.ChunkerFile
	case ModelTypeWordVectors:
		return features.DictionaryFile
	}
	return ""
}

// ModelFile represents a single file in the model manifest
type ModelFile struct {
	// Name is the filename (e.g., "ner_model.dat")
	Name string `json:"name"`
	// Digest is the SHA256 hash of the file (e.g., "sha256:abc123...")
	Digest string `json:"digest"`
	// Size is the file size in bytes
	Size int64 `json:"size"`
}

// ModelProvenance tracks model origin and download metadata
type ModelProvenance struct {
	// DownloadedFrom is the source: "registry", "s3", "local"
	DownloadedFrom string `json:"downloadedFrom"`
	// DownloadedAt is when the model was downloaded
	DownloadedAt time.Time `json:"downloadedAt"`
	// Location is the registry URL or object storage location
	Location string `json:"location,omitempty"`
}

// CurrentSchemaVersion is the current manifest schema version
const CurrentSchemaVersion = 1

// CurrentIndexSchemaVersion is the current registry index schema version
const CurrentIndexSchemaVersion = 1

// ModelManifest describes a model and its files
type ModelManifest struct {
	SchemaVersion int `json:"schemaVersion"`
	// Name is the model identifier (e.g., "conll03-en")
	Name string `json:"name"`
	// Owner is the namespace/organization
	Owner string `json:"owner,omitempty"`
	// Type is the artifact type
	Type ModelType `json:"type"`
	// Description is a human-readable description
	Description string `json:"description,omitempty"`
	// Labels lists the entity types an extractor emits
	Labels []string `json:"labels,omitempty"`
	// RunID is the training run id recorded in the model file
	RunID string `json:"runId,omitempty"`
	// Files lists all files of the model
	Files []ModelFile `json:"files"`
	// Provenance tracks where/when the model was obtained
	Provenance *ModelProvenance `json:"provenance,omitempty"`
}

// FullName returns the full owner/name format
// Falls back to just Name if Owner is empty
func (m *ModelManifest) FullName() string {
	if m.Owner != "" {
		return m.Owner + "/" + m.Name
	}
	return m.Name
}

// DirPath returns the directory path for this model using platform-appropriate separators.
func (m *ModelManifest) DirPath() string {
	if m.Owner != "" {
		return filepath.Join(m.Owner, m.Name)
	}
	return m.Name
}

// HasLabel reports whether an extractor emits label.
func (m *ModelManifest) HasLabel(label string) bool {
	return slices.Contains(m.Labels, label)
}

// Size is the total size of the model files.
func (m *ModelManifest) Size() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

// Validate checks that the manifest is well-formed
func (m *ModelManifest) Validate() error {
	if m.SchemaVersion < 1 || m.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %d (expected 1-%d)", m.SchemaVersion, CurrentSchemaVersion)
	}
	if m.Name == "" {
		return fmt.Errorf("manifest missing required field: name")
	}
	if strings.ContainsAny(m.Name, `/\`) || m.Name == "." || m.Name == ".." {
		return fmt.Errorf("invalid model name: %q", m.Name)
	}
	if m.Type == "" {
		return fmt.Errorf("manifest missing required field: type")
	}
	if _, err := ParseModelType(string(m.Type)); err != nil {
		return fmt.Errorf("invalid model type: %s", m.Type)
	}
	if len(m.Files) == 0 {
		return fmt.Errorf("manifest must have at least one file")
	}

	hasPrimary := false
	for _, f := range m.Files {
		if f.Name == "" {
			return fmt.Errorf("file entry missing name")
		}
		if filepath.Base(f.Name) != f.Name {
			return fmt.Errorf("file %s must not contain a path", f.Name)
		}
		if f.Digest == "" {
			return fmt.Errorf("file %s missing digest", f.Name)
		}
		if !strings.HasPrefix(f.Digest, "sha256:") {
			return fmt.Errorf("file %s has invalid digest format (expected sha256:...)", f.Name)
		}
		if f.Name == m.Type.PrimaryFile() {
			hasPrimary = true
		}
	}
	if !hasPrimary {
		return fmt.Errorf("%s manifest must include %s", m.Type, m.Type.PrimaryFile())
	}
	return nil
}

// ParseManifest parses a JSON manifest
func ParseManifest(data []byte) (*ModelManifest, error) {
	var manifest ModelManifest
	if err := sonic.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// RegistryIndex lists all available models in the registry
type RegistryIndex struct {
	// SchemaVersion is the index format version
	SchemaVersion int `json:"schemaVersion"`
	// Models lists all available model manifests
	Models []ModelIndexEntry `json:"models"`
}

// ModelIndexEntry is a summary of a model in the registry index
type ModelIndexEntry struct {
	Name        string    `json:"name"`
	Owner       string    `json:"owner,omitempty"`
	Type        ModelType `json:"type"`
	Description string    `json:"description,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	// Size is the total size of all files in bytes
	Size int64 `json:"size,omitempty"`
}

// ParseRegistryIndex parses a JSON registry index
func ParseRegistryIndex(data []byte) (*RegistryIndex, error) {
	var index RegistryIndex
	if err := sonic.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parsing registry index: %w", err)
	}
	if index.SchemaVersion < 1 || index.SchemaVersion > CurrentIndexSchemaVersion {
		return nil, fmt.Errorf("unsupported index schema version: %d (expected 1-%d)", index.SchemaVersion, CurrentIndexSchemaVersion)
	}
	return &index, nil
}

// ManifestFilename is the standard filename for model manifests
const ManifestFilename = "model_manifest.json"

// SaveTo writes the manifest to a file as JSON
func (m *ModelManifest) SaveTo(path string) error {
	data, err := sonic.ConfigStd.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// LoadManifestFromFile loads and validates a manifest from a file
func LoadManifestFromFile(path string) (*ModelManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return ParseManifest(data)
}

// LoadManifestFromDir loads a manifest from a model directory
func LoadManifestFromDir(modelDir string) (*ModelManifest, error) {
	return LoadManifestFromFile(filepath.Join(modelDir, ManifestFilename))
}

// ComputeFileDigest computes the SHA256 digest of a file in "sha256:..." format
func ComputeFileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}

	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

// ScanModelFiles scans a directory and returns ModelFile entries for all files
func ScanModelFiles(modelDir string) ([]ModelFile, error) {
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var files []ModelFile
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == ManifestFilename || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		filePath := filepath.Join(modelDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		digest, err := ComputeFileDigest(filePath)
		if err != nil {
			continue
		}

		files = append(files, ModelFile{
			Name:   entry.Name(),
			Digest: digest,
			Size:   info.Size(),
		})
	}

	return files, nil
}

// GenerateManifestFromDir creates a new manifest by scanning a model
// directory. Extractor and chunker files are opened to record their labels
// and training run id.
func GenerateManifestFromDir(modelDir, owner, name string, modelType ModelType) (*ModelManifest, error) {
	files, err := ScanModelFiles(modelDir)
	if err != nil {
		return nil, fmt.Errorf("scanning files: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no model files found in directory")
	}

	manifest := &ModelManifest{
		SchemaVersion: CurrentSchemaVersion,
		Name:          name,
		Owner:         owner,
		Type:          modelType,
		Files:         files,
		Provenance: &ModelProvenance{
			DownloadedFrom: "local",
			DownloadedAt:   time.Now(),
		},
	}

	primary := filepath.Join(modelDir, modelType.PrimaryFile())
	switch modelType {
	case ModelTypeExtractor:
		e, err := ner.LoadExtractor(primary)
		if err != nil {
			return nil, err
		}
		manifest.Labels = e.Tags()
		manifest.RunID = e.Meta.RunID
	case ModelTypeChunker:
		m, err := ner.LoadChunker(primary)
		if err != nil {
			return nil, err
		}
		manifest.RunID = m.Meta.RunID
	}

	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return manifest, nil
}
