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

// Package cli provides the model management commands shared by the nerconll
// binary: pulling from the registry or object storage, pushing, and listing.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/antflydb/nerconll/lib/modelregistry"
	"github.com/antflydb/nerconll/lib/modelstore"
)

// PullOptions contains options for pulling models from the registry
type PullOptions struct {
	RegistryURL string
	ModelsDir   string
	// Out receives progress and status lines. Defaults to stdout.
	Out io.Writer
}

// ListOptions contains options for listing models
type ListOptions struct {
	RegistryURL string
	ModelsDir   string
	TypeFilter  string
	BinaryName  string // Used for help messages
	Out         io.Writer
}

// ObjectStore moves model files in and out of object storage.
type ObjectStore interface {
	Push(ctx context.Context, localPath string, loc modelstore.Location) (*modelstore.Object, error)
	Fetch(ctx context.Context, loc modelstore.Location, dir string) (string, error)
}

// StorePullOptions contains options for pulling a model out of object storage.
type StorePullOptions struct {
	ModelsDir string
	ModelType string
	// Name defaults to the directory holding the object.
	Name string
	Out  io.Writer
}

func output(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}

// PullFromRegistry pulls a model from the model registry. modelRef is
// "name" or "owner/name". It returns the directory the model was written to.
func PullFromRegistry(ctx context.Context, modelRef string, opts PullOptions) (string, error) {
	out := output(opts.Out)

	ref, err := modelregistry.ParseModelRef(modelRef)
	if err != nil {
		return "", err
	}

	client := modelregistry.NewClient(
		modelregistry.WithBaseURL(opts.RegistryURL),
		modelregistry.WithProgressHandler(ProgressPrinter(out)),
	)

	_, _ = fmt.Fprintf(out, "Fetching manifest for %s...\n", ref)
	manifest, err := client.FetchManifest(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to fetch manifest: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Model: %s\n", manifest.FullName())
	_, _ = fmt.Fprintf(out, "Type:  %s\n", manifest.Type)
	if manifest.Description != "" {
		_, _ = fmt.Fprintf(out, "Description: %s\n", manifest.Description)
	}
	if len(manifest.Labels) > 0 {
		_, _ = fmt.Fprintf(out, "Labels: %s\n", strings.Join(manifest.Labels, ", "))
	}
	_, _ = fmt.Fprintf(out, "Total size: %s\n\n", FormatBytes(manifest.Size()))

	_, _ = fmt.Fprintln(out, "Downloading files...")
	destDir, err := client.PullModel(ctx, manifest, opts.ModelsDir)
	if err != nil {
		return "", fmt.Errorf("failed to pull model: %w", err)
	}

	_, _ = fmt.Fprintf(out, "\n✓ Model pulled successfully to %s\n", destDir)
	return destDir, nil
}

// PullFromStore fetches a model object from s3://bucket/key into the models
// directory and writes a manifest for it.
func PullFromStore(ctx context.Context, store ObjectStore, rawURL string, opts StorePullOptions) (string, error) {
	out := output(opts.Out)

	if opts.ModelType == "" {
		return "", fmt.Errorf("--type flag is required for object storage pulls (extractor, chunker, vectors)")
	}
	modelType, err := modelregistry.ParseModelType(opts.ModelType)
	if err != nil {
		return "", err
	}

	loc, err := modelstore.ParseURL(rawURL, modelType.PrimaryFile())
	if err != nil {
		return "", err
	}
	if path.Base(loc.Key) != modelType.PrimaryFile() {
		return "", fmt.Errorf("object %s is not a %s file (expected %s)", loc, modelType, modelType.PrimaryFile())
	}

	name := opts.Name
	if name == "" {
		name = path.Base(path.Dir(loc.Key))
		if name == "." || name == "/" {
			name = loc.Bucket
		}
	}
	ref, err := modelregistry.ParseModelRef(name)
	if err != nil {
		return "", err
	}

	destDir := filepath.Join(opts.ModelsDir, modelType.DirName(), ref.DirPath())
	_, _ = fmt.Fprintf(out, "Pulling %s from %s\n", modelType, loc)
	if _, err := store.Fetch(ctx, loc, destDir); err != nil {
		return "", fmt.Errorf("failed to pull model: %w", err)
	}

	manifest, err := modelregistry.GenerateManifestFromDir(destDir, ref.Owner, ref.Name, modelType)
	if err != nil {
		return "", fmt.Errorf("fetched model is not usable: %w", err)
	}
	manifest.Provenance = &modelregistry.ModelProvenance{
		DownloadedFrom: modelstore.Scheme,
		DownloadedAt:   time.Now(),
		Location:       loc.String(),
	}
	if err := manifest.SaveTo(filepath.Join(destDir, modelregistry.ManifestFilename)); err != nil {
		return "", err
	}

	_, _ = fmt.Fprintf(out, "✓ Model pulled successfully to %s\n", destDir)
	return destDir, nil
}

// ListRemoteModels lists models available in the remote registry
func ListRemoteModels(ctx context.Context, opts ListOptions) error {
	out := output(opts.Out)

	client := modelregistry.NewClient(
		modelregistry.WithBaseURL(opts.RegistryURL),
	)

	_, _ = fmt.Fprintf(out, "Fetching model list from %s...\n\n", opts.RegistryURL)

	index, err := client.FetchIndex(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch registry index: %w", err)
	}

	if len(index.Models) == 0 {
		_, _ = fmt.Fprintln(out, "No models available in registry")
		return nil
	}

	var filteredType modelregistry.ModelType
	if opts.TypeFilter != "" {
		filteredType, err = modelregistry.ParseModelType(opts.TypeFilter)
		if err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTYPE\tSIZE\tLABELS\tDESCRIPTION")

	for _, model := range index.Models {
		if filteredType != "" && model.Type != filteredType {
			continue
		}

		name := model.Name
		if model.Owner != "" {
			name = model.Owner + "/" + model.Name
		}

		desc := model.Description
		if len(desc) > 50 {
			desc = desc[:47] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			name,
			model.Type,
			FormatBytes(model.Size),
			strings.Join(model.Labels, ","),
			desc,
		)
	}
	return w.Flush()
}

// ListLocalModels lists locally installed models
func ListLocalModels(opts ListOptions) error {
	out := output(opts.Out)
	_, _ = fmt.Fprintf(out, "Local models in %s:\n\n", opts.ModelsDir)

	var filteredType modelregistry.ModelType
	if opts.TypeFilter != "" {
		var err error
		filteredType, err = modelregistry.ParseModelType(opts.TypeFilter)
		if err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTYPE\tSIZE\tSOURCE\tLABELS")

	totalModels := 0
	for _, modelType := range modelregistry.ModelTypes {
		if filteredType != "" && modelType != filteredType {
			continue
		}

		models, err := modelregistry.ListLocal(opts.ModelsDir, modelType)
		if err != nil {
			return err
		}
		for _, m := range models {
			size, source, labels := dirSize(m.Dir), "local", ""
			if m.Manifest != nil {
				labels = strings.Join(m.Manifest.Labels, ",")
				if m.Manifest.Provenance != nil {
					source = m.Manifest.Provenance.DownloadedFrom
				}
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				m.Ref.FullName(),
				modelType,
				FormatBytes(size),
				source,
				labels,
			)
			totalModels++
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if totalModels == 0 {
		binaryName := opts.BinaryName
		if binaryName == "" {
			binaryName = "nerconll"
		}
		_, _ = fmt.Fprintln(out, "No models found locally.")
		_, _ = fmt.Fprintf(out, "\nUse '%s pull <model-name>' to download models.\n", binaryName)
		_, _ = fmt.Fprintf(out, "Use '%s list --remote' to see available models.\n", binaryName)
	}

	return nil
}

func dirSize(dir string) int64 {
	var total int64
	files, _ := os.ReadDir(dir)
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if info, err := f.Info(); err == nil {
			total += info.Size()
		}
	}
	return total
}

// FormatBytes formats bytes as human-readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// ProgressPrinter returns a progress handler drawing a bar on w.
func ProgressPrinter(w io.Writer) modelregistry.ProgressHandler {
	return func(downloaded, total int64, filename string) {
		if total <= 0 {
			_, _ = fmt.Fprintf(w, "\r  %s: %s", filename, FormatBytes(downloaded))
			return
		}

		percent := float64(downloaded) / float64(total) * 100
		barWidth := 30
		filled := min(int(float64(barWidth)*float64(downloaded)/float64(total)), barWidth)

		bar := strings.Repeat("=", filled) + strings.Repeat("-", barWidth-filled)
		_, _ = fmt.Fprintf(w, "\r  %s: [%s] %.1f%% (%s/%s)",
			filename, bar, percent, FormatBytes(downloaded), FormatBytes(total))

		if downloaded >= total {
			_, _ = fmt.Fprintln(w)
		}
	}
}
