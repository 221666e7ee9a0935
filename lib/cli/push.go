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

package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/antflydb/nerconll/lib/features"
	"github.com/antflydb/nerconll/lib/modelregistry"
	"github.com/antflydb/nerconll/lib/modelstore"
	"github.com/antflydb/nerconll/lib/ner"
)

// PushOptions contains options for pushing a model to object storage.
type PushOptions struct {
	ModelType string
	Out       io.Writer
}

// VerifyModel opens the model at path the way the runtime would.
func VerifyModel(path string, modelType modelregistry.ModelType) error {
	var err error
	switch modelType {
	case modelregistry.ModelTypeExtractor:
		_, err = ner.LoadExtractor(path)
	case modelregistry.ModelTypeChunker:
		_, err = ner.LoadChunker(path)
	case modelregistry.ModelTypeWordVectors:
		_, err = features.LoadDictionary(filepath.Dir(path))
	default:
		err = fmt.Errorf("unknown model type: %s", modelType)
	}
	if err != nil {
		return fmt.Errorf("verifying %s: %w", path, err)
	}
	return nil
}

// PushToStore uploads a model file, or the primary file of a model
// directory, to s3://bucket/key.
func PushToStore(ctx context.Context, store ObjectStore, localPath, rawURL string, opts PushOptions) (*modelstore.Object, error) {
	out := output(opts.Out)

	modelType, err := modelregistry.ParseModelType(opts.ModelType)
	if err != nil {
		return nil, err
	}
	if filepath.Base(localPath) != modelType.PrimaryFile() {
		localPath = filepath.Join(localPath, modelType.PrimaryFile())
	}

	loc, err := modelstore.ParseURL(rawURL, modelType.PrimaryFile())
	if err != nil {
		return nil, err
	}
	if err := VerifyModel(localPath, modelType); err != nil {
		return nil, err
	}

	_, _ = fmt.Fprintf(out, "Pushing %s to %s\n", localPath, loc)
	obj, err := store.Push(ctx, localPath, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to push model: %w", err)
	}
	_, _ = fmt.Fprintf(out, "✓ Pushed %s (%s, sha256 %s)\n", obj.Location, FormatBytes(obj.Size), obj.SHA256)
	return obj, nil
}
