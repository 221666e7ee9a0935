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
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// LocalModel is a model found under a models directory.
type LocalModel struct {
	Ref  ModelRef
	Type ModelType
	Dir  string
	// Manifest is nil for models copied in by hand.
	Manifest *ModelManifest
}

// Path returns the model's primary file.
func (m LocalModel) Path() string {
	return filepath.Join(m.Dir, m.Type.PrimaryFile())
}

// ListLocal walks modelsDir/<type>/[owner/]name looking for directories that
// contain the type's primary file. A missing modelsDir lists nothing.
func ListLocal(modelsDir string, modelType ModelType) ([]LocalModel, error) {
	root := filepath.Join(modelsDir, modelType.DirName())
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}

	var models []LocalModel
	add := func(ref ModelRef, dir string) {
		if _, err := os.Stat(filepath.Join(dir, modelType.PrimaryFile())); err != nil {
			return
		}
		m := LocalModel{Ref: ref, Type: modelType, Dir: dir}
		if manifest, err := LoadManifestFromDir(dir); err == nil {
			m.Manifest = manifest
		}
		models = append(models, m)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, modelType.PrimaryFile())); err == nil {
			add(ModelRef{Name: entry.Name()}, dir)
			continue
		}
		// owner/name layout
		sub, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, s := range sub {
			if s.IsDir() {
				add(ModelRef{Owner: entry.Name(), Name: s.Name()}, filepath.Join(dir, s.Name()))
			}
		}
	}

	sort.Slice(models, func(i, j int) bool {
		return models[i].Ref.FullName() < models[j].Ref.FullName()
	})
	return models, nil
}

// FindLocal resolves a reference to an installed model.
func FindLocal(modelsDir string, modelType ModelType, ref ModelRef) (LocalModel, error) {
	dir := filepath.Join(modelsDir, modelType.DirName(), ref.DirPath())
	m := LocalModel{Ref: ref, Type: modelType, Dir: dir}
	if _, err := os.Stat(m.Path()); err != nil {
		return LocalModel{}, fmt.Errorf("%w: %s %s", ErrModelNotFound, modelType, ref)
	}
	if manifest, err := LoadManifestFromDir(dir); err == nil {
		m.Manifest = manifest
	}
	return m, nil
}
