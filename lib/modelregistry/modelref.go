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
	"path/filepath"
	"strings"
)

// ModelRef represents a parsed model reference
type ModelRef struct {
	// Owner is the namespace/organization (e.g., "antfly")
	Owner string
	// Name is the model name (e.g., "conll03-en")
	Name string
}

// FullName returns "owner/name" format
func (r ModelRef) FullName() string {
	if r.Owner == "" {
		return r.Name
	}
	return r.Owner + "/" + r.Name
}

// DirPath returns the directory path relative to the model type directory
func (r ModelRef) DirPath() string {
	if r.Owner == "" {
		return r.Name
	}
	return filepath.Join(r.Owner, r.Name)
}

// String returns a human-readable representation
func (r ModelRef) String() string {
	return r.FullName()
}

// ParseModelRef parses model references:
//
//	"antfly/conll03-en" -> Owner: antfly, Name: conll03-en
//	"conll03-en"        -> Owner: "", Name: conll03-en
func ParseModelRef(ref string) (ModelRef, error) {
	if ref == "" {
		return ModelRef{}, fmt.Errorf("empty model reference")
	}

	var result ModelRef
	if owner, name, ok := strings.Cut(ref, "/"); ok {
		result.Owner, result.Name = owner, name
		if owner == "" {
			return ModelRef{}, fmt.Errorf("model reference has empty owner: %q", ref)
		}
	} else {
		result.Name = ref
	}

	if result.Name == "" {
		return ModelRef{}, fmt.Errorf("model reference has empty name: %q", ref)
	}
	if strings.ContainsAny(result.Name, `/\:`) || result.Name == "." || result.Name == ".." {
		return ModelRef{}, fmt.Errorf("invalid model name: %q", result.Name)
	}

	return result, nil
}

// MustParseModelRef parses a model reference or panics
func MustParseModelRef(ref string) ModelRef {
	r, err := ParseModelRef(ref)
	if err != nil {
		panic(err)
	}
	return r
}

// ModelRefFromManifest creates a ModelRef from a manifest
func ModelRefFromManifest(m *ModelManifest) ModelRef {
	return ModelRef{
		Owner: m.Owner,
		Name:  m.Name,
	}
}
