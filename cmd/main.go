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

// Command nerconll trains, tests and serves two-stage CoNLL named entity
// extractors.
//
// Usage:
//
//	nerconll train-chunker train.conll      # Train the span chunker
//	nerconll train-id train.conll           # Train the span classifier
//	nerconll test-id --format json test.conll
//	nerconll tag-file ner_model.dat doc.txt # Tag a plain text file
//	nerconll serve                          # Start the HTTP extraction node
//	nerconll pull <model>                   # Download a model from the registry
//	nerconll list --remote                  # List models in the registry
package main

import (
	"io"
	"runtime"

	json "github.com/antflydb/antfly-go/libaf/json"
	"github.com/antflydb/nerconll/cmd/cmd"
	gojson "github.com/goccy/go-json"
)

func init() {
	// Configure the JSON wrapper to use goccy/go-json for performance
	json.SetConfig(json.Config{
		Marshal:   gojson.Marshal,
		Unmarshal: gojson.Unmarshal,
		MarshalString: func(v any) (string, error) {
			data, err := gojson.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
		UnmarshalString: func(s string, v any) error {
			return gojson.Unmarshal([]byte(s), v)
		},
		NewEncoder: func(w io.Writer) json.Encoder {
			return gojson.NewEncoder(w)
		},
		NewDecoder: func(r io.Reader) json.Decoder {
			return gojson.NewDecoder(r)
		},
	})
}

// https://goreleaser.com/cookbooks/using-main.version/
//
// By default, GoReleaser will set the following 3 ldflags:
//
// main.version: Current Git tag (the v prefix is stripped) or the name of the snapshot, if you're using the --snapshot flag
var version = "dev"

// main.commit: Current git commit SHA
// commit = "none"
// main.date: Date in the RFC3339 format
// date = "unknown"

func main() {
	runtime.SetMutexProfileFraction(1) // Enable mutex profiling
	runtime.SetBlockProfileRate(1)     // Sample every blocking event
	cmd.Version = version
	cmd.Execute()
}
