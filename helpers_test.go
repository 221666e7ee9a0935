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

package nerconll

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/antflydb/nerconll/lib/chunking"
	"github.com/antflydb/nerconll/lib/classification"
	"github.com/antflydb/nerconll/lib/features"
	"github.com/antflydb/nerconll/lib/modelregistry"
	"github.com/antflydb/nerconll/lib/ner"
	"github.com/stretchr/testify/require"
)

// A token vector of the test model holds 8 shape entries and 4 affix buckets.
const (
	tokenDims    = 12
	shapeBias    = 0
	shapeInitCap = 1
	shapeAllCaps = 2
)

// buildExtractor returns a hand weighted extractor that chunks runs of
// capitalized words, labels all-caps spans ORGANIZATION and everything else
// PERSON.
func buildExtractor(t *testing.T) *ner.Extractor {
	t.Helper()
	emb := features.NewEmbedder(nil, features.Config{HashBuckets: 4, SpanBuckets: 16})
	dims := emb.Dims()

	emit := make([]float64, 3*dims)
	emit[0*dims+tokenDims+shapeBias] = 1
	emit[1*dims+tokenDims+shapeInitCap] = 2
	emit[2*dims+tokenDims+shapeInitCap] = 2
	trans := make([]float64, 4*3)
	trans[1*3+2] = 0.5
	seg, err := chunking.FromState(&chunking.State{Dims: dims, Emit: emit, Trans: trans})
	require.NoError(t, err)
	chunker, err := ner.NewChunkerModel(emb, seg, ner.Metadata{RunID: "chunker"})
	require.NoError(t, err)

	labels := ner.DefaultLabelSet()
	spanDims := emb.SpanDims()
	w := make([]float64, (labels.Len()+1)*spanDims)
	w[0*spanDims+shapeBias] = 1
	w[2*spanDims+tokenDims+shapeAllCaps] = 3
	clf, err := classification.FromState(&classification.State{
		NumClasses: labels.Len() + 1,
		Dims:       spanDims,
		Weights:    w,
	})
	require.NoError(t, err)

	e, err := ner.NewExtractor(labels, chunker, clf, ner.Metadata{RunID: "01JTESTRUN"})
	require.NoError(t, err)
	return e
}

// writeModels lays out extractors under modelsDir/extractors/<name>.
func writeModels(t *testing.T, names ...string) string {
	t.Helper()
	modelsDir := t.TempDir()
	e := buildExtractor(t)
	for _, name := range names {
		dir := filepath.Join(modelsDir, modelregistry.ModelTypeExtractor.DirName(), filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, ner.SaveExtractor(filepath.Join(dir, ner.ExtractorFile), e))
	}
	return modelsDir
}
