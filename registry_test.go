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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExtractorRegistry_DiscoverAndLoad(t *testing.T) {
	modelsDir := writeModels(t, "conll", "antfly/news")

	r, err := NewExtractorRegistry(RegistryConfig{ModelsDir: modelsDir, PoolSize: 2}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.Equal(t, []string{"antfly/news", "conll"}, r.List())
	assert.Empty(t, r.ListLoaded())
	assert.False(t, r.IsLoaded("conll"))

	m, err := r.Get("conll")
	require.NoError(t, err)
	assert.Equal(t, []string{"PERSON", "LOCATION", "ORGANIZATION", "MISC"}, m.Labels())
	assert.True(t, r.IsLoaded("conll"))
	assert.Equal(t, []string{"conll"}, r.ListLoaded())

	info, ok := r.Info("conll")
	require.True(t, ok)
	assert.Equal(t, "01JTESTRUN", info.RunID)
	assert.Equal(t, filepath.Join(modelsDir, "extractors", "conll", "ner_model.dat"), info.Path)

	again, err := r.Get("conll")
	require.NoError(t, err)
	assert.Same(t, m, again)
}

func TestExtractorRegistry_NotFound(t *testing.T) {
	r, err := NewExtractorRegistry(RegistryConfig{ModelsDir: writeModels(t, "conll")}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrModelNotFound)

	_, ok := r.Info("missing")
	assert.False(t, ok)
}

func TestExtractorRegistry_MissingModelsDir(t *testing.T) {
	r, err := NewExtractorRegistry(RegistryConfig{ModelsDir: filepath.Join(t.TempDir(), "nope")}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	assert.Empty(t, r.List())

	r2, err := NewExtractorRegistry(RegistryConfig{}, nil)
	require.NoError(t, err)
	defer func() { _ = r2.Close() }()
	assert.Empty(t, r2.List())
}

func TestExtractorRegistry_CorruptModel(t *testing.T) {
	modelsDir := t.TempDir()
	dir := filepath.Join(modelsDir, "extractors", "broken")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ner_model.dat"), []byte("garbage"), 0644))

	r, err := NewExtractorRegistry(RegistryConfig{ModelsDir: modelsDir}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.Equal(t, []string{"broken"}, r.List())
	_, err = r.Get("broken")
	assert.Error(t, err)
	assert.False(t, r.IsLoaded("broken"))

	assert.Error(t, r.Preload([]string{"broken"}))
}

func TestExtractorRegistry_ConcurrentGetSharesLoad(t *testing.T) {
	r, err := NewExtractorRegistry(RegistryConfig{ModelsDir: writeModels(t, "conll")}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	var wg sync.WaitGroup
	got := make([]any, 8)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := r.Get("conll")
			assert.NoError(t, err)
			got[i] = m
		}()
	}
	wg.Wait()
	for _, m := range got[1:] {
		assert.Same(t, got[0], m)
	}
}

func TestExtractorRegistry_CapacityEvicts(t *testing.T) {
	r, err := NewExtractorRegistry(RegistryConfig{
		ModelsDir:       writeModels(t, "a", "b"),
		MaxLoadedModels: 1,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Get("a")
	require.NoError(t, err)
	_, err = r.Get("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, r.ListLoaded())
}

func TestExtractorRegistry_KeepAliveExpires(t *testing.T) {
	r, err := NewExtractorRegistry(RegistryConfig{
		ModelsDir: writeModels(t, "conll"),
		KeepAlive: 50 * time.Millisecond,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Get("conll")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return !r.IsLoaded("conll") }, 5*time.Second, 20*time.Millisecond)
}

func TestExtractorRegistry_Preload(t *testing.T) {
	r, err := NewExtractorRegistry(RegistryConfig{ModelsDir: writeModels(t, "a", "b")}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	require.NoError(t, r.Preload(nil))
	require.NoError(t, r.Preload([]string{"a", "missing"}))
	assert.Equal(t, []string{"a"}, r.ListLoaded())
}
