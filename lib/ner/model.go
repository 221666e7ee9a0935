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

package ner

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/antflydb/nerconll/lib/chunking"
	"github.com/antflydb/nerconll/lib/classification"
	"github.com/antflydb/nerconll/lib/corpus"
	"github.com/antflydb/nerconll/lib/features"
	"github.com/bytedance/sonic"
	"github.com/oklog/ulid/v2"
)

const (
	// ChunkerFile is the default file name of a trained chunker.
	ChunkerFile = "trained_segmenter.dat"
	// ExtractorFile is the default file name of a trained extractor.
	ExtractorFile = "ner_model.dat"

	magic          = "NERCONLL"
	formatVersion  = uint16(1)
	maxSectionSize = 1 << 31
)

// ErrIncompatibleModel is returned when a model file cannot be decoded or
// does not hold the expected kind of model.
var ErrIncompatibleModel = errors.New("incompatible model file")

type artifactKind uint16

const (
	kindChunker   artifactKind = 1
	kindExtractor artifactKind = 2
)

func (k artifactKind) String() string {
	switch k {
	case kindChunker:
		return "chunker"
	case kindExtractor:
		return "extractor"
	}
	return fmt.Sprintf("kind(%d)", uint16(k))
}

// TrainingParams records the options a stage was trained with.
type TrainingParams struct {
	C         float64 `json:"c"`
	Epsilon   float64 `json:"eps"`
	Threads   int     `json:"threads"`
	CacheSize int     `json:"cache_size,omitempty"`
	MaxEpochs int     `json:"max_epochs"`
	BatchSize int     `json:"batch_size"`
	Seed      uint64  `json:"seed"`
	Epochs    int     `json:"epochs"`
	Samples   int     `json:"samples"`
}

// Metadata describes how and when a model was trained.
type Metadata struct {
	RunID      string          `json:"run_id"`
	CreatedAt  time.Time       `json:"created_at"`
	Chunker    *TrainingParams `json:"chunker,omitempty"`
	Classifier *TrainingParams `json:"classifier,omitempty"`
}

func newMetadata() Metadata {
	return Metadata{RunID: ulid.Make().String(), CreatedAt: time.Now().UTC()}
}

type labelState struct {
	Names []string `json:"names"`
	Codes []string `json:"codes"`
}

// WriteChunker encodes m to w.
func WriteChunker(w io.Writer, m *ChunkerModel) error {
	return writeModel(w, kindChunker, m.Meta, m.embedder.State(), m.segmenter.State())
}

// ReadChunker decodes a chunker written by WriteChunker.
func ReadChunker(r io.Reader) (*ChunkerModel, error) {
	if err := readHeader(r, kindChunker); err != nil {
		return nil, err
	}
	return readChunkerSections(r)
}

func readChunkerSections(r io.Reader) (*ChunkerModel, error) {
	var meta Metadata
	if err := readSection(r, "metadata", &meta); err != nil {
		return nil, err
	}
	var es features.State
	if err := readSection(r, "embedder", &es); err != nil {
		return nil, err
	}
	emb, err := features.FromState(&es)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncompatibleModel, err)
	}
	var ss chunking.State
	if err := readSection(r, "segmenter", &ss); err != nil {
		return nil, err
	}
	seg, err := chunking.FromState(&ss)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncompatibleModel, err)
	}
	return NewChunkerModel(emb, seg, meta)
}

// WriteExtractor encodes e to w.
func WriteExtractor(w io.Writer, e *Extractor) error {
	return writeModel(w, kindExtractor,
		e.Meta,
		e.chunker.embedder.State(),
		e.chunker.segmenter.State(),
		e.classifier.State(),
		labelState{Names: e.labels.names, Codes: e.labels.codes},
	)
}

// ReadExtractor decodes an extractor written by WriteExtractor.
func ReadExtractor(r io.Reader) (*Extractor, error) {
	if err := readHeader(r, kindExtractor); err != nil {
		return nil, err
	}
	chunker, err := readChunkerSections(r)
	if err != nil {
		return nil, err
	}
	meta := chunker.Meta
	chunker.Meta = Metadata{}
	var cs classification.State
	if err := readSection(r, "classifier", &cs); err != nil {
		return nil, err
	}
	clf, err := classification.FromState(&cs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncompatibleModel, err)
	}
	var ls labelState
	if err := readSection(r, "labels", &ls); err != nil {
		return nil, err
	}
	labels, err := NewLabelSet(ls.Names, corpus.Codes(ls.Codes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncompatibleModel, err)
	}
	return NewExtractor(labels, chunker, clf, meta)
}

// SaveChunker writes m to path.
func SaveChunker(path string, m *ChunkerModel) error {
	return saveFile(path, func(w io.Writer) error { return WriteChunker(w, m) })
}

// LoadChunker reads a chunker from path.
func LoadChunker(path string) (*ChunkerModel, error) {
	var m *ChunkerModel
	err := loadFile(path, func(r io.Reader) (err error) {
		m, err = ReadChunker(r)
		return err
	})
	return m, err
}

// SaveExtractor writes e to path.
func SaveExtractor(path string, e *Extractor) error {
	return saveFile(path, func(w io.Writer) error { return WriteExtractor(w, e) })
}

// LoadExtractor reads an extractor from path.
func LoadExtractor(path string) (*Extractor, error) {
	var e *Extractor
	err := loadFile(path, func(r io.Reader) (err error) {
		e, err = ReadExtractor(r)
		return err
	})
	return e, err
}

func writeModel(w io.Writer, kind artifactKind, sections ...any) error {
	header := make([]byte, 0, len(magic)+4)
	header = append(header, magic...)
	header = binary.BigEndian.AppendUint16(header, formatVersion)
	header = binary.BigEndian.AppendUint16(header, uint16(kind))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing model header: %w", err)
	}
	for i, s := range sections {
		data, err := sonic.Marshal(s)
		if err != nil {
			return fmt.Errorf("encoding model section %d: %w", i, err)
		}
		if len(data) > maxSectionSize {
			return fmt.Errorf("model section %d is too large (%d bytes)", i, len(data))
		}
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(data)))
		if _, err := w.Write(size[:]); err != nil {
			return fmt.Errorf("writing model section %d: %w", i, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("writing model section %d: %w", i, err)
		}
	}
	return nil
}

func readHeader(r io.Reader, want artifactKind) error {
	var header [len(magic) + 4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("%w: reading header: %w", ErrIncompatibleModel, err)
	}
	if string(header[:len(magic)]) != magic {
		return fmt.Errorf("%w: bad magic %q", ErrIncompatibleModel, header[:len(magic)])
	}
	if v := binary.BigEndian.Uint16(header[len(magic):]); v != formatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrIncompatibleModel, v)
	}
	if k := artifactKind(binary.BigEndian.Uint16(header[len(magic)+2:])); k != want {
		return fmt.Errorf("%w: file holds a %s, expected a %s", ErrIncompatibleModel, k, want)
	}
	return nil
}

func readSection(r io.Reader, name string, v any) error {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return fmt.Errorf("%w: reading %s section: %w", ErrIncompatibleModel, name, err)
	}
	n := int64(binary.BigEndian.Uint32(size[:]))
	if n > maxSectionSize {
		return fmt.Errorf("%w: %s section claims %d bytes", ErrIncompatibleModel, name, n)
	}
	// CopyN grows the buffer as data arrives so a corrupt length on a short
	// stream fails without allocating it up front.
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r, n); err != nil {
		return fmt.Errorf("%w: reading %s section: %w", ErrIncompatibleModel, name, err)
	}
	if err := sonic.Unmarshal(buf.Bytes(), v); err != nil {
		return fmt.Errorf("%w: decoding %s section: %w", ErrIncompatibleModel, name, err)
	}
	return nil
}

// saveFile writes through a temporary file in the target directory and
// renames it into place.
func saveFile(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	bw := bufio.NewWriterSize(f, 1<<20)
	if err := write(bw); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming model file: %w", err)
	}
	return nil
}

func loadFile(path string, read func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := read(bufio.NewReaderSize(f, 1<<20)); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}
