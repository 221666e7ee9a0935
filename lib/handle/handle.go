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

// Package handle exposes extractors and their results as tagged handles for
// callers on the far side of a foreign function boundary.
//
// A Handle holds either a loaded extractor or the detections of one
// extraction, and carries a Kind tag saying which. Free dispatches on the tag
// and resets it, so releasing the same handle twice is reported instead of
// silently accepted. Accessors trust the caller: kind and index checks only
// run in builds with the nerdebug tag.
package handle

import (
	"errors"
	"fmt"

	"github.com/antflydb/nerconll/lib/ner"
	"go.uber.org/zap"
)

// Kind tags the value held by a Handle.
type Kind uint32

const (
	KindInvalid    Kind = 0
	KindExtractor  Kind = 1234
	KindDetections Kind = 1235
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindExtractor:
		return "extractor"
	case KindDetections:
		return "detections"
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

var (
	// ErrAlreadyReleased is returned when freeing a handle that was already
	// freed or was never valid.
	ErrAlreadyReleased = errors.New("handle already released")

	// ErrLoad is returned when an extractor cannot be loaded.
	ErrLoad = errors.New("failed to load extractor")
)

// Handle is either an extractor or a detection set.
type Handle struct {
	kind       Kind
	extractor  *ner.Extractor
	tags       []string
	detections *ner.DetectionSet
}

// LoadExtractor reads the model at path into an extractor handle.
func LoadExtractor(path string) (*Handle, error) {
	e, err := ner.LoadExtractor(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return NewExtractor(e), nil
}

// Load is LoadExtractor for callers that cannot receive errors: failures are
// logged and reported as a nil handle.
func Load(path string, logger *zap.Logger) *Handle {
	h, err := LoadExtractor(path)
	if err != nil {
		if logger != nil {
			logger.Warn("Failed to load extractor", zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	return h
}

// NewExtractor wraps an already loaded extractor.
func NewExtractor(e *ner.Extractor) *Handle {
	return &Handle{kind: KindExtractor, extractor: e, tags: e.Tags()}
}

// Kind returns the tag of h. A nil handle is invalid.
func (h *Handle) Kind() Kind {
	if h == nil {
		return KindInvalid
	}
	return h.kind
}

// NumTags returns the number of labels an extractor handle can emit.
func (h *Handle) NumTags() int {
	checkKind(h, KindExtractor)
	return len(h.tags)
}

// TagString returns the name of label i of an extractor handle.
func (h *Handle) TagString(i int) string {
	checkKind(h, KindExtractor)
	checkIndex(i, len(h.tags))
	return h.tags[i]
}

// Extract runs an extractor handle over text and returns a new detections
// handle that the caller owns.
func (h *Handle) Extract(text string) *Handle {
	checkKind(h, KindExtractor)
	return &Handle{kind: KindDetections, detections: h.extractor.Extract(text)}
}

// NumDetections returns the number of detections in a detections handle.
func (h *Handle) NumDetections() int {
	checkKind(h, KindDetections)
	return h.detections.Len()
}

// DetectionPosition returns the byte offset of detection i.
func (h *Handle) DetectionPosition(i int) int {
	return h.detection(i).Begin
}

// DetectionLength returns the byte length of detection i.
func (h *Handle) DetectionLength(i int) int {
	return h.detection(i).Length
}

// DetectionTag returns the label index of detection i.
func (h *Handle) DetectionTag(i int) int {
	return h.detection(i).Label
}

// DetectionTagString returns the label name of detection i.
func (h *Handle) DetectionTagString(i int) string {
	return h.detection(i).Tag
}

func (h *Handle) detection(i int) ner.Detection {
	checkKind(h, KindDetections)
	checkIndex(i, h.detections.Len())
	return h.detections.At(i)
}

// Free releases whatever h holds and marks it invalid. Freeing a nil handle
// does nothing; freeing an invalid or already freed handle returns
// ErrAlreadyReleased.
func Free(h *Handle) error {
	if h == nil {
		return nil
	}
	switch h.kind {
	case KindExtractor:
		h.extractor, h.tags = nil, nil
	case KindDetections:
		h.detections = nil
	default:
		return fmt.Errorf("%w: kind %s", ErrAlreadyReleased, h.kind)
	}
	h.kind = KindInvalid
	return nil
}
