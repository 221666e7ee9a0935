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

// Command libner builds the extractor as a C shared library:
//
//	go build -buildmode=c-shared -o libner.so ./cmd/libner
//
// Handles cross the boundary as non-zero integer ids; 0 means null. Only ids
// returned by ner_load_extractor and ner_extract are owned by the caller and
// must be passed to ner_free exactly once. Strings returned by the tag
// accessors stay valid until the handle they came from is freed.
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/antflydb/nerconll/lib/handle"
	"go.uber.org/zap"
)

var (
	handles = handle.NewTable()
	logger  = newLogger()

	stringsMu sync.Mutex
	cstrings  = map[uint64]map[string]*C.char{}
)

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l.Named("libner")
}

// cstring returns a C copy of s owned by handle id.
func cstring(id uint64, s string) *C.char {
	stringsMu.Lock()
	defer stringsMu.Unlock()
	m := cstrings[id]
	if m == nil {
		m = map[string]*C.char{}
		cstrings[id] = m
	}
	if p, ok := m[s]; ok {
		return p
	}
	p := C.CString(s)
	m[s] = p
	return p
}

func freeStrings(id uint64) {
	stringsMu.Lock()
	m := cstrings[id]
	delete(cstrings, id)
	stringsMu.Unlock()
	for _, p := range m {
		C.free(unsafe.Pointer(p))
	}
}

//export ner_load_extractor
func ner_load_extractor(path *C.char) C.ulonglong {
	return C.ulonglong(handles.Put(handle.Load(C.GoString(path), logger)))
}

//export ner_num_tags
func ner_num_tags(id C.ulonglong) C.ulong {
	return C.ulong(handles.Get(uint64(id)).NumTags())
}

//export ner_tag_string
func ner_tag_string(id C.ulonglong, i C.ulong) *C.char {
	return cstring(uint64(id), handles.Get(uint64(id)).TagString(int(i)))
}

//export ner_extract
func ner_extract(id C.ulonglong, text *C.char) C.ulonglong {
	h := handles.Get(uint64(id))
	if h == nil || h.Kind() != handle.KindExtractor {
		return 0
	}
	return C.ulonglong(handles.Put(h.Extract(C.GoString(text))))
}

//export ner_num_detections
func ner_num_detections(id C.ulonglong) C.ulong {
	return C.ulong(handles.Get(uint64(id)).NumDetections())
}

//export ner_detection_position
func ner_detection_position(id C.ulonglong, i C.ulong) C.ulong {
	return C.ulong(handles.Get(uint64(id)).DetectionPosition(int(i)))
}

//export ner_detection_length
func ner_detection_length(id C.ulonglong, i C.ulong) C.ulong {
	return C.ulong(handles.Get(uint64(id)).DetectionLength(int(i)))
}

//export ner_detection_tag
func ner_detection_tag(id C.ulonglong, i C.ulong) C.ulong {
	return C.ulong(handles.Get(uint64(id)).DetectionTag(int(i)))
}

//export ner_detection_tag_string
func ner_detection_tag_string(id C.ulonglong, i C.ulong) *C.char {
	return cstring(uint64(id), handles.Get(uint64(id)).DetectionTagString(int(i)))
}

// ner_free releases a handle. Releasing an unknown or already released id
// aborts the process.
//
//export ner_free
func ner_free(id C.ulonglong) {
	if id == 0 {
		return
	}
	err := handles.Release(uint64(id))
	if errors.Is(err, handle.ErrAlreadyReleased) {
		fmt.Fprintf(os.Stderr, "libner: ner_free(%d): %v\n", uint64(id), err)
		C.abort()
	}
	freeStrings(uint64(id))
}

func main() {}
