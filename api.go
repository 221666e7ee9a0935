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
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/antflydb/nerconll/lib/ner"
	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"
)

// MaxTextsPerRequest bounds the batch size of one extraction request.
const MaxTextsPerRequest = 1024

// ExtractRequest is the body of POST /api/extract.
type ExtractRequest struct {
	// Model is the extractor name (required)
	Model string `json:"model"`
	// Texts to extract entities from
	Texts []string `json:"texts"`
}

// Detection is one entity in an extraction response. Begin and Length are
// byte offsets into the request text.
type Detection struct {
	Begin  int    `json:"begin"`
	Length int    `json:"length"`
	Label  int    `json:"label"`
	Tag    string `json:"tag"`
	Text   string `json:"text"`
}

// ExtractResponse is the body returned by POST /api/extract.
type ExtractResponse struct {
	Model      string        `json:"model"`
	Detections [][]Detection `json:"detections"`
}

// ModelsResponse is the body returned by GET /api/models.
type ModelsResponse struct {
	Models []string `json:"models"`
	Loaded []string `json:"loaded"`
}

// VersionResponse is the body returned by GET /api/version.
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// NewAPI returns the /api handler of a node.
func NewAPI(n *Node) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/extract", n.handleApiExtract)
	mux.HandleFunc("GET /api/models", n.handleApiModels)
	mux.HandleFunc("GET /api/version", n.handleApiVersion)
	return mux
}

func (n *Node) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := encoder.NewStreamEncoder(w).Encode(v); err != nil {
		n.logger.Error("encoding response", zap.Error(err))
	}
}

// handleApiExtract runs the named extractor over a batch of texts
func (n *Node) handleApiExtract(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	start := time.Now()

	if n.extractors == nil || len(n.extractors.List()) == 0 {
		http.Error(w, "extraction not available: no models configured", http.StatusServiceUnavailable)
		return
	}

	var req ExtractRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}
	if len(req.Texts) == 0 {
		http.Error(w, "texts are required", http.StatusBadRequest)
		return
	}
	if len(req.Texts) > MaxTextsPerRequest {
		http.Error(w, fmt.Sprintf("too many texts: %d (max %d)", len(req.Texts), MaxTextsPerRequest), http.StatusBadRequest)
		return
	}

	model, err := n.extractors.Get(req.Model)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrModelNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	// Apply backpressure via request queue
	if n.requestQueue != nil {
		release, err := n.requestQueue.Acquire(r.Context())
		if err != nil {
			switch {
			case errors.Is(err, ErrQueueFull):
				RecordQueueRejection()
				WriteQueueFullResponse(w, 5*time.Second)
			case errors.Is(err, ErrRequestTimeout):
				WriteTimeoutResponse(w)
			default:
				http.Error(w, "request cancelled", http.StatusRequestTimeout)
			}
			return
		}
		defer release()
	}

	var entities [][]ner.Entity
	if n.cache != nil {
		entities, err = n.cache.Recognize(r.Context(), req.Model, model, req.Texts)
	} else {
		entities, err = model.Recognize(r.Context(), req.Texts)
	}
	if err != nil {
		n.logger.Error("extraction failed",
			zap.String("model", req.Model),
			zap.Int("num_texts", len(req.Texts)),
			zap.Error(err))
		RecordRequestDuration("extract", req.Model, "500", time.Since(start).Seconds())
		http.Error(w, fmt.Sprintf("extraction failed: %v", err), http.StatusInternalServerError)
		return
	}

	resp := ExtractResponse{
		Model:      req.Model,
		Detections: make([][]Detection, len(entities)),
	}
	total := 0
	for i, textEntities := range entities {
		resp.Detections[i] = make([]Detection, len(textEntities))
		for j, e := range textEntities {
			resp.Detections[i][j] = Detection{
				Begin:  e.Start,
				Length: e.End - e.Start,
				Label:  e.LabelID,
				Tag:    e.Label,
				Text:   e.Text,
			}
			RecordDetection(req.Model, e.Label)
		}
		total += len(textEntities)
	}

	RecordExtractRequest(req.Model)
	RecordRequestDuration("extract", req.Model, strconv.Itoa(http.StatusOK), time.Since(start).Seconds())
	n.logger.Debug("extraction request completed",
		zap.String("model", req.Model),
		zap.Int("num_texts", len(req.Texts)),
		zap.Int("total_detections", total))

	n.writeJSON(w, http.StatusOK, resp)
}

func (n *Node) handleApiModels(w http.ResponseWriter, r *http.Request) {
	resp := ModelsResponse{Models: []string{}, Loaded: []string{}}
	if n.extractors != nil {
		resp.Models = n.extractors.List()
		resp.Loaded = n.extractors.ListLoaded()
	}
	n.writeJSON(w, http.StatusOK, resp)
}

func (n *Node) handleApiVersion(w http.ResponseWriter, r *http.Request) {
	n.writeJSON(w, http.StatusOK, VersionResponse{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	})
}
