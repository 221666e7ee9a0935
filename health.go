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
	"net/http"

	"github.com/bytedance/sonic/encoder"
)

// Version information - set at build time via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// HealthResponse is the response for /healthz endpoint
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for /readyz endpoint
type ReadyResponse struct {
	Status     string     `json:"status"`
	Extractors int        `json:"extractors"`
	Loaded     int        `json:"loaded"`
	Queue      QueueStats `json:"queue"`
}

// handleHealthz returns 200 if the service is running (liveness check)
func (n *Node) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// handleReadyz returns 200 once at least one extractor is available.
func (n *Node) handleReadyz(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ready"}
	if n.extractors != nil {
		resp.Extractors = len(n.extractors.List())
		resp.Loaded = len(n.extractors.ListLoaded())
	}
	if n.requestQueue != nil {
		resp.Queue = n.requestQueue.Stats()
	}

	status := http.StatusOK
	if resp.Extractors == 0 {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = encoder.NewStreamEncoder(w).Encode(resp)
}
