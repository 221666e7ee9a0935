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
	"context"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueFull is returned when too many requests are already waiting.
	ErrQueueFull = errors.New("request queue is full")
	// ErrRequestTimeout is returned when a request waited longer than the
	// configured timeout for a slot.
	ErrRequestTimeout = errors.New("request timed out waiting in queue")
)

// RequestQueueConfig configures backpressure.
type RequestQueueConfig struct {
	// MaxConcurrentRequests defaults to the number of CPUs.
	MaxConcurrentRequests int
	// MaxQueueSize bounds waiting requests; 0 means unbounded.
	MaxQueueSize int
	// RequestTimeout bounds the wait for a slot; 0 means no timeout.
	RequestTimeout time.Duration
}

// QueueStats is a snapshot of the queue.
type QueueStats struct {
	CurrentActive int64 `json:"active"`
	CurrentQueued int64 `json:"queued"`
}

// RequestQueue limits how many extraction requests run at once.
type RequestQueue struct {
	sem      *semaphore.Weighted
	maxQueue int64
	timeout  time.Duration
	logger   *zap.Logger

	active atomic.Int64
	queued atomic.Int64
}

// NewRequestQueue creates a request queue.
func NewRequestQueue(config RequestQueueConfig, logger *zap.Logger) *RequestQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := config.MaxConcurrentRequests
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	return &RequestQueue{
		sem:      semaphore.NewWeighted(int64(limit)),
		maxQueue: int64(config.MaxQueueSize),
		timeout:  config.RequestTimeout,
		logger:   logger,
	}
}

// Acquire waits for a slot. The returned func releases it.
func (q *RequestQueue) Acquire(ctx context.Context) (func(), error) {
	if !q.sem.TryAcquire(1) {
		if q.maxQueue > 0 && q.queued.Load() >= q.maxQueue {
			return nil, ErrQueueFull
		}
		q.queued.Add(1)
		waitCtx := ctx
		if q.timeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, q.timeout)
			defer cancel()
		}
		err := q.sem.Acquire(waitCtx, 1)
		q.queued.Add(-1)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrRequestTimeout
			}
			return nil, err
		}
	}

	queueActiveRequests.Set(float64(q.active.Add(1)))
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			queueActiveRequests.Set(float64(q.active.Add(-1)))
			q.sem.Release(1)
		}
	}, nil
}

// Stats returns the current queue counts.
func (q *RequestQueue) Stats() QueueStats {
	return QueueStats{CurrentActive: q.active.Load(), CurrentQueued: q.queued.Load()}
}

// WriteQueueFullResponse writes a 503 with a Retry-After hint.
func WriteQueueFullResponse(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	http.Error(w, ErrQueueFull.Error(), http.StatusServiceUnavailable)
}

// WriteTimeoutResponse writes a 504.
func WriteTimeoutResponse(w http.ResponseWriter) {
	http.Error(w, ErrRequestTimeout.Error(), http.StatusGatewayTimeout)
}
