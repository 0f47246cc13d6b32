// Copyright (c) 2026 John Earle
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

// Package worker hosts the long-running lease/execute/complete loop that
// drives every job type: occurrence pipeline stages, the mailbox sync
// controller, and outbound send. Workers coordinate solely through the
// queue's row locks; there is no in-process shared work list, so multiple
// hosts are safe to run concurrently against the same database.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oss-ticketing/journalcore/internal/logctx"
	"github.com/oss-ticketing/journalcore/internal/models"
	"github.com/oss-ticketing/journalcore/internal/pipeline"
	"github.com/oss-ticketing/journalcore/internal/queue"
)

// HandlerFunc executes one leased job's payload. It is the common shape
// every pipeline stage, sync controller job, and outbound sender exposes.
type HandlerFunc func(ctx context.Context, organizationID uuid.UUID, payload json.RawMessage) error

// Registration binds a job type to its handler and the number of worker
// slots dedicated to it.
type Registration struct {
	Type        models.JobType
	Handler     HandlerFunc
	Concurrency int
}

// Host runs one lease/execute/complete loop per worker slot across every
// registered job type.
type Host struct {
	Queue          *queue.Queue
	Visibility     time.Duration
	PollInterval   time.Duration
	ReaperInterval time.Duration
	DrainGrace     time.Duration

	registrations []Registration
	idSeq         int
	mu            sync.Mutex
}

// New creates a host bound to q. visibility bounds how long a leased job
// may run before the reaper treats it as abandoned; pollInterval is how
// often an idle worker slot checks for new work.
func New(q *queue.Queue, visibility, pollInterval, reaperInterval, drainGrace time.Duration) *Host {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if reaperInterval <= 0 {
		reaperInterval = 30 * time.Second
	}
	if drainGrace <= 0 {
		drainGrace = 20 * time.Second
	}
	return &Host{
		Queue:          q,
		Visibility:     visibility,
		PollInterval:   pollInterval,
		ReaperInterval: reaperInterval,
		DrainGrace:     drainGrace,
	}
}

// Register adds a job type to the host. Must be called before Run.
func (h *Host) Register(r Registration) {
	if r.Concurrency <= 0 {
		r.Concurrency = 1
	}
	h.registrations = append(h.registrations, r)
}

func (h *Host) nextWorkerID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.idSeq++
	return fmt.Sprintf("worker-%d", h.idSeq)
}

// Run starts every registered slot and the reaper sweep, and blocks until
// ctx is cancelled. On cancellation it stops leasing new work and waits up
// to DrainGrace for in-flight jobs to finish before returning; jobs still
// running past the grace period are left for the reaper to reclaim once
// their lease expires.
func (h *Host) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, reg := range h.registrations {
		for i := 0; i < reg.Concurrency; i++ {
			wg.Add(1)
			go func(reg Registration) {
				defer wg.Done()
				h.runSlot(ctx, reg)
			}(reg)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.runReaper(ctx)
	}()

	<-ctx.Done()
	slog.Info("worker: shutdown signal received, draining in-flight jobs", "grace", h.DrainGrace)

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		slog.Info("worker: drained cleanly")
	case <-time.After(h.DrainGrace):
		slog.Warn("worker: drain grace period elapsed, leaving in-flight jobs for the reaper")
	}
	return nil
}

func (h *Host) runSlot(ctx context.Context, reg Registration) {
	workerID := h.nextWorkerID()
	ticker := time.NewTicker(h.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.leaseAndExecute(ctx, reg, workerID)
		}
	}
}

func (h *Host) leaseAndExecute(ctx context.Context, reg Registration, workerID string) {
	job, err := h.Queue.Lease(ctx, []models.JobType{reg.Type}, workerID, h.Visibility)
	if err != nil {
		slog.ErrorContext(ctx, "worker: lease failed", "type", reg.Type, "error", err)
		return
	}
	if job == nil {
		return
	}

	jobCtx := context.Background()
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithDeadline(jobCtx, deadline)
		defer cancel()
	}
	jobCtx = logctx.With(jobCtx,
		"organization_id", job.OrganizationID,
		"job_id", job.ID,
		"job_type", job.Type,
		"attempt", job.Attempts+1,
	)

	slog.InfoContext(jobCtx, "worker: executing job")
	err = reg.Handler(jobCtx, job.OrganizationID, job.Payload)
	if err != nil {
		permanent := errors.Is(err, pipeline.ErrMalformedMIME)
		slog.ErrorContext(jobCtx, "worker: job failed", "error", err, "permanent", permanent)
		if failErr := h.Queue.Fail(jobCtx, job.ID, err, permanent); failErr != nil {
			slog.ErrorContext(jobCtx, "worker: failed to record job failure", "error", failErr)
		}
		return
	}

	if err := h.Queue.Complete(jobCtx, job.ID); err != nil {
		slog.ErrorContext(jobCtx, "worker: failed to mark job complete", "error", err)
	}
}

func (h *Host) runReaper(ctx context.Context) {
	ticker := time.NewTicker(h.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := h.Queue.ReapExpired(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "worker: reap failed", "error", err)
				continue
			}
			if n > 0 {
				slog.WarnContext(ctx, "worker: reaped expired leases", "count", n)
			}
		}
	}
}
