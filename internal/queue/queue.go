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

// Package queue implements the durable, poll-based, at-least-once job
// queue that drives the occurrence pipeline and mailbox sync controller.
// It rides on the same Postgres database as the canonical store (over
// database/sql via the pgx stdlib driver, so unit tests can drive it
// through go-sqlmock without a live database) so that job state
// transitions can share transactions with the data they mutate.
package queue

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/oss-ticketing/journalcore/internal/models"
)

// ErrNotDead is returned by Replay when the job is not currently dead.
var ErrNotDead = errors.New("queue: job is not dead")

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("queue: job not found")

// EnqueueOptions customizes a single Enqueue call.
type EnqueueOptions struct {
	IdempotencyKey string
	RunAt          time.Time
	MaxAttempts    int
}

// Queue is the Postgres-backed job queue.
type Queue struct {
	db          *sql.DB
	backoffBase time.Duration
	backoffCap  time.Duration
}

// New creates a Queue bound to db, using base/cap for the exponential
// full-jitter backoff computation used by Fail.
func New(db *sql.DB, backoffBase, backoffCap time.Duration) *Queue {
	return &Queue{db: db, backoffBase: backoffBase, backoffCap: backoffCap}
}

// Enqueue inserts a new job, or returns the id of an existing non-terminal
// job sharing (organization_id, type, idempotency_key) when one is set.
func (q *Queue) Enqueue(ctx context.Context, jobType models.JobType, organizationID uuid.UUID, payload any, opts EnqueueOptions) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("queue: marshal payload: %w", err)
	}

	runAt := opts.RunAt
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 5
	}

	if opts.IdempotencyKey != "" {
		var existing uuid.UUID
		row := q.db.QueryRowContext(ctx, `
			INSERT INTO jobs (organization_id, type, payload, run_at, max_attempts, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (organization_id, type, idempotency_key)
				WHERE idempotency_key <> '' AND status IN ('queued', 'running', 'failed')
			DO NOTHING
			RETURNING id`,
			organizationID, string(jobType), body, runAt, maxAttempts, opts.IdempotencyKey,
		)
		if err := row.Scan(&existing); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				row := q.db.QueryRowContext(ctx, `
					SELECT id FROM jobs
					WHERE organization_id = $1 AND type = $2 AND idempotency_key = $3
					  AND status IN ('queued', 'running', 'failed')
					ORDER BY created_at DESC LIMIT 1`,
					organizationID, string(jobType), opts.IdempotencyKey,
				)
				if err := row.Scan(&existing); err != nil {
					return uuid.Nil, fmt.Errorf("queue: lookup existing job after conflict: %w", err)
				}
				return existing, nil
			}
			return uuid.Nil, fmt.Errorf("queue: enqueue: %w", err)
		}
		return existing, nil
	}

	var id uuid.UUID
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO jobs (organization_id, type, payload, run_at, max_attempts)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		organizationID, string(jobType), body, runAt, maxAttempts,
	)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("queue: enqueue: %w", err)
	}
	return id, nil
}

// Lease selects the oldest due, queued job of one of the given types,
// locks it with FOR UPDATE SKIP LOCKED so concurrent workers never block
// or double-lease it, and marks it running under the caller's ownership.
func (q *Queue) Lease(ctx context.Context, types []models.JobType, workerID string, visibility time.Duration) (*models.Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(types))
	args := make([]any, len(types))
	for i, t := range types {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(t)
	}
	inClause := "(" + joinComma(placeholders) + ")"

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: begin lease tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE status = 'queued' AND run_at <= now() AND type IN `+inClause+`
		ORDER BY run_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`,
		args...,
	)
	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: select for lease: %w", err)
	}

	expiresAt := time.Now().UTC().Add(visibility)
	job, err := scanJob(tx.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'running', lock_owner = $2, lock_expires_at = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns,
		id, workerID, expiresAt,
	))
	if err != nil {
		return nil, fmt.Errorf("queue: mark leased: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue: commit lease tx: %w", err)
	}
	return job, nil
}

// Complete marks a job done.
func (q *Queue) Complete(ctx context.Context, jobID uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `UPDATE jobs SET status = 'done', updated_at = now() WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("queue: complete %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail records a failed attempt. If attempts remain, the job is
// rescheduled with exponential full-jitter backoff; otherwise (or when
// permanent is set, e.g. malformed MIME) it moves straight to dead.
func (q *Queue) Fail(ctx context.Context, jobID uuid.UUID, cause error, permanent bool) error {
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin fail tx: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	row := tx.QueryRowContext(ctx, `SELECT attempts, max_attempts FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	if err := row.Scan(&attempts, &maxAttempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("queue: read job for fail: %w", err)
	}
	attempts++

	if !permanent && attempts < maxAttempts {
		delay := q.backoff(attempts)
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'queued', attempts = $2, run_at = now() + $3::interval,
			    lock_owner = '', lock_expires_at = NULL, last_error = $4, updated_at = now()
			WHERE id = $1`,
			jobID, attempts, delay.String(), errMsg,
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'dead', attempts = $2, last_error = $3, updated_at = now()
			WHERE id = $1`,
			jobID, attempts, errMsg,
		)
	}
	if err != nil {
		return fmt.Errorf("queue: apply failure to %s: %w", jobID, err)
	}
	return tx.Commit()
}

// backoff computes exponential backoff with full jitter: a uniform random
// duration in [0, min(cap, base*2^(attempt-1))].
func (q *Queue) backoff(attempt int) time.Duration {
	base := q.backoffBase
	ceiling := q.backoffCap
	if base <= 0 {
		base = 30 * time.Second
	}
	if ceiling <= 0 {
		ceiling = 15 * time.Minute
	}

	upper := float64(base) * math.Pow(2, float64(attempt-1))
	if upper > float64(ceiling) || upper <= 0 {
		upper = float64(ceiling)
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(upper)+1))
	if err != nil {
		return time.Duration(upper)
	}
	return time.Duration(n.Int64())
}

// ReapExpired relocks any running job whose lease has expired, as if the
// worker holding it had called Fail with error="lease expired".
func (q *Queue) ReapExpired(ctx context.Context) (int, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id FROM jobs WHERE status = 'running' AND lock_expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("queue: scan expired leases: %w", err)
	}
	var expired []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("queue: scan expired lease row: %w", err)
		}
		expired = append(expired, id)
	}
	rows.Close()

	for _, id := range expired {
		if err := q.Fail(ctx, id, errors.New("lease expired"), false); err != nil && !errors.Is(err, ErrNotFound) {
			return 0, fmt.Errorf("queue: reap %s: %w", id, err)
		}
	}
	return len(expired), nil
}

// Replay resets a dead job back to queued, admin-only, preserving payload.
func (q *Queue) Replay(ctx context.Context, jobID uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'queued', attempts = 0, run_at = now(),
		    lock_owner = '', lock_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'dead'`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("queue: replay %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotDead
	}
	return nil
}

// ListDead returns dead jobs for an organization, most recent first.
func (q *Queue) ListDead(ctx context.Context, organizationID uuid.UUID, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE organization_id = $1 AND status = 'dead'
		ORDER BY updated_at DESC
		LIMIT $2`,
		organizationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("queue: list dead: %w", err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("queue: scan dead job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// CountByStatus returns queued/running counts per job type for an org, used
// by the admin mailbox sync summary.
func (q *Queue) CountByStatus(ctx context.Context, organizationID uuid.UUID) (map[string]map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT type, status, count(*) FROM jobs
		WHERE organization_id = $1 AND status IN ('queued', 'running')
		GROUP BY type, status`,
		organizationID,
	)
	if err != nil {
		return nil, fmt.Errorf("queue: count by status: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]int)
	for rows.Next() {
		var jobType, status string
		var count int
		if err := rows.Scan(&jobType, &status, &count); err != nil {
			return nil, fmt.Errorf("queue: scan count row: %w", err)
		}
		if out[jobType] == nil {
			out[jobType] = make(map[string]int)
		}
		out[jobType][status] = count
	}
	return out, rows.Err()
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

const jobColumns = `id, organization_id, type, payload, status, attempts, max_attempts,
	run_at, lock_owner, lock_expires_at, last_error, idempotency_key, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var jobType, status string
	var lockOwner string
	var lockExpiresAt *time.Time
	if err := row.Scan(
		&j.ID, &j.OrganizationID, &jobType, &j.Payload, &status, &j.Attempts, &j.MaxAttempts,
		&j.RunAt, &lockOwner, &lockExpiresAt, &j.LastError, &j.IdempotencyKey, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.Type = models.JobType(jobType)
	j.Status = models.JobStatus(status)
	j.LockOwner = lockOwner
	j.LockExpiresAt = lockExpiresAt
	return &j, nil
}
