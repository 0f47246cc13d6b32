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

package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oss-ticketing/journalcore/internal/models"
	"github.com/oss-ticketing/journalcore/internal/queue"
	"github.com/oss-ticketing/journalcore/internal/store"
)

// subjectMatchWindow is the fixed 14-day window for stitch priority 4.
// Operator-reopen does not extend it.
const subjectMatchWindow = 14 * 24 * time.Hour

var replyToTokenPattern = regexp.MustCompile(`(?i)^ticket\+([a-z0-9-]+)@`)

// Stitcher executes occurrence_stitch jobs.
type Stitcher struct {
	Store *store.Store
	Queue *queue.Queue
}

// HandleStitch runs the five-priority stitching stack.
func (s *Stitcher) HandleStitch(ctx context.Context, organizationID uuid.UUID, payload json.RawMessage) error {
	var pl StitchPayload
	if err := json.Unmarshal(payload, &pl); err != nil {
		return fmt.Errorf("pipeline: unmarshal stitch payload: %w", err)
	}

	occ, err := s.Store.GetOccurrence(ctx, organizationID, pl.OccurrenceID)
	if err != nil {
		return fmt.Errorf("pipeline: load occurrence for stitch: %w", err)
	}
	if occ.CanonicalMessageID == nil {
		return fmt.Errorf("pipeline: occurrence %s has no canonical message", occ.ID)
	}

	msg, err := s.Store.GetCanonicalMessage(ctx, organizationID, *occ.CanonicalMessageID)
	if err != nil {
		return fmt.Errorf("pipeline: load canonical message for stitch: %w", err)
	}

	ticketID, reason, confidence, isNew, err := s.resolveTicket(ctx, organizationID, msg)
	if err != nil {
		if errors.Is(err, ErrTicketNotFound) {
			// Marker points at a ticket that no longer exists and no other
			// priority matched; fall through to ticket creation instead of
			// failing the job.
		} else {
			wrapped := fmt.Errorf("pipeline: resolve ticket: %w", err)
			if recErr := s.Store.RecordStitchError(ctx, organizationID, occ.ID, wrapped); recErr != nil {
				return errors.Join(wrapped, recErr)
			}
			return wrapped
		}
	}

	if ticketID == uuid.Nil {
		ticketID, reason, confidence, isNew, err = s.createTicket(ctx, organizationID, msg)
		if err != nil {
			wrapped := fmt.Errorf("pipeline: create ticket: %w", err)
			if recErr := s.Store.RecordStitchError(ctx, organizationID, occ.ID, wrapped); recErr != nil {
				return errors.Join(wrapped, recErr)
			}
			return wrapped
		}
	}
	if err := s.Store.SetCanonicalTicketID(ctx, organizationID, msg.ID, ticketID); err != nil {
		return fmt.Errorf("pipeline: set canonical ticket id: %w", err)
	}
	if err := s.Store.TouchActivity(ctx, organizationID, ticketID); err != nil {
		return fmt.Errorf("pipeline: touch ticket activity: %w", err)
	}
	if err := s.Store.RecordStitched(ctx, organizationID, occ.ID, ticketID); err != nil {
		return fmt.Errorf("pipeline: record stitched: %w", err)
	}

	if !isNew {
		eventData, _ := json.Marshal(map[string]any{
			"canonical_message_id": msg.ID,
			"reason":               reason,
			"confidence":           confidence,
		})
		if err := s.Store.AppendTicketEvent(ctx, organizationID, ticketID, nil, "stitched", eventData); err != nil {
			return fmt.Errorf("pipeline: append stitched event: %w", err)
		}
	}

	_, err = s.Queue.Enqueue(ctx, models.JobTicketApplyRouting, organizationID, RoutePayload{
		OccurrenceID: occ.ID,
		NewTicket:    isNew,
	}, queue.EnqueueOptions{})
	if err != nil {
		return fmt.Errorf("pipeline: enqueue ticket_apply_routing: %w", err)
	}
	return nil
}

// resolveTicket walks priorities 1-4. A zero ticketID with a nil error, or
// with ErrTicketNotFound when the marker named a missing ticket, means no
// rule matched and the caller falls through to creation.
func (s *Stitcher) resolveTicket(ctx context.Context, organizationID uuid.UUID, msg *models.CanonicalMessage) (ticketID uuid.UUID, reason models.StitchReason, confidence models.Confidence, isNew bool, err error) {
	// Priority 1: X-OSS-Ticket-ID marker. A marker naming a missing ticket
	// does not match; the remaining priorities are still tried.
	var markerErr error
	if msg.XOSSTicketID != nil {
		ticket, err := s.Store.GetTicket(ctx, organizationID, *msg.XOSSTicketID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			markerErr = fmt.Errorf("%w: %s", ErrTicketNotFound, *msg.XOSSTicketID)
		case err != nil:
			return uuid.Nil, "", "", false, err
		default:
			return ticket.ID, models.StitchXOSSMarker, models.ConfidenceHigh, false, nil
		}
	}

	// Priority 2: reply-to token, "ticket+<code>@…".
	for _, addr := range msg.ReplyTo {
		match := replyToTokenPattern.FindStringSubmatch(addr)
		if match == nil {
			continue
		}
		ticket, err := s.Store.GetTicketByCode(ctx, organizationID, strings.ToUpper(match[1]))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return uuid.Nil, "", "", false, err
		}
		return ticket.ID, models.StitchReplyToToken, models.ConfidenceHigh, false, nil
	}

	hasThreadingHeader := msg.InReplyTo != "" || len(msg.References) > 0

	// Priority 3: In-Reply-To / References graph.
	if hasThreadingHeader {
		ids := make([]string, 0, len(msg.References)+1)
		if msg.InReplyTo != "" {
			ids = append(ids, msg.InReplyTo)
		}
		ids = append(ids, msg.References...)
		for _, id := range ids {
			resolved, ok, err := s.Store.ResolveReferenceGraph(ctx, organizationID, id)
			if err != nil {
				return uuid.Nil, "", "", false, err
			}
			if ok {
				return resolved, models.StitchReferencesGraph, models.ConfidenceMedium, false, nil
			}
		}
	}

	// Priority 4: normalized subject + requester within the fixed window.
	// Disabled outright when a threading header is present, even if it
	// didn't resolve — a client capable of setting it isn't the legacy
	// case this heuristic exists for.
	if !hasThreadingHeader {
		ticket, err := s.Store.FindOpenTicketBySubjectAndRequester(ctx, organizationID, msg.SubjectNorm, msg.FromEmail, subjectMatchWindow)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, "", "", false, err
		}
		if ticket != nil {
			return ticket.ID, models.StitchSubjectMatch, models.ConfidenceLow, false, nil
		}
	}

	return uuid.Nil, "", "", false, markerErr
}

// createTicket implements stitch priority 5, the default outcome.
func (s *Stitcher) createTicket(ctx context.Context, organizationID uuid.UUID, msg *models.CanonicalMessage) (uuid.UUID, models.StitchReason, models.Confidence, bool, error) {
	code, err := newTicketCode()
	if err != nil {
		return uuid.Nil, "", "", false, fmt.Errorf("allocate ticket code: %w", err)
	}
	id, err := s.Store.CreateTicket(ctx, organizationID, &models.Ticket{
		Code:             code,
		Status:           models.TicketNew,
		Priority:         "normal",
		RequesterEmail:   msg.FromEmail,
		RequesterName:    msg.FromName,
		StitchReason:     models.StitchNewTicket,
		StitchConfidence: models.ConfidenceHigh,
		Subject:          msg.Subject,
	})
	if err != nil {
		return uuid.Nil, "", "", false, err
	}
	return id, models.StitchNewTicket, models.ConfidenceHigh, true, nil
}

// newTicketCode allocates a short, human-typeable, collision-resistant
// code for the reply-to alias — a random suffix instead of a sequence,
// since org-scoped monotonic counters would need their own locked table.
func newTicketCode() (string, error) {
	var raw [5]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw[:]), nil
}
