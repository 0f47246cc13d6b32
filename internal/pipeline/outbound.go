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
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/oss-ticketing/journalcore/internal/models"
	"github.com/oss-ticketing/journalcore/internal/store"
)

// Sender executes outbound_send jobs. It only validates and persists the
// reply intent — the actual SMTP handoff, header injection, and
// sent/failed callback belong to an external collaborator.
type Sender struct {
	Store *store.Store
}

// HandleOutboundSend records a queued reply intent against its ticket. The
// job is done once the intent is durably queued; a later, out-of-band
// update transitions it to sent or failed as the external sender reports
// back.
func (s *Sender) HandleOutboundSend(ctx context.Context, organizationID uuid.UUID, payload json.RawMessage) error {
	var p OutboundSendPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("pipeline: unmarshal outbound send payload: %w", err)
	}

	if _, err := s.Store.GetTicket(ctx, organizationID, p.TicketID); err != nil {
		return fmt.Errorf("pipeline: load ticket for outbound send: %w", err)
	}

	intent := &models.OutboundSendIntent{
		TicketID:           p.TicketID,
		InReplyToMessageID: p.InReplyToMessageID,
		Recipients:         p.Recipients,
		BodyText:           p.BodyText,
		Status:             models.OutboundQueued,
	}
	if _, err := s.Store.CreateOutboundSendIntent(ctx, organizationID, intent); err != nil {
		return fmt.Errorf("pipeline: create outbound send intent: %w", err)
	}

	return s.Store.TouchActivity(ctx, organizationID, p.TicketID)
}
