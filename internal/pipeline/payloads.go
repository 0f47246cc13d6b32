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

import "github.com/google/uuid"

// Job payloads are schemaless JSON at rest; these are the tagged variants
// each occurrence-stage job type validates at the boundary.

// FetchRawPayload is the occurrence_fetch_raw job payload.
type FetchRawPayload struct {
	OccurrenceID uuid.UUID `json:"occurrence_id"`
	MailboxID    uuid.UUID `json:"mailbox_id"`
}

// ParsePayload is the occurrence_parse job payload.
type ParsePayload struct {
	OccurrenceID uuid.UUID `json:"occurrence_id"`
}

// StitchPayload is the occurrence_stitch job payload.
type StitchPayload struct {
	OccurrenceID uuid.UUID `json:"occurrence_id"`
}

// RoutePayload is the ticket_apply_routing job payload.
type RoutePayload struct {
	OccurrenceID uuid.UUID `json:"occurrence_id"`
	// NewTicket records whether this occurrence's stitch stage just created
	// the ticket — routing only applies on that first occurrence.
	NewTicket bool `json:"new_ticket"`
}

// OutboundSendPayload is the outbound_send job payload — the core-side
// half of a reply; the actual SMTP handoff is an external collaborator.
type OutboundSendPayload struct {
	TicketID           uuid.UUID  `json:"ticket_id"`
	InReplyToMessageID *uuid.UUID `json:"in_reply_to_message_id,omitempty"`
	Recipients         []string   `json:"recipients"`
	BodyText           string     `json:"body_text"`
}
