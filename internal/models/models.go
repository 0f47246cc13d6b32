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

// Package models defines the data structures shared across the ingestion,
// stitching, and routing pipeline.
package models

import (
	"time"

	"github.com/google/uuid"
)

// MailboxPurpose identifies what a mailbox is used for. Exactly one mailbox
// per organization may carry purpose Journal.
type MailboxPurpose string

const (
	MailboxPurposeJournal MailboxPurpose = "journal"
	MailboxPurposeOther   MailboxPurpose = "other"
)

// MailboxSyncStatus tracks the health of a mailbox's provider connection,
// distinct from the pause window: Degraded means credentials need attention,
// Paused means the circuit breaker tripped.
type MailboxSyncStatus string

const (
	MailboxStatusActive   MailboxSyncStatus = "active"
	MailboxStatusPaused   MailboxSyncStatus = "paused"
	MailboxStatusDegraded MailboxSyncStatus = "degraded"
)

// Mailbox is one provider mailbox connected to an organization.
type Mailbox struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Purpose        MailboxPurpose
	Provider       string // "gmail"
	EmailAddress   string

	// EncryptedRefreshToken is AES-GCM(nonce || ciphertext); see internal/crypto.
	EncryptedRefreshToken []byte

	HistoryCursor          string
	WatchExpiresAt         *time.Time
	LastFullSyncAt         *time.Time
	LastIncrementalSyncAt  *time.Time
	LastSyncError          string
	ConsecutiveSyncFailure int
	PausedUntil            *time.Time
	PauseReason            string
	Status                 MailboxSyncStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OccurrenceState is the lifecycle of a single mailbox appearance of a message.
type OccurrenceState string

const (
	OccurrenceDiscovered OccurrenceState = "discovered"
	OccurrenceFetched    OccurrenceState = "fetched"
	OccurrenceParsed     OccurrenceState = "parsed"
	OccurrenceStitched   OccurrenceState = "stitched"
	OccurrenceRouted     OccurrenceState = "routed"
	OccurrenceFailed     OccurrenceState = "failed"
)

// RecipientSource ranks how confidently the original recipient was resolved.
type RecipientSource string

const (
	RecipientSourceWorkspaceHeader RecipientSource = "workspace_header"
	RecipientSourceDeliveredTo     RecipientSource = "delivered_to"
	RecipientSourceXOriginalTo     RecipientSource = "x_original_to"
	RecipientSourceToCCScan        RecipientSource = "to_cc_scan"
	RecipientSourceUnknown         RecipientSource = "unknown"
)

// Confidence grades evidence quality for recipient resolution and stitching.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// RecipientEvidence is the (recipient, source, confidence) tuple that
// justifies a routing decision.
type RecipientEvidence struct {
	OriginalRecipient string
	Source            RecipientSource
	Confidence        Confidence
}

// MessageOccurrence is a single appearance of a message in a specific mailbox.
type MessageOccurrence struct {
	ID                uuid.UUID
	OrganizationID    uuid.UUID
	MailboxID         uuid.UUID
	ProviderMessageID string

	State OccurrenceState

	RawBlobHash     string
	RawFetchedAt    *time.Time
	RawFetchError   string
	ParseError      string
	StitchError     string
	RouteError      string

	CanonicalMessageID *uuid.UUID
	TicketID           *uuid.UUID

	OriginalRecipient   string
	RecipientSource     RecipientSource
	RecipientConfidence Confidence

	Direction string // "inbound" | "outbound"

	DeletedAt *time.Time

	ParsedAt  *time.Time
	StitchedAt *time.Time
	RoutedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanonicalMessage is the deduped logical email.
type CanonicalMessage struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID

	FingerprintV1 []byte // sha256, 32 bytes
	SignatureV1   []byte // sha256, 32 bytes

	Subject    string
	SubjectNorm string
	FromEmail  string
	FromName   string
	ToEmails   []string
	CcEmails   []string
	ReplyTo    []string
	DateHeader *time.Time

	RFCMessageID  string
	References    []string
	InReplyTo     string

	Snippet         string
	BodyText        string
	BodyHTMLSafe    string
	ParserVersion   string
	SanitizerRevision string

	XOSSTicketID  *uuid.UUID
	XOSSMessageID *uuid.UUID

	CollisionGroupID *uuid.UUID
	TicketID         *uuid.UUID // authoritative side of the tickets<->messages cycle

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attachment is a content-addressed attachment payload reference.
type Attachment struct {
	ID                 uuid.UUID
	OrganizationID     uuid.UUID
	CanonicalMessageID uuid.UUID
	ContentHash        string
	Filename           string
	ContentType        string
	SizeBytes          int64
	IsInline           bool
	ContentID          string
	CreatedAt          time.Time
}

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketNew      TicketStatus = "new"
	TicketOpen     TicketStatus = "open"
	TicketPending  TicketStatus = "pending"
	TicketResolved TicketStatus = "resolved"
	TicketClosed   TicketStatus = "closed"
	TicketSpam     TicketStatus = "spam"
)

// StitchReason records which stitching rule attached an occurrence's
// canonical message to its ticket.
type StitchReason string

const (
	StitchNewTicket      StitchReason = "new_ticket"
	StitchXOSSMarker     StitchReason = "x_oss_marker"
	StitchReplyToToken   StitchReason = "reply_to_token"
	StitchReferencesGraph StitchReason = "references_graph"
	StitchSubjectMatch   StitchReason = "subject_match"
)

// Ticket groups one or more canonical messages.
type Ticket struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Code           string

	Status   TicketStatus
	Priority string

	RequesterEmail string
	RequesterName  string

	AssigneeUserID  *uuid.UUID
	AssigneeQueueID *uuid.UUID

	StitchReason     StitchReason
	StitchConfidence Confidence

	Subject string

	LastActivityAt time.Time
	ClosedAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TicketEvent is an append-only audit log row for ticket mutations.
type TicketEvent struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	TicketID       uuid.UUID
	ActorUserID    *uuid.UUID
	EventType      string
	EventData      []byte // json
	CreatedAt      time.Time
}

// Organization is the tenancy root; every other entity carries a reference
// to one and no query crosses this boundary.
type Organization struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Queue is an assignment target for tickets, distinct from the job queue.
type Queue struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
}

// Tag is a per-organization label.
type Tag struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
}

// RFCMessageIndexEntry backs stitch priority 3 with an indexed lookup
// instead of scanning canonical messages' references arrays.
type RFCMessageIndexEntry struct {
	OrganizationID     uuid.UUID
	RFCMessageID       string
	CanonicalMessageID uuid.UUID
}

// OSSMessageIndexEntry backs stitch priority 3's fallback lookup of a
// threading id as an X-OSS-Message-ID.
type OSSMessageIndexEntry struct {
	OrganizationID     uuid.UUID
	XOSSMessageID      uuid.UUID
	CanonicalMessageID uuid.UUID
}

// CollisionGroup records ambiguity between canonical message candidates
// that share fingerprint inputs but differ meaningfully.
type CollisionGroup struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	CreatedAt      time.Time
}

// AllowlistEntry is a glob pattern permitting inbound mail to route instead
// of auto-spam.
type AllowlistEntry struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Pattern        string
	IsEnabled      bool
}

// RoutingRule is a priority-ordered per-organization routing predicate/action.
type RoutingRule struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Priority       int
	IsEnabled      bool

	MatchRecipientPattern    string
	MatchSenderDomainPattern string
	MatchSenderEmailPattern  string
	MatchDirection           string

	ActionAssignQueueID *uuid.UUID
	ActionAssignUserID  *uuid.UUID
	ActionSetStatus     TicketStatus
	ActionDrop          bool
	ActionAutoClose     bool
	ActionAddTagIDs     []uuid.UUID
}

// SavedView is a saved ticket-list filter/sort definition.
type SavedView struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	OwnerUserID    *uuid.UUID
	Name           string
	FilterJSON     []byte
}

// JobType enumerates the queue's work kinds.
type JobType string

const (
	JobMailboxBackfill     JobType = "mailbox_backfill"
	JobMailboxHistorySync  JobType = "mailbox_history_sync"
	JobMailboxWatchRenew   JobType = "mailbox_watch_renew"
	JobOccurrenceFetchRaw  JobType = "occurrence_fetch_raw"
	JobOccurrenceParse     JobType = "occurrence_parse"
	JobOccurrenceStitch    JobType = "occurrence_stitch"
	JobTicketApplyRouting  JobType = "ticket_apply_routing"
	JobOutboundSend        JobType = "outbound_send"
)

// JobStatus is the lifecycle of a queue row.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobFailed  JobStatus = "failed"
	JobDead    JobStatus = "dead"
	JobDone    JobStatus = "done"
)

// Job is a single durable queue row.
type Job struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Type           JobType
	Payload        []byte // json
	Status         JobStatus
	Attempts       int
	MaxAttempts    int
	RunAt          time.Time
	LockOwner      string
	LockExpiresAt  *time.Time
	LastError      string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OutboundSendStatus tracks the lifecycle of a queued reply intent.
type OutboundSendStatus string

const (
	OutboundQueued OutboundSendStatus = "queued"
	OutboundSent   OutboundSendStatus = "sent"
	OutboundFailed OutboundSendStatus = "failed"
)

// OutboundSendIntent is the core-side half of replying: it is persisted and
// validated here, but the actual SMTP handoff is an external collaborator.
type OutboundSendIntent struct {
	ID                 uuid.UUID
	OrganizationID     uuid.UUID
	TicketID           uuid.UUID
	InReplyToMessageID *uuid.UUID
	Recipients         []string
	BodyText           string
	Status             OutboundSendStatus
	Error              string
	CreatedAt          time.Time
}
