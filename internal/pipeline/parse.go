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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"github.com/k3a/html2text"

	"github.com/oss-ticketing/journalcore/internal/blobstore"
	"github.com/oss-ticketing/journalcore/internal/fingerprint"
	"github.com/oss-ticketing/journalcore/internal/models"
	"github.com/oss-ticketing/journalcore/internal/queue"
	"github.com/oss-ticketing/journalcore/internal/sanitize"
	"github.com/oss-ticketing/journalcore/internal/store"
)

// headerWorkspaceOriginalTo, headerDeliveredTo, and headerXOriginalTo are
// the three recipient-evidence headers checked, in priority order, before
// falling back to scanning To/Cc against known domains.
const (
	headerWorkspaceOriginalTo = "X-Gm-Original-To"
	headerDeliveredTo         = "Delivered-To"
	headerXOriginalTo         = "X-Original-To"
	headerXOSSTicketID        = "X-OSS-Ticket-ID"
	headerXOSSMessageID       = "X-OSS-Message-ID"
)

// Parser executes occurrence_parse jobs.
type Parser struct {
	Store             *store.Store
	Blobs             blobstore.Store
	Queue             *queue.Queue
	ParserVersion     string
	SanitizerRevision string
}

// HandleParse decodes an occurrence's raw MIME bytes, computes its
// canonical identity, resolves recipient evidence, sanitizes any HTML
// body, and stores attachments.
func (p *Parser) HandleParse(ctx context.Context, organizationID uuid.UUID, payload json.RawMessage) error {
	var pl ParsePayload
	if err := json.Unmarshal(payload, &pl); err != nil {
		return fmt.Errorf("pipeline: unmarshal parse payload: %w", err)
	}

	occ, err := p.Store.GetOccurrence(ctx, organizationID, pl.OccurrenceID)
	if err != nil {
		return fmt.Errorf("pipeline: load occurrence for parse: %w", err)
	}
	if occ.RawBlobHash == "" {
		return ErrOccurrenceNotFetched
	}

	raw, err := p.Blobs.Get(ctx, organizationID.String(), occ.RawBlobHash)
	if err != nil {
		return fmt.Errorf("pipeline: load raw blob: %w", err)
	}

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrMalformedMIME, err)
		if recErr := p.Store.RecordParseError(ctx, organizationID, occ.ID, wrapped); recErr != nil {
			slog.ErrorContext(ctx, "record parse error failed", "error", recErr)
		}
		return wrapped
	}

	candidate, evidence, err := p.buildCanonicalCandidate(ctx, organizationID, envelope)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrMalformedMIME, err)
		if recErr := p.Store.RecordParseError(ctx, organizationID, occ.ID, wrapped); recErr != nil {
			slog.ErrorContext(ctx, "record parse error failed", "error", recErr)
		}
		return wrapped
	}

	result, err := p.Store.UpsertCanonicalMessage(ctx, organizationID, candidate)
	if err != nil {
		return fmt.Errorf("pipeline: upsert canonical message: %w", err)
	}

	if !result.Reused {
		if err := p.Store.LinkRFCMessageID(ctx, organizationID, candidate.RFCMessageID, result.Message.ID); err != nil {
			return fmt.Errorf("pipeline: link rfc message id: %w", err)
		}
		if candidate.XOSSMessageID != nil {
			if err := p.Store.LinkOSSMessageID(ctx, organizationID, *candidate.XOSSMessageID, result.Message.ID); err != nil {
				return fmt.Errorf("pipeline: link oss message id: %w", err)
			}
		}
		if err := p.storeAttachments(ctx, organizationID, result.Message.ID, envelope); err != nil {
			return fmt.Errorf("pipeline: store attachments: %w", err)
		}
	}

	direction := "inbound"
	if candidate.XOSSTicketID != nil {
		direction = "outbound"
	}

	if err := p.Store.RecordParsed(ctx, organizationID, occ.ID, result.Message.ID, evidence, direction); err != nil {
		return fmt.Errorf("pipeline: record parsed: %w", err)
	}

	_, err = p.Queue.Enqueue(ctx, models.JobOccurrenceStitch, organizationID, StitchPayload{OccurrenceID: occ.ID}, queue.EnqueueOptions{})
	if err != nil {
		return fmt.Errorf("pipeline: enqueue occurrence_stitch: %w", err)
	}
	return nil
}

func (p *Parser) buildCanonicalCandidate(ctx context.Context, organizationID uuid.UUID, env *enmime.Envelope) (*models.CanonicalMessage, models.RecipientEvidence, error) {
	fromAddr, fromName := firstAddress(env, "From")
	toEmails := addressEmails(env, "To")
	ccEmails := addressEmails(env, "Cc")
	replyTo := addressEmails(env, "Reply-To")

	date, _ := mail.ParseDate(env.GetHeader("Date"))

	bodyHTML := env.HTML
	bodyText := env.Text

	var sanitized sanitize.Result
	inlineIndex := buildInlineIndex(env)
	if bodyHTML != "" {
		var err error
		sanitized, err = sanitize.HTML(bodyHTML, func(contentID string) (string, bool) {
			hash, ok := inlineIndex[strings.Trim(contentID, "<>")]
			if !ok {
				return "", false
			}
			return blobstore.Key(organizationID.String(), hash), true
		})
		if err != nil {
			return nil, models.RecipientEvidence{}, fmt.Errorf("sanitize html body: %w", err)
		}
		if bodyText == "" {
			bodyText = html2text.HTML2Text(bodyHTML)
		}
	}

	references := strings.Fields(env.GetHeader("References"))
	attachmentHashes := attachmentContentHashes(env)

	fp := fingerprint.Input{
		Subject:  env.GetHeader("Subject"),
		From:     fromAddr,
		Date:     date,
		To:       toEmails,
		Cc:       ccEmails,
		BodyText: bodyText,
	}
	sig := fingerprint.Input{
		Subject:      fp.Subject,
		From:         fp.From,
		Date:         date,
		To:           toEmails,
		Cc:           ccEmails,
		BodyText:     bodyText,
		RFCMessageID: env.GetHeader("Message-Id"),
		ReplyTo:      replyTo,
		References:   references,
		Attachments:  attachmentHashes,
	}

	candidate := &models.CanonicalMessage{
		FingerprintV1:     fingerprint.V1(fp),
		SignatureV1:       fingerprint.Signature(sig),
		Subject:           env.GetHeader("Subject"),
		SubjectNorm:       fingerprint.NormalizeHeaderValue(env.GetHeader("Subject")),
		FromEmail:         fromAddr,
		FromName:          fromName,
		ToEmails:          toEmails,
		CcEmails:          ccEmails,
		ReplyTo:           replyTo,
		RFCMessageID:      env.GetHeader("Message-Id"),
		References:        references,
		InReplyTo:         env.GetHeader("In-Reply-To"),
		Snippet:           snippet(bodyText),
		BodyText:          bodyText,
		BodyHTMLSafe:      sanitized.HTML,
		ParserVersion:     p.ParserVersion,
		SanitizerRevision: p.SanitizerRevision,
	}
	if !date.IsZero() {
		candidate.DateHeader = &date
	}
	if v := env.GetHeader(headerXOSSTicketID); v != "" {
		if id, err := uuid.Parse(strings.TrimSpace(v)); err == nil {
			candidate.XOSSTicketID = &id
		}
	}
	if v := env.GetHeader(headerXOSSMessageID); v != "" {
		if id, err := uuid.Parse(strings.TrimSpace(v)); err == nil {
			candidate.XOSSMessageID = &id
		}
	}

	evidence, err := p.resolveRecipientEvidence(ctx, organizationID, env, toEmails, ccEmails)
	if err != nil {
		return nil, models.RecipientEvidence{}, err
	}
	return candidate, evidence, nil
}

// resolveRecipientEvidence walks the delivery headers in strict priority
// order, falling back to a domain scan.
func (p *Parser) resolveRecipientEvidence(ctx context.Context, organizationID uuid.UUID, env *enmime.Envelope, toEmails, ccEmails []string) (models.RecipientEvidence, error) {
	if v := strings.TrimSpace(env.GetHeader(headerWorkspaceOriginalTo)); v != "" {
		return models.RecipientEvidence{OriginalRecipient: strings.ToLower(v), Source: models.RecipientSourceWorkspaceHeader, Confidence: models.ConfidenceHigh}, nil
	}
	if v := strings.TrimSpace(env.GetHeader(headerDeliveredTo)); v != "" {
		return models.RecipientEvidence{OriginalRecipient: strings.ToLower(v), Source: models.RecipientSourceDeliveredTo, Confidence: models.ConfidenceMedium}, nil
	}
	if v := strings.TrimSpace(env.GetHeader(headerXOriginalTo)); v != "" {
		return models.RecipientEvidence{OriginalRecipient: strings.ToLower(v), Source: models.RecipientSourceXOriginalTo, Confidence: models.ConfidenceMedium}, nil
	}

	knownDomains, err := p.knownDomains(ctx, organizationID)
	if err != nil {
		return models.RecipientEvidence{}, err
	}
	for _, addr := range append(append([]string{}, toEmails...), ccEmails...) {
		if knownDomains[domainOf(addr)] {
			return models.RecipientEvidence{OriginalRecipient: addr, Source: models.RecipientSourceToCCScan, Confidence: models.ConfidenceLow}, nil
		}
	}

	return models.RecipientEvidence{Source: models.RecipientSourceUnknown, Confidence: models.ConfidenceLow}, nil
}

// knownDomains derives the org's "known domains" set from its enabled
// allowlist entries — there is no separately configured list.
func (p *Parser) knownDomains(ctx context.Context, organizationID uuid.UUID) (map[string]bool, error) {
	entries, err := p.Store.ListEnabledAllowlistEntries(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("load allowlist entries: %w", err)
	}
	domains := make(map[string]bool, len(entries))
	for _, e := range entries {
		d := domainOf(e.Pattern)
		d = strings.TrimPrefix(d, "*.")
		d = strings.TrimPrefix(d, "*")
		if d != "" {
			domains[d] = true
		}
	}
	return domains, nil
}

func (p *Parser) storeAttachments(ctx context.Context, organizationID, canonicalMessageID uuid.UUID, env *enmime.Envelope) error {
	all := append(append([]*enmime.Part{}, env.Attachments...), env.Inlines...)
	for _, part := range all {
		hash, err := p.Blobs.Put(ctx, organizationID.String(), part.Content)
		if err != nil {
			return fmt.Errorf("store attachment blob: %w", err)
		}
		_, err = p.Store.PutAttachment(ctx, organizationID, canonicalMessageID, &models.Attachment{
			ContentHash: hash,
			Filename:    part.FileName,
			ContentType: part.ContentType,
			SizeBytes:   int64(len(part.Content)),
			IsInline:    part.Disposition == "inline",
			ContentID:   strings.Trim(part.ContentID, "<>"),
		})
		if err != nil {
			return fmt.Errorf("persist attachment metadata: %w", err)
		}
	}
	return nil
}

func buildInlineIndex(env *enmime.Envelope) map[string]string {
	idx := make(map[string]string, len(env.Inlines))
	for _, part := range env.Inlines {
		cid := strings.Trim(part.ContentID, "<>")
		if cid == "" {
			continue
		}
		idx[cid] = blobstore.Hash(part.Content)
	}
	return idx
}

func attachmentContentHashes(env *enmime.Envelope) []string {
	all := append(append([]*enmime.Part{}, env.Attachments...), env.Inlines...)
	hashes := make([]string, len(all))
	for i, part := range all {
		hashes[i] = blobstore.Hash(part.Content)
	}
	return hashes
}

func firstAddress(env *enmime.Envelope, field string) (email, name string) {
	list, err := env.AddressList(field)
	if err != nil || len(list) == 0 {
		return strings.ToLower(strings.TrimSpace(env.GetHeader(field))), ""
	}
	return strings.ToLower(list[0].Address), list[0].Name
}

func addressEmails(env *enmime.Envelope, field string) []string {
	list, err := env.AddressList(field)
	if err != nil {
		raw := env.GetHeader(field)
		if raw == "" {
			return nil
		}
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if v := strings.ToLower(strings.TrimSpace(part)); v != "" {
				out = append(out, v)
			}
		}
		return out
	}
	out := make([]string, len(list))
	for i, addr := range list {
		out[i] = strings.ToLower(addr.Address)
	}
	return out
}

func domainOf(addr string) string {
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return strings.ToLower(addr)
	}
	return strings.ToLower(addr[i+1:])
}

func snippet(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	const max = 200
	if len(body) <= max {
		return body
	}
	return body[:max]
}
