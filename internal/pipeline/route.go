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
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/oss-ticketing/journalcore/internal/models"
	"github.com/oss-ticketing/journalcore/internal/store"
)

// Router executes ticket_apply_routing jobs.
type Router struct {
	Store *store.Store
}

// HandleRoute evaluates routing only for the occurrence that just created
// its ticket; re-stitched occurrences of an existing ticket skip straight
// to state=routed.
func (r *Router) HandleRoute(ctx context.Context, organizationID uuid.UUID, payload json.RawMessage) error {
	var pl RoutePayload
	if err := json.Unmarshal(payload, &pl); err != nil {
		return fmt.Errorf("pipeline: unmarshal route payload: %w", err)
	}

	occ, err := r.Store.GetOccurrence(ctx, organizationID, pl.OccurrenceID)
	if err != nil {
		return fmt.Errorf("pipeline: load occurrence for route: %w", err)
	}

	if !pl.NewTicket || occ.Direction != "inbound" || occ.TicketID == nil {
		return r.finish(ctx, organizationID, occ.ID)
	}

	if err := r.apply(ctx, organizationID, occ); err != nil {
		if recErr := r.Store.RecordRouteError(ctx, organizationID, occ.ID, err); recErr != nil {
			return fmt.Errorf("pipeline: record route error: %w (original: %v)", recErr, err)
		}
		return fmt.Errorf("pipeline: apply routing: %w", err)
	}

	return r.finish(ctx, organizationID, occ.ID)
}

func (r *Router) finish(ctx context.Context, organizationID, occurrenceID uuid.UUID) error {
	if err := r.Store.RecordRouted(ctx, organizationID, occurrenceID); err != nil {
		return fmt.Errorf("pipeline: record routed: %w", err)
	}
	return nil
}

func (r *Router) apply(ctx context.Context, organizationID uuid.UUID, occ *models.MessageOccurrence) error {
	ticketID := *occ.TicketID

	if occ.RecipientSource == models.RecipientSourceUnknown {
		return r.markSpam(ctx, organizationID, ticketID)
	}
	allowed, err := r.matchesAllowlist(ctx, organizationID, occ.OriginalRecipient)
	if err != nil {
		return err
	}
	if !allowed {
		return r.markSpam(ctx, organizationID, ticketID)
	}

	msg, err := r.Store.GetCanonicalMessage(ctx, organizationID, *occ.CanonicalMessageID)
	if err != nil {
		return fmt.Errorf("load canonical message for routing predicates: %w", err)
	}
	senderDomain := domainOf(msg.FromEmail)

	rules, err := r.Store.ListEnabledRoutingRules(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("list routing rules: %w", err)
	}

	for _, rule := range rules {
		if !ruleMatches(rule, occ.OriginalRecipient, senderDomain, msg.FromEmail, occ.Direction) {
			continue
		}
		return r.applyActions(ctx, organizationID, occ, ticketID, rule)
	}
	return nil
}

func (r *Router) markSpam(ctx context.Context, organizationID, ticketID uuid.UUID) error {
	if err := r.Store.SetStatus(ctx, organizationID, ticketID, models.TicketSpam); err != nil {
		return fmt.Errorf("mark ticket spam: %w", err)
	}
	return r.Store.AppendTicketEvent(ctx, organizationID, ticketID, nil, "auto_spam", nil)
}

func (r *Router) matchesAllowlist(ctx context.Context, organizationID uuid.UUID, recipient string) (bool, error) {
	entries, err := r.Store.ListEnabledAllowlistEntries(ctx, organizationID)
	if err != nil {
		return false, fmt.Errorf("list allowlist entries: %w", err)
	}
	recipient = strings.ToLower(recipient)
	for _, e := range entries {
		if globMatch(e.Pattern, recipient) {
			return true, nil
		}
	}
	return false, nil
}

func ruleMatches(rule *models.RoutingRule, recipient, senderDomain, senderEmail, direction string) bool {
	if rule.MatchRecipientPattern != "" && !globMatch(rule.MatchRecipientPattern, strings.ToLower(recipient)) {
		return false
	}
	if rule.MatchSenderDomainPattern != "" && !globMatch(rule.MatchSenderDomainPattern, strings.ToLower(senderDomain)) {
		return false
	}
	if rule.MatchSenderEmailPattern != "" && !globMatch(rule.MatchSenderEmailPattern, strings.ToLower(senderEmail)) {
		return false
	}
	if rule.MatchDirection != "" && !globMatch(rule.MatchDirection, strings.ToLower(direction)) {
		return false
	}
	return true
}

// globMatch reports whether value matches pattern using shell-style glob
// syntax (path.Match); a malformed pattern fails closed rather than
// matching everything.
func globMatch(pattern, value string) bool {
	ok, err := path.Match(strings.ToLower(pattern), value)
	return err == nil && ok
}

// SimulationResult is the outcome of dry-running the routing predicate
// chain against a hypothetical (recipient, sender, direction) triple,
// without touching any ticket.
type SimulationResult struct {
	Allowlisted    bool
	WouldMarkSpam  bool
	MatchedRuleID  *uuid.UUID
	AppliedActions []string
	Explanation    string
}

// SimulateRouting evaluates the same allowlist-then-rules chain apply
// uses, but only reports what would happen — no ticket is loaded or
// mutated. It backs the admin surface's routing simulate operation.
func SimulateRouting(ctx context.Context, s *store.Store, organizationID uuid.UUID, recipient, senderEmail, direction string) (*SimulationResult, error) {
	recipient = strings.ToLower(recipient)
	senderEmail = strings.ToLower(senderEmail)
	senderDomain := domainOf(senderEmail)

	router := &Router{Store: s}
	allowed, err := router.matchesAllowlist(ctx, organizationID, recipient)
	if err != nil {
		return nil, fmt.Errorf("pipeline: simulate routing: check allowlist: %w", err)
	}
	if !allowed {
		return &SimulationResult{
			WouldMarkSpam: true,
			Explanation:   "recipient does not match any enabled allowlist entry",
		}, nil
	}

	rules, err := s.ListEnabledRoutingRules(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: simulate routing: list rules: %w", err)
	}

	for _, rule := range rules {
		if !ruleMatches(rule, recipient, senderDomain, senderEmail, direction) {
			continue
		}
		ruleID := rule.ID
		return &SimulationResult{
			Allowlisted:    true,
			MatchedRuleID:  &ruleID,
			AppliedActions: describeActions(rule),
			Explanation:    fmt.Sprintf("matched routing rule %s (priority %d)", rule.ID, rule.Priority),
		}, nil
	}

	return &SimulationResult{
		Allowlisted: true,
		Explanation: "allowlisted, no enabled routing rule matched",
	}, nil
}

func describeActions(rule *models.RoutingRule) []string {
	var actions []string
	if rule.ActionDrop {
		actions = append(actions, "drop")
	}
	if rule.ActionAssignQueueID != nil {
		actions = append(actions, "assign_queue:"+rule.ActionAssignQueueID.String())
	}
	if rule.ActionAssignUserID != nil {
		actions = append(actions, "assign_user:"+rule.ActionAssignUserID.String())
	}
	if rule.ActionSetStatus != "" {
		actions = append(actions, "set_status:"+string(rule.ActionSetStatus))
	}
	if rule.ActionAutoClose {
		actions = append(actions, "auto_close")
	}
	if len(rule.ActionAddTagIDs) > 0 {
		actions = append(actions, fmt.Sprintf("add_tags:%d", len(rule.ActionAddTagIDs)))
	}
	return actions
}

func (r *Router) applyActions(ctx context.Context, organizationID uuid.UUID, occ *models.MessageOccurrence, ticketID uuid.UUID, rule *models.RoutingRule) error {
	if rule.ActionDrop {
		if err := r.Store.DropTicketAndUnlink(ctx, organizationID, ticketID, occ.ID, *occ.CanonicalMessageID); err != nil {
			return fmt.Errorf("drop ticket: %w", err)
		}
		return nil
	}

	if rule.ActionAssignQueueID != nil {
		exists, err := r.Store.QueueExists(ctx, organizationID, *rule.ActionAssignQueueID)
		if err != nil {
			return fmt.Errorf("check assign_queue_id: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrQueueMissing, *rule.ActionAssignQueueID)
		}
		if err := r.Store.AssignQueue(ctx, organizationID, ticketID, *rule.ActionAssignQueueID); err != nil {
			return fmt.Errorf("assign queue: %w", err)
		}
	} else if rule.ActionAssignUserID != nil {
		if err := r.Store.AssignUser(ctx, organizationID, ticketID, *rule.ActionAssignUserID); err != nil {
			return fmt.Errorf("assign user: %w", err)
		}
	}

	if rule.ActionSetStatus != "" {
		if err := r.Store.SetStatus(ctx, organizationID, ticketID, rule.ActionSetStatus); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
	}

	if rule.ActionAutoClose {
		if err := r.Store.SetStatus(ctx, organizationID, ticketID, models.TicketClosed); err != nil {
			return fmt.Errorf("auto close: %w", err)
		}
	}

	if len(rule.ActionAddTagIDs) > 0 {
		if err := r.Store.AddTicketTags(ctx, organizationID, ticketID, rule.ActionAddTagIDs); err != nil {
			return fmt.Errorf("add tags: %w", err)
		}
	}

	eventData, _ := json.Marshal(map[string]any{"routing_rule_id": rule.ID, "priority": rule.Priority})
	return r.Store.AppendTicketEvent(ctx, organizationID, ticketID, nil, "routing_applied", eventData)
}
