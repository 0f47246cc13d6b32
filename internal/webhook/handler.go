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

// Package webhook receives Gmail push notifications delivered as Google
// Cloud Pub/Sub push messages. When a watched mailbox changes, Gmail
// publishes {emailAddress, historyId} to the subscription's push
// endpoint; this handler resolves the mailbox, deduplicates the
// notification, and enqueues a mailbox_history_sync job. It never fetches
// or processes mail itself — that is the sync controller's job.
package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/oss-ticketing/journalcore/internal/dedup"
	"github.com/oss-ticketing/journalcore/internal/models"
	"github.com/oss-ticketing/journalcore/internal/queue"
	"github.com/oss-ticketing/journalcore/internal/store"
	"github.com/oss-ticketing/journalcore/internal/syncctl"
)

// pushEnvelope is the outer body Pub/Sub POSTs to a push subscription's
// endpoint.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// historyNotification is the base64-decoded payload of the Pub/Sub
// message, as published by Gmail's watch mechanism.
type historyNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    string `json:"historyId"`
}

// Handler processes Gmail Pub/Sub push notifications.
type Handler struct {
	Store  *store.Store
	Queue  *queue.Queue
	Filter *dedup.Filter
}

// ServePush handles one Pub/Sub push HTTP request. Pub/Sub retries on any
// non-2xx response, so once the body has been parsed the handler always
// returns 200/204 and logs rather than errors back to the caller: never
// tell the provider to retry a notification we've already understood,
// even when that notification turned out to be malformed or unresolvable.
func (h *Handler) ServePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("webhook: failed to read push body", "error", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		slog.Warn("webhook: push body not valid JSON, discarding", "body_len", len(body))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	go h.process(context.Background(), envelope)
}

func (h *Handler) process(ctx context.Context, envelope pushEnvelope) {
	raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		slog.Warn("webhook: push message data not base64", "error", err)
		return
	}

	var note historyNotification
	if err := json.Unmarshal(raw, &note); err != nil {
		slog.Warn("webhook: push message data not valid JSON", "error", err)
		return
	}
	if note.EmailAddress == "" || note.HistoryID == "" {
		slog.Warn("webhook: push notification missing emailAddress/historyId")
		return
	}

	organizationID, mailboxID, err := h.Store.FindMailboxByEmail(ctx, note.EmailAddress)
	if err != nil {
		slog.Warn("webhook: no mailbox for push notification", "email", note.EmailAddress, "error", err)
		return
	}

	isNew, err := h.Filter.IsNew(ctx, mailboxID.String(), note.HistoryID)
	if err != nil {
		slog.Warn("webhook: dedup check failed, proceeding", "error", err)
	} else if !isNew {
		slog.Debug("webhook: duplicate push notification, skipping", "mailbox_id", mailboxID, "history_id", note.HistoryID)
		return
	}

	_, err = h.Queue.Enqueue(ctx, models.JobMailboxHistorySync, organizationID, syncctl.HistorySyncPayload{
		MailboxID: mailboxID,
	}, queue.EnqueueOptions{IdempotencyKey: fmt.Sprintf("push:%s:%s", mailboxID, note.HistoryID)})
	if err != nil {
		slog.Error("webhook: enqueue mailbox_history_sync failed", "mailbox_id", mailboxID, "error", err)
	}
}

// Serve starts the push-notification HTTP server on the given port. It
// binds the port immediately and signals readiness via the returned
// channel before accepting connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/push/gmail", handler.ServePush)

	server := &http.Server{Handler: mux}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("webhook: bind port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook: server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("webhook: server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook: server error", "error", err)
		}
	}()

	return ready, nil
}
