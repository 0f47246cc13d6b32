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

package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
)

// Client is the real Gmail API implementation of Provider. Each call
// exchanges the mailbox's stored refresh token for a short-lived access
// token via the OAuth2 refresh grant — the pipeline never performs the
// authorization-code ceremony itself, only refreshes a credential it
// was handed.
type Client struct {
	oauthConfig *oauth2.Config
	baseURL     string
	httpClient  *http.Client
	rpcTimeout  time.Duration
}

// NewClient creates a Gmail API client. clientID/clientSecret are the
// application's OAuth client used for the refresh-token grant; baseURL is
// typically https://gmail.googleapis.com.
func NewClient(clientID, clientSecret, baseURL string) *Client {
	return &Client{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: "https://oauth2.googleapis.com/token",
			},
		},
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		rpcTimeout: 30 * time.Second,
	}
}

// httpClientFor builds a per-call authenticated client from a mailbox's
// stored refresh token. The per-RPC deadline (rpcTimeout) is applied by
// doRetryable, not here.
func (c *Client) httpClientFor(ctx context.Context, cred Credential) *http.Client {
	src := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	return oauth2.NewClient(ctx, src)
}

// doRetryable wraps a single HTTP round trip with exponential backoff for
// transient failures (network errors, 5xx, 429), stopping immediately on
// non-retryable outcomes.
func (c *Client) doRetryable(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	var resp *http.Response

	operation := func() error {
		rpcCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
		defer cancel()

		r, err := client.Do(req.Clone(rpcCtx))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
			body, _ := io.ReadAll(r.Body)
			r.Body.Close()
			return fmt.Errorf("%w: gmail API returned HTTP %d: %s", ErrTransient, r.StatusCode, string(body))
		}
		resp = r
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4)
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, cred Credential, path string, query url.Values) (*http.Response, error) {
	u := fmt.Sprintf("%s%s", c.baseURL, path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("gmail: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := c.httpClientFor(ctx, cred)
	resp, err := c.doRetryable(ctx, client, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, ErrAuthRequired
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("gmail: unexpected HTTP %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

type messagesListResponse struct {
	Messages           []struct{ ID string `json:"id"` } `json:"messages"`
	NextPageToken      string                             `json:"nextPageToken"`
	ResultSizeEstimate int                                `json:"resultSizeEstimate"`
}

// ListMessages pages through users.messages.list.
func (c *Client) ListMessages(ctx context.Context, cred Credential, pageToken string) ([]string, string, error) {
	q := url.Values{}
	q.Set("maxResults", "100")
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	resp, err := c.get(ctx, cred, fmt.Sprintf("/gmail/v1/users/%s/messages", url.PathEscape(cred.EmailAddress)), q)
	if err != nil {
		return nil, "", fmt.Errorf("gmail: list messages: %w", err)
	}
	defer resp.Body.Close()

	var page messagesListResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", fmt.Errorf("gmail: decode messages list: %w", err)
	}

	ids := make([]string, 0, len(page.Messages))
	for _, m := range page.Messages {
		ids = append(ids, m.ID)
	}
	return ids, page.NextPageToken, nil
}

type historyListResponse struct {
	History []struct {
		MessagesAdded []struct {
			Message struct {
				ID string `json:"id"`
			} `json:"message"`
		} `json:"messagesAdded"`
		MessagesDeleted []struct {
			Message struct {
				ID string `json:"id"`
			} `json:"message"`
		} `json:"messagesDeleted"`
	} `json:"history"`
	NextPageToken string `json:"nextPageToken"`
	HistoryID     string `json:"historyId"`
}

// HistoryDelta pages through users.history.list starting at cursor.
func (c *Client) HistoryDelta(ctx context.Context, cred Credential, cursor string) ([]HistoryEvent, string, error) {
	var events []HistoryEvent
	pageToken := ""
	newCursor := cursor

	for {
		q := url.Values{}
		q.Set("startHistoryId", cursor)
		q.Set("historyTypes", "messageAdded")
		q.Add("historyTypes", "messageDeleted")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		resp, err := c.get(ctx, cred, fmt.Sprintf("/gmail/v1/users/%s/history", url.PathEscape(cred.EmailAddress)), q)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, "", ErrInvalidCursor
			}
			return nil, "", fmt.Errorf("gmail: history delta: %w", err)
		}

		var page historyListResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, "", fmt.Errorf("gmail: decode history page: %w", decodeErr)
		}

		for _, h := range page.History {
			for _, m := range h.MessagesAdded {
				events = append(events, HistoryEvent{Kind: HistoryMessageAdded, ProviderMessageID: m.Message.ID})
			}
			for _, m := range h.MessagesDeleted {
				events = append(events, HistoryEvent{Kind: HistoryMessageDeleted, ProviderMessageID: m.Message.ID})
			}
		}
		if page.HistoryID != "" {
			newCursor = page.HistoryID
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return events, newCursor, nil
}

// FetchRaw retrieves format=raw and base64url-decodes it to RFC822 bytes.
func (c *Client) FetchRaw(ctx context.Context, cred Credential, providerMessageID string) ([]byte, error) {
	q := url.Values{"format": {"raw"}}
	resp, err := c.get(ctx, cred, fmt.Sprintf("/gmail/v1/users/%s/messages/%s", url.PathEscape(cred.EmailAddress), url.PathEscape(providerMessageID)), q)
	if err != nil {
		return nil, fmt.Errorf("gmail: fetch raw %s: %w", providerMessageID, err)
	}
	defer resp.Body.Close()

	var body struct {
		Raw string `json:"raw"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("gmail: decode raw message: %w", err)
	}

	raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(body.Raw)
	if err != nil {
		return nil, fmt.Errorf("gmail: base64url decode raw message: %w", err)
	}
	return raw, nil
}

// Profile calls users.getProfile for a connectivity check and an initial
// history cursor.
func (c *Client) Profile(ctx context.Context, cred Credential) (string, string, error) {
	resp, err := c.get(ctx, cred, fmt.Sprintf("/gmail/v1/users/%s/profile", url.PathEscape(cred.EmailAddress)), nil)
	if err != nil {
		return "", "", fmt.Errorf("gmail: profile: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		EmailAddress string `json:"emailAddress"`
		HistoryID    string `json:"historyId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("gmail: decode profile: %w", err)
	}
	return body.EmailAddress, body.HistoryID, nil
}

// Watch re-issues users.watch, returning the new channel's expiration.
func (c *Client) Watch(ctx context.Context, cred Credential) (time.Time, error) {
	// users.watch is a POST; reuse the retryable HTTP plumbing directly
	// since it needs a body.
	client := c.httpClientFor(ctx, cred)
	u := fmt.Sprintf("%s/gmail/v1/users/%s/watch", c.baseURL, url.PathEscape(cred.EmailAddress))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("gmail: build watch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doRetryable(ctx, client, req)
	if err != nil {
		return time.Time{}, fmt.Errorf("gmail: watch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("gmail watch failed", "status", resp.StatusCode, "body", string(body))
		return time.Time{}, fmt.Errorf("gmail: watch returned HTTP %d", resp.StatusCode)
	}

	var out struct {
		Expiration string `json:"expiration"` // epoch millis, as a string
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return time.Time{}, fmt.Errorf("gmail: decode watch response: %w", err)
	}

	var millis int64
	if _, err := fmt.Sscanf(out.Expiration, "%d", &millis); err != nil {
		return time.Time{}, fmt.Errorf("gmail: parse watch expiration: %w", err)
	}
	return time.UnixMilli(millis).UTC(), nil
}

// StopWatch tears down a watch channel via users.stop.
func (c *Client) StopWatch(ctx context.Context, cred Credential) error {
	client := c.httpClientFor(ctx, cred)
	u := fmt.Sprintf("%s/gmail/v1/users/%s/stop", c.baseURL, url.PathEscape(cred.EmailAddress))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("gmail: build stop request: %w", err)
	}

	resp, err := c.doRetryable(ctx, client, req)
	if err != nil {
		return fmt.Errorf("gmail: stop watch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gmail: stop watch returned HTTP %d", resp.StatusCode)
	}
	return nil
}

var _ Provider = (*Client)(nil)
