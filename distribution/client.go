// Copyright (C) 2025 serenite.app <dev@serenite.app>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package distribution is the thin HTTP client for the key distribution
// service: it publishes public keys and wrapped group key bundles and
// fetches them back. A missing key is an ordinary outcome, reported
// distinctly from transport failure.
package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/taut0logy/Serenite-sub001/models"
)

// ErrUnavailable means the key distribution service could not be reached
// or answered with a server error. It must never be conflated with "key
// not found".
var ErrUnavailable = errors.New("key distribution service unavailable")

// ErrVersionConflict means a wrapped-key bundle for this group and version
// already exists. The service enforces create-once-per-version; the losing
// creator falls back to fetching the existing bundle and joining.
var ErrVersionConflict = errors.New("group key version already published")

// Client talks to one key distribution service endpoint on behalf of an
// authenticated user.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewClient creates a distribution client. authToken is the bearer token
// of the logged-in user.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// PublishPublicKey registers or replaces the caller's public key. Upsert;
// idempotent.
func (c *Client) PublishPublicKey(ctx context.Context, key models.UserPublicKey) error {
	resp, err := c.post(ctx, "/api/e2e/keys/public", key)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: publish public key returned %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// FetchPublicKeys returns the known subset of the requested users' public
// keys. Users without a registered key are simply absent from the result.
func (c *Client) FetchPublicKeys(ctx context.Context, userIDs []string) ([]models.UserPublicKey, error) {
	resp, err := c.post(ctx, "/api/e2e/keys/public/batch", map[string][]string{"user_ids": userIDs})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch public keys returned %d", ErrUnavailable, resp.StatusCode)
	}

	var keys []models.UserPublicKey
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("failed to decode public keys: %w", err)
	}
	return keys, nil
}

// PublishGroupKeys uploads the full wrapped-key bundle for one group key
// version. The bundle replaces atomically; readers never see a partial
// member list. A bundle that already exists for this version yields
// ErrVersionConflict.
func (c *Client) PublishGroupKeys(ctx context.Context, publish models.GroupKeyPublish) error {
	path := fmt.Sprintf("/api/e2e/groups/%s/keys", url.PathEscape(publish.GroupID))
	resp, err := c.post(ctx, path, publish)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrVersionConflict
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: publish group keys returned %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// FetchGroupKey retrieves the caller's wrapped copy of a group's current
// key. Returns (nil, nil) when the group has no published key yet; that
// is a legitimate absence, not an error.
func (c *Client) FetchGroupKey(ctx context.Context, groupID, userID string) (*models.GroupKeyBundle, error) {
	path := fmt.Sprintf("/api/e2e/groups/%s/keys/%s", url.PathEscape(groupID), url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: fetch group key returned %d", ErrUnavailable, resp.StatusCode)
	}

	var bundle models.GroupKeyBundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("failed to decode group key bundle: %w", err)
	}
	return &bundle, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}
