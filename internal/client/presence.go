// Package client talks to the realtime service from the user's side: presence
// writes over HTTP, conversations over gRPC and message push over WebSocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"zabon/realtime-service/internal/models"

	"github.com/sirupsen/logrus"
)

const defaultHTTPTimeout = 10 * time.Second

type PresenceClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logrus.Logger
}

// NewPresenceClient targets the service's HTTP listener at baseURL. token is
// sent as a bearer token when non-empty.
func NewPresenceClient(baseURL, token string, logger *logrus.Logger) *PresenceClient {
	return &PresenceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		logger:  logger,
	}
}

func (c *PresenceClient) SetStatus(ctx context.Context, userID string, status models.PresenceStatus) error {
	body, err := json.Marshal(map[string]models.PresenceStatus{"status": status})
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPut, "/presence/"+url.PathEscape(userID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("set status: %w", decodeError(resp))
	}

	c.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"status":  status,
	}).Debug("Presence status sent")

	return nil
}

func (c *PresenceClient) GetStatus(ctx context.Context, userID string) (*models.StatusView, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/presence/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get status: %w", decodeError(resp))
	}

	var view models.StatusView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &view, nil
}

func (c *PresenceClient) newRequest(ctx context.Context, method, path string, body *bytes.Reader) (*http.Request, error) {
	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	}
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// StatusError is a non-2xx answer from the HTTP API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}
