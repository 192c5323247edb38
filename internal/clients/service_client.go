// Package clients reaches the booking, payment and station services over
// HTTP when a process runs a single lifecycle role.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/errs"
)

// TokenSource mints the bearer token a service presents to its peers
type TokenSource interface {
	GenerateServiceToken(serviceName string) (string, error)
}

// errorBody is the JSON error shape every handler writes
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// serviceClient is the shared JSON-over-HTTP plumbing of the peer clients
type serviceClient struct {
	baseURL string
	service string // name presented in service tokens
	peer    string // name of the remote, for errors and logs
	tokens  TokenSource
	client  *http.Client
	logger  *logrus.Logger
}

func newServiceClient(baseURL, service, peer string, tokens TokenSource, timeout time.Duration, logger *logrus.Logger) serviceClient {
	return serviceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		service: service,
		peer:    peer,
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// do sends body as JSON and decodes a 2xx response into out. Non-2xx
// responses are translated back into tagged errors: 404 into not_found,
// 400 into validation, 409 into conflict, anything else into dependency.
func (c *serviceClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errs.Internal("failed to encode peer request", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errs.Internal("failed to build peer request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.GenerateServiceToken(c.service)
	if err != nil {
		return errs.Internal("failed to mint service token", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"peer": c.peer,
			"path": path,
		}).Warn("Peer service call failed")
		return errs.Dependency(c.peer+" service unavailable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Dependency("failed to read "+c.peer+" service response", err)
	}

	c.logger.WithFields(logrus.Fields{
		"peer":        c.peer,
		"method":      method,
		"path":        path,
		"status_code": resp.StatusCode,
		"latency":     time.Since(start).String(),
	}).Debug("Peer service responded")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return errs.Dependency("malformed "+c.peer+" service response", err)
		}
		return nil
	}

	var errBody errorBody
	_ = json.Unmarshal(raw, &errBody)
	message := errBody.Message
	if message == "" {
		message = fmt.Sprintf("%s service returned %d", c.peer, resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return &errs.Error{Kind: errs.KindNotFound, Code: orDefault(errBody.Code, c.peer+"_not_found"), Message: message}
	case http.StatusBadRequest:
		return errs.Validation(orDefault(errBody.Code, "validation_error"), "%s", message)
	case http.StatusConflict:
		return errs.Conflict(orDefault(errBody.Code, "invalid_state"), "%s", message)
	}
	return errs.Dependency(message, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
