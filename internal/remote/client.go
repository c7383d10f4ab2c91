// Package remote talks to the activity and attendance backend over HTTP/JSON.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"school-session-agent/internal/domain"
)

// IdempotencyHeader carries the batch id so the backend can drop replays.
const IdempotencyHeader = "Idempotency-Key"

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client implements app.ActivityClient and app.RecordClient.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http client (60s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) LoadActivity(ctx context.Context, activityID, token string) (domain.Activity, error) {
	path := "/api/activities/" + url.PathEscape(activityID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, token)
	if err != nil {
		return domain.Activity{}, err
	}

	var act domain.Activity
	if err := c.do(req, path, &act); err != nil {
		return domain.Activity{}, err
	}
	return act, nil
}

// SubmitAttempt posts a quiz as JSON and a task as multipart/form-data (fields text and file).
func (c *Client) SubmitAttempt(ctx context.Context, activityID string, sub domain.Submission, token string) (domain.SubmissionResult, error) {
	path := "/api/activities/" + url.PathEscape(activityID) + "/attempts"

	var (
		body        io.Reader
		contentType string
	)
	switch s := sub.(type) {
	case domain.QuizSubmission:
		raw, err := json.Marshal(s)
		if err != nil {
			return domain.SubmissionResult{}, errors.Wrap(err, "encode quiz submission")
		}
		body, contentType = bytes.NewReader(raw), "application/json"
	case domain.TaskSubmission:
		buf, ct, err := encodeTask(s)
		if err != nil {
			return domain.SubmissionResult{}, err
		}
		body, contentType = buf, ct
	default:
		return domain.SubmissionResult{}, errors.Errorf("unsupported submission %T", sub)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, body, token)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	req.Header.Set("Content-Type", contentType)

	var res domain.SubmissionResult
	if err := c.do(req, path, &res); err != nil {
		return domain.SubmissionResult{}, err
	}
	return res, nil
}

func encodeTask(s domain.TaskSubmission) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if s.Text != "" {
		if err := w.WriteField("text", s.Text); err != nil {
			return nil, "", errors.Wrap(err, "write text field")
		}
	}
	if s.File != nil {
		ct := s.File.ContentType
		if ct == "" {
			ct = "application/pdf"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, s.File.Name))
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", errors.Wrap(err, "create file part")
		}
		if _, err := part.Write(s.File.Data); err != nil {
			return nil, "", errors.Wrap(err, "write file part")
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "close multipart body")
	}
	return buf, w.FormDataContentType(), nil
}

// SubmitBatch delivers an attendance batch. Replays of the same batch id are acknowledged by the backend.
func (c *Client) SubmitBatch(ctx context.Context, sessionID string, batch domain.AttendanceBatch, token string) error {
	path := "/api/attendance/sessions/" + url.PathEscape(sessionID) + "/records"
	raw, err := json.Marshal(batch)
	if err != nil {
		return errors.Wrap(err, "encode attendance batch")
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(raw), token)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, batch.ID)
	return c.do(req, path, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, path string, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound && req.Method == http.MethodGet:
		return domain.ErrActivityNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return errors.Wrapf(domain.ErrUnauthorized, "%s %s", req.Method, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: req.Method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s", req.Method, path)
	}
	return nil
}
