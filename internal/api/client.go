// Package api is the participant-side client for the exam backend REST
// contract: login-code exchange, exam definition, draft sync, document upload
// and final submission.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/model"
)

// Error is a non-2xx response from the backend.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

// AttemptClosed reports whether the backend refused the request because the
// attempt was already submitted.
func (e *Error) AttemptClosed() bool {
	return e.Status == http.StatusConflict && e.Code == CodeAttemptClosed
}

// CodeAttemptClosed is the error code of a 409 on a submitted attempt.
const CodeAttemptClosed = "ATTEMPT_CLOSED"

// IsStatus reports whether err is an *Error with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// envelope mirrors the backend's response.Response.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to the exam backend. The zero value is not usable; use New.
type Client struct {
	baseURL       string
	http          *http.Client
	beaconTimeout time.Duration
	log           zerolog.Logger

	mu    sync.RWMutex
	token string

	beacons sync.WaitGroup
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	BeaconTimeout time.Duration
	HTTPClient    *http.Client
}

// New creates a Client.
func New(opts Options, log zerolog.Logger) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	beacon := opts.BeaconTimeout
	if beacon <= 0 {
		beacon = 3 * time.Second
	}
	return &Client{
		baseURL:       opts.BaseURL,
		http:          hc,
		beaconTimeout: beacon,
		log:           log.With().Str("component", "api_client").Logger(),
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login exchanges a single-use login code for a participant identity.
func (c *Client) Login(ctx context.Context, code string) (*model.Identity, error) {
	var identity model.Identity
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", model.LoginRequest{LoginCode: code}, &identity); err != nil {
		return nil, err
	}
	if !identity.Valid() {
		return nil, errors.New("login response is missing identity fields")
	}
	c.SetToken(identity.Token)
	return &identity, nil
}

// FetchExam retrieves the exam definition.
func (c *Client) FetchExam(ctx context.Context, examID string) (*model.ExamDefinition, error) {
	var exam model.ExamDefinition
	if err := c.doJSON(ctx, http.MethodGet, "/exam/"+url.PathEscape(examID), nil, &exam); err != nil {
		return nil, err
	}
	return &exam, nil
}

// SaveDraft upserts the in-progress answers.
func (c *Client) SaveDraft(ctx context.Context, sub *model.AnswerSubmission) error {
	return c.doJSON(ctx, http.MethodPost, "/draft", sub, nil)
}

// SaveDraftBeacon sends a draft without tying it to the caller's lifetime,
// the way a browser beacon outlives page teardown. It returns immediately;
// Drain waits for outstanding beacons.
func (c *Client) SaveDraftBeacon(sub *model.AnswerSubmission) {
	c.beacons.Add(1)
	go func() {
		defer c.beacons.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.beaconTimeout)
		defer cancel()
		if err := c.SaveDraft(ctx, sub); err != nil {
			c.log.Warn().Err(err).Str("exam_id", sub.ExamID).Msg("Draft beacon failed")
		}
	}()
}

// Drain waits for in-flight beacons, at most until ctx is done.
func (c *Client) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		c.beacons.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warn().Msg("Gave up waiting for draft beacons")
	}
}

// Submit sends the authoritative final answers.
func (c *Client) Submit(ctx context.Context, sub *model.AnswerSubmission) error {
	return c.doJSON(ctx, http.MethodPost, "/submit", sub, nil)
}

// Upload sends one document for a question as multipart form data.
func (c *Client) Upload(ctx context.Context, questionID, filename string, content io.Reader) (*model.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("question_id", questionID); err != nil {
		return nil, fmt.Errorf("write field: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copy file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result model.UploadResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	if result.FileName == "" {
		result.FileName = filename
	}
	return &result, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, dest)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, dest interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if dest == nil {
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
