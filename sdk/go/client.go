package cleanlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a Cleanline HTTP API client. Protected calls go through an
// authenticated pipeline: the bearer token is force-refreshed before every
// request, and a single 401 triggers one token refresh and one retry. At most
// two refreshes and two network attempts happen per call.
type Client struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	Timeout    time.Duration

	// OnAuthFailure is invoked when a protected call cannot be
	// authenticated, before the error is returned. Typically used to
	// redirect the operator back to login.
	OnAuthFailure func(err error)
}

// New creates a client with sane defaults and a refresh-token source.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Tokens:  &RefreshTokenSource{BaseURL: baseURL},
		Timeout: 10 * time.Second,
	}
}

// User is the API user model.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// TokenGrant is the login/refresh response.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         User   `json:"user"`
}

type Room struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Floor string `json:"floor"`
}

type Performer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

type AssignedTask struct {
	ID                 string  `json:"id"`
	RoomID             string  `json:"room_id"`
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	Frequency          string  `json:"frequency"`
	SuggestedTime      string  `json:"suggested_time"`
	DefaultPerformerID *string `json:"default_performer_id"`
	Active             bool    `json:"active"`
}

type Session struct {
	ID             string  `json:"id"`
	Date           string  `json:"date"`
	Status         string  `json:"status"`
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	Progress       int     `json:"progress"`
	ClosedAt       *string `json:"closed_at"`
}

type CleaningLog struct {
	ID          string   `json:"id"`
	SessionID   string   `json:"session_id"`
	TaskID      string   `json:"task_id"`
	Status      string   `json:"status"`
	PerformedBy string   `json:"performed_by"`
	Notes       string   `json:"notes"`
	PhotoRefs   []string `json:"photo_refs"`
	StartedAt   *string  `json:"started_at"`
	CompletedAt *string  `json:"completed_at"`
	UpdatedAt   string   `json:"updated_at"`
}

type Upload struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	Size     int64  `json:"size"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register creates a user account.
func (c *Client) Register(ctx context.Context, email, name, password, role string) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodPost, "v1/auth/register", map[string]string{
		"email": email, "name": name, "password": password, "role": role,
	}, &resp)
	return resp, err
}

// Login authenticates and seeds the client's token source.
func (c *Client) Login(ctx context.Context, email, password string) (TokenGrant, error) {
	var resp TokenGrant
	err := c.do(ctx, http.MethodPost, "v1/auth/login", map[string]string{
		"email": email, "password": password,
	}, &resp)
	if err != nil {
		return resp, err
	}
	if src, ok := c.Tokens.(*RefreshTokenSource); ok {
		src.SetSession(resp.AccessToken, resp.RefreshToken, resp.ExpiresIn)
	}
	return resp, nil
}

// Me returns the current user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v1/auth/me", nil, &resp)
	return resp, err
}

// Logout revokes the server-side refresh tokens and clears the local session.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "v1/auth/logout", nil, nil)
	if src, ok := c.Tokens.(*RefreshTokenSource); ok {
		src.Clear()
	}
	return err
}

func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	var resp []Room
	err := c.do(ctx, http.MethodGet, "v1/rooms", nil, &resp)
	return resp, err
}

func (c *Client) Performers(ctx context.Context) ([]Performer, error) {
	var resp []Performer
	err := c.do(ctx, http.MethodGet, "v1/performers", nil, &resp)
	return resp, err
}

func (c *Client) AssignedTasks(ctx context.Context, roomID string) ([]AssignedTask, error) {
	endpoint := "v1/assigned-tasks?active=true"
	if roomID != "" {
		endpoint += "&room_id=" + url.QueryEscape(roomID)
	}
	var resp []AssignedTask
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// OpenSession opens the session for a date; empty date means today.
func (c *Client) OpenSession(ctx context.Context, date string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "v1/sessions", map[string]string{"date": date}, &resp)
	return resp, err
}

func (c *Client) TodaySession(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, "v1/sessions/today", nil, &resp)
	return resp, err
}

func (c *Client) SetSessionStatus(ctx context.Context, sessionID, status string) (Session, error) {
	var resp Session
	endpoint := fmt.Sprintf("v1/sessions/%s/status", url.PathEscape(sessionID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]string{"status": status}, &resp)
	return resp, err
}

// RecordCleaningLog saves one task validation.
func (c *Client) RecordCleaningLog(ctx context.Context, sessionID, taskID, status, performedBy, notes string, photoRefs []string) (CleaningLog, error) {
	var resp CleaningLog
	err := c.do(ctx, http.MethodPost, "v1/cleaning-logs", map[string]any{
		"session_id":   sessionID,
		"task_id":      taskID,
		"status":       status,
		"performed_by": performedBy,
		"notes":        notes,
		"photo_refs":   photoRefs,
	}, &resp)
	return resp, err
}

func (c *Client) CleaningLogs(ctx context.Context, sessionID string) ([]CleaningLog, error) {
	var resp []CleaningLog
	endpoint := "v1/cleaning-logs?session_id=" + url.QueryEscape(sessionID)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UploadPhoto posts a photo as multipart form data and returns its reference.
func (c *Client) UploadPhoto(ctx context.Context, fileName string, content io.Reader) (Upload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return Upload{}, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return Upload{}, err
	}
	if err := mw.Close(); err != nil {
		return Upload{}, err
	}
	var resp Upload
	err = c.doRaw(ctx, http.MethodPost, "v1/uploads", buf.Bytes(), mw.FormDataContentType(), &resp)
	return resp, err
}

// DownloadReport fetches the session report CSV.
func (c *Client) DownloadReport(ctx context.Context, sessionID string) ([]byte, error) {
	endpoint := fmt.Sprintf("v1/sessions/%s/report", url.PathEscape(sessionID))
	resp, err := c.send(ctx, http.MethodGet, endpoint, nil, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	return c.doRaw(ctx, method, endpoint, payload, "application/json", out)
}

func (c *Client) doRaw(ctx context.Context, method, endpoint string, payload []byte, contentType string, out any) error {
	resp, err := c.send(ctx, method, endpoint, payload, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// send runs the authenticated pipeline: attach a freshly refreshed bearer
// token, and on a 401 refresh once more and retry exactly once. The request
// body is replayed from the buffered payload.
func (c *Client) send(ctx context.Context, method, endpoint string, payload []byte, contentType string) (*http.Response, error) {
	public := publicEndpoint("/" + strings.TrimLeft(endpoint, "/"))

	attempt := func(token string) (*http.Response, error) {
		url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return c.httpClient().Do(req)
	}

	if public {
		resp, err := attempt("")
		if err != nil {
			return nil, err
		}
		return c.check(resp)
	}

	if c.Tokens == nil || !c.Tokens.Authenticated() {
		return nil, c.authFailure(ErrNotAuthenticated)
	}
	policy := &recoveryPolicy{}
	for {
		token, err := c.Tokens.Token(ctx, true)
		if err != nil {
			if policy.retried {
				return nil, c.authFailure(fmt.Errorf("%w: %v", ErrAuthRecoveryFailed, err))
			}
			return nil, c.authFailure(err)
		}
		resp, err := attempt(token)
		if err != nil {
			return nil, err
		}
		switch policy.Observe(resp.StatusCode) {
		case recoveryRetry:
			// refresh once more and replay the request
			resp.Body.Close()
		case recoveryFail:
			resp.Body.Close()
			return nil, c.authFailure(ErrAuthRecoveryFailed)
		default:
			return c.check(resp)
		}
	}
}

func (c *Client) check(resp *http.Response) (*http.Response, error) {
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

func (c *Client) authFailure(err error) error {
	if c.OnAuthFailure != nil {
		c.OnAuthFailure(err)
	}
	return err
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
