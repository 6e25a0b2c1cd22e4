package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"testing"

	"cleanline/internal/config"
	"cleanline/internal/db"
	"cleanline/internal/domain"
	"cleanline/internal/engine"
	"cleanline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	uploads, err := db.UploadsDir(workspace)
	if err != nil {
		t.Fatalf("uploads dir: %v", err)
	}
	e := engine.New(conn, config.Default("test-facility"))
	handler, err := New(Config{
		Engine:     e,
		BasePath:   "/v1",
		UploadsDir: uploads,
		Auth:       AuthConfig{JWTSecret: "test-secret"},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// registerAndLogin creates a user and returns its access and refresh tokens.
// The first registered user per server is a manager.
func registerAndLogin(t *testing.T, srv *testServer, email string) (TokenResponse, string) {
	t.Helper()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/register", map[string]any{
		"email":    email,
		"name":     "Test User",
		"password": "password1",
	}, "")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email":    email,
		"password": "password1",
	}, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(body))
	}
	var grant TokenResponse
	if err := json.Unmarshal(body, &grant); err != nil {
		t.Fatalf("unmarshal grant: %v", err)
	}
	if grant.AccessToken == "" || grant.RefreshToken == "" {
		t.Fatalf("expected tokens in grant: %s", string(body))
	}
	return grant, grant.AccessToken
}

func TestAuthRegisterLoginRefresh(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	grant, token := registerAndLogin(t, srv, "boss@example.com")
	if grant.User.Role != "manager" {
		t.Fatalf("first user should be manager, got %s", grant.User.Role)
	}

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/auth/me", nil, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(body))
	}
	var me UserResponse
	_ = json.Unmarshal(body, &me)
	if me.Email != "boss@example.com" {
		t.Fatalf("unexpected me: %s", string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/refresh", map[string]any{
		"refresh_token": grant.RefreshToken,
	}, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("refresh status %d: %s", res.StatusCode, string(body))
	}
	var rotated TokenResponse
	_ = json.Unmarshal(body, &rotated)
	if rotated.RefreshToken == grant.RefreshToken {
		t.Fatalf("expected rotated refresh token")
	}

	// the presented token is revoked after the exchange
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/refresh", map[string]any{
		"refresh_token": grant.RefreshToken,
	}, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for reused token, got %d: %s", res.StatusCode, string(body))
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/rooms", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(body))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/rooms", nil, "not-a-jwt")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", res.StatusCode)
	}
	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be public, got %d", res.StatusCode)
	}
}

func TestManagerRoleRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	_, manager := registerAndLogin(t, srv, "boss@example.com")
	cleanerGrant, cleaner := registerAndLogin(t, srv, "worker@example.com")
	if cleanerGrant.User.Role != "cleaner" {
		t.Fatalf("expected cleaner role, got %s", cleanerGrant.User.Role)
	}

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rooms", map[string]any{
		"name": "Kitchen",
	}, cleaner)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for cleaner, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rooms", map[string]any{
		"name": "Kitchen",
	}, manager)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for manager, got %d: %s", res.StatusCode, string(body))
	}
}

func TestLogoutRevokesRefreshTokens(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	grant, token := registerAndLogin(t, srv, "boss@example.com")

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/logout", nil, token)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/refresh", map[string]any{
		"refresh_token": grant.RefreshToken,
	}, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d: %s", res.StatusCode, string(body))
	}
	// the access token stays valid until it expires
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/auth/me", nil, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me after logout: %d", res.StatusCode)
	}
}

func TestRoomDeleteAndPerformerToggle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	_, token := registerAndLogin(t, srv, "boss@example.com")
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/rooms", map[string]any{"name": "Storage"}, token)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create room: %d %s", res.StatusCode, string(body))
	}
	var room domain.Room
	_ = json.Unmarshal(body, &room)

	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/rooms/"+room.ID, nil, token)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete room: %d %s", res.StatusCode, string(body))
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/rooms/"+room.ID, nil, token)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted room, got %d", res.StatusCode)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/performers", map[string]any{"name": "Alice"}, token)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create performer: %d %s", res.StatusCode, string(body))
	}
	var p domain.Performer
	_ = json.Unmarshal(body, &p)

	res, body = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/performers/"+p.ID+"/active", map[string]any{
		"active": false,
	}, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("toggle performer: %d %s", res.StatusCode, string(body))
	}
	_ = json.Unmarshal(body, &p)
	if p.Active {
		t.Fatalf("expected performer inactive: %s", string(body))
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	_, token := registerAndLogin(t, srv, "boss@example.com")
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/rooms", map[string]any{"name": "Kitchen"}, token)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create room: %d %s", res.StatusCode, string(body))
	}
	var room domain.Room
	_ = json.Unmarshal(body, &room)

	var tasks []domain.AssignedTask
	for _, name := range []string{"Mop floor", "Wipe counters"} {
		res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/assigned-tasks", map[string]any{
			"room_id": room.ID, "name": name, "frequency": "daily",
		}, token)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("assign %s: %d %s", name, res.StatusCode, string(body))
		}
		var task domain.AssignedTask
		_ = json.Unmarshal(body, &task)
		tasks = append(tasks, task)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions", map[string]any{}, token)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("open session: %d %s", res.StatusCode, string(body))
	}
	var session SessionResponse
	_ = json.Unmarshal(body, &session)
	if session.TotalTasks != 2 || session.Status != "pending" {
		t.Fatalf("unexpected session: %s", string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/sessions/"+session.ID+"/tasks", nil, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("session tasks: %d %s", res.StatusCode, string(body))
	}
	var due []domain.AssignedTask
	_ = json.Unmarshal(body, &due)
	if len(due) != 2 {
		t.Fatalf("expected 2 due tasks, got %d: %s", len(due), string(body))
	}

	// completing before any work violates the transition rules
	res, body = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/sessions/"+session.ID+"/status", map[string]any{
		"status": "completed",
	}, token)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/cleaning-logs", map[string]any{
		"session_id": session.ID, "task_id": tasks[0].ID, "status": "done",
	}, token)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record log: %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/sessions/today", nil, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("today: %d %s", res.StatusCode, string(body))
	}
	_ = json.Unmarshal(body, &session)
	if session.Status != "in_progress" || session.CompletedTasks != 1 || session.Progress != 50 {
		t.Fatalf("unexpected today session: %s", string(body))
	}

	// 50% is below the 80% threshold
	res, body = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/sessions/"+session.ID+"/status", map[string]any{
		"status": "completed",
	}, token)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/cleaning-logs", map[string]any{
		"session_id": session.ID, "task_id": tasks[1].ID, "status": "done",
	}, token)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record log: %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/sessions/"+session.ID+"/status", map[string]any{
		"status": "completed",
	}, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(body))
	}

	// closed sessions reject new logs
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/cleaning-logs", map[string]any{
		"session_id": session.ID, "task_id": tasks[0].ID, "status": "partial",
	}, token)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 after close, got %d: %s", res.StatusCode, string(body))
	}
}

func TestUploadAndReport(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	_, token := registerAndLogin(t, srv, "boss@example.com")
	client := srv.Client()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "before.jpg")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("not really a jpeg"))
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/uploads", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("upload status %d: %s", res.StatusCode, string(data))
	}
	var up UploadResponse
	if err := json.Unmarshal(data, &up); err != nil {
		t.Fatalf("unmarshal upload: %v", err)
	}
	if up.FileName != "before.jpg" || up.Size == 0 {
		t.Fatalf("unexpected upload: %s", string(data))
	}

	dlRes, dlBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/uploads/"+up.ID, nil, token)
	if dlRes.StatusCode != http.StatusOK {
		t.Fatalf("download status %d: %s", dlRes.StatusCode, string(dlBody))
	}
	if string(dlBody) != "not really a jpeg" {
		t.Fatalf("download content mismatch: %q", string(dlBody))
	}
	dlRes, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/uploads/no-such-id", nil, token)
	if dlRes.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown upload, got %d", dlRes.StatusCode)
	}

	// build a minimal session for the report
	resRoom, roomBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/rooms", map[string]any{"name": "Kitchen"}, token)
	if resRoom.StatusCode != http.StatusCreated {
		t.Fatalf("create room: %d", resRoom.StatusCode)
	}
	var room domain.Room
	_ = json.Unmarshal(roomBody, &room)
	_, taskBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/assigned-tasks", map[string]any{
		"room_id": room.ID, "name": "Mop floor",
	}, token)
	var task domain.AssignedTask
	_ = json.Unmarshal(taskBody, &task)
	_, sessBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions", map[string]any{}, token)
	var session SessionResponse
	_ = json.Unmarshal(sessBody, &session)
	doJSON(t, client, http.MethodPost, srv.URL+"/v1/cleaning-logs", map[string]any{
		"session_id": session.ID, "task_id": task.ID, "status": "done",
		"photo_refs": []string{up.ID},
	}, token)

	reportRes, reportBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/sessions/"+session.ID+"/report", nil, token)
	if reportRes.StatusCode != http.StatusOK {
		t.Fatalf("report status %d: %s", reportRes.StatusCode, string(reportBody))
	}
	if ct := reportRes.Header.Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %s", ct)
	}
	csvText := string(reportBody)
	if !strings.Contains(csvText, "room,task,status") || !strings.Contains(csvText, "Mop floor") {
		t.Fatalf("unexpected csv: %s", csvText)
	}
}
