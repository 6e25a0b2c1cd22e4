package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cleanline/internal/domain"
	"cleanline/internal/engine"
	"cleanline/internal/engine/auth"
	"cleanline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     engine.Engine
	BasePath   string
	UploadsDir string
	Auth       AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"threshold_not_met"`
	Message string         `json:"message" example:"completion threshold not met"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Cleanline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				next.ServeHTTP(w, r)
				return
			}
			body, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(body))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, body)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Cleanline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Engine, cfg.Auth)
	registerRooms(group, cfg.Engine)
	registerPerformers(group, cfg.Engine)
	registerAssignedTasks(group, cfg.Engine)
	registerSessions(group, cfg.Engine)
	registerCleaningLogs(group, cfg.Engine)
	registerUploads(router, basePath, cfg.Engine, cfg.UploadsDir)
	registerReport(router, basePath, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var re auth.RoleError
	if errors.As(err, &re) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": re.Need})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidCredentials), errors.Is(err, engine.ErrRefreshExpired):
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
	case errors.Is(err, engine.ErrThresholdNotMet):
		return newAPIError(http.StatusUnprocessableEntity, "threshold_not_met", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, engine.ErrSessionClosed):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unique constraint"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Cleanline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	tokenResponse := func(u domain.User, refresh string) (TokenResponse, error) {
		ttl := authCfg.accessTTL()
		access, err := signAccessToken(u.ID, u.Role, authCfg.JWTSecret, ttl, time.Now().UTC())
		if err != nil {
			return TokenResponse{}, err
		}
		return TokenResponse{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    "Bearer",
			ExpiresIn:    int(ttl.Seconds()),
			User:         userResponse(u),
		}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/auth/register",
		Summary:       "Register user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, err := e.RegisterUser(ctx, input.Body.Email, input.Body.Name, input.Body.Password, input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Login",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, refresh, err := e.LoginUser(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		resp, err := tokenResponse(u, refresh)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh",
		Method:      http.MethodPost,
		Path:        "/auth/refresh",
		Summary:     "Refresh access token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body RefreshRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		if input.Body.RefreshToken == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "refresh_token is required", nil)
		}
		u, refresh, err := e.RefreshSession(ctx, input.Body.RefreshToken)
		if err != nil {
			return nil, handleError(err)
		}
		resp, err := tokenResponse(u, refresh)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "logout",
		Method:        http.MethodPost,
		Path:          "/auth/logout",
		Summary:       "Revoke refresh tokens",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Logout(ctx, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/auth/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUser(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})
}

func registerRooms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-room",
		Method:        http.MethodPost,
		Path:          "/rooms",
		Summary:       "Create room",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateRoomRequest `json:"body"`
	}) (*struct {
		Body domain.Room `json:"body"`
	}, error) {
		if err := requireRole(ctx, auth.RoleManager); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		room, err := e.CreateRoom(ctx, input.Body.Name, input.Body.Floor, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Room `json:"body"`
		}{Body: room}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rooms",
		Method:      http.MethodGet,
		Path:        "/rooms",
		Summary:     "List rooms",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Room `json:"body"`
	}, error) {
		rooms, err := e.Repo.ListRooms(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if rooms == nil {
			rooms = []domain.Room{}
		}
		return &struct {
			Body []domain.Room `json:"body"`
		}{Body: rooms}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-room",
		Method:        http.MethodDelete,
		Path:          "/rooms/{id}",
		Summary:       "Delete room",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := requireRole(ctx, auth.RoleManager); err != nil {
			return nil, err
		}
		if err := e.Repo.DeleteRoom(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerPerformers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-performer",
		Method:        http.MethodPost,
		Path:          "/performers",
		Summary:       "Create performer",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreatePerformerRequest `json:"body"`
	}) (*struct {
		Body domain.Performer `json:"body"`
	}, error) {
		if err := requireRole(ctx, auth.RoleManager); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePerformer(ctx, input.Body.Name, input.Body.Role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Performer `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-performers",
		Method:      http.MethodGet,
		Path:        "/performers",
		Summary:     "List performers",
	}, func(ctx context.Context, input *struct {
		Active bool `query:"active"`
	}) (*struct {
		Body []domain.Performer `json:"body"`
	}, error) {
		performers, err := e.Repo.ListPerformers(ctx, input.Active)
		if err != nil {
			return nil, handleError(err)
		}
		if performers == nil {
			performers = []domain.Performer{}
		}
		return &struct {
			Body []domain.Performer `json:"body"`
		}{Body: performers}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-performer-active",
		Method:      http.MethodPatch,
		Path:        "/performers/{id}/active",
		Summary:     "Enable or disable a performer",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Body SetPerformerActiveRequest `json:"body"`
	}) (*struct {
		Body domain.Performer `json:"body"`
	}, error) {
		if err := requireRole(ctx, auth.RoleManager); err != nil {
			return nil, err
		}
		if err := e.Repo.SetPerformerActive(ctx, input.ID, input.Body.Active); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetPerformer(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Performer `json:"body"`
		}{Body: p}, nil
	})
}

func registerAssignedTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "assign-task",
		Method:        http.MethodPost,
		Path:          "/assigned-tasks",
		Summary:       "Assign task to room",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body AssignTaskRequest `json:"body"`
	}) (*struct {
		Body domain.AssignedTask `json:"body"`
	}, error) {
		if err := requireRole(ctx, auth.RoleManager); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AssignTask(ctx, engine.TaskAssignOptions{
			RoomID:             input.Body.RoomID,
			Name:               input.Body.Name,
			Description:        input.Body.Description,
			Frequency:          input.Body.Frequency,
			SuggestedTime:      input.Body.SuggestedTime,
			DefaultPerformerID: input.Body.DefaultPerformerID,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AssignedTask `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assigned-tasks",
		Method:      http.MethodGet,
		Path:        "/assigned-tasks",
		Summary:     "List assigned tasks",
	}, func(ctx context.Context, input *struct {
		RoomID    string `query:"room_id"`
		Frequency string `query:"frequency"`
		Active    bool   `query:"active"`
	}) (*struct {
		Body []domain.AssignedTask `json:"body"`
	}, error) {
		tasks, err := e.Repo.ListAssignedTasks(ctx, repo.AssignedTaskFilters{
			RoomID:     input.RoomID,
			Frequency:  input.Frequency,
			ActiveOnly: input.Active,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if tasks == nil {
			tasks = []domain.AssignedTask{}
		}
		return &struct {
			Body []domain.AssignedTask `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-active",
		Method:      http.MethodPatch,
		Path:        "/assigned-tasks/{id}/active",
		Summary:     "Enable or disable an assigned task",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body SetTaskActiveRequest `json:"body"`
	}) (*struct {
		Body domain.AssignedTask `json:"body"`
	}, error) {
		if err := requireRole(ctx, auth.RoleManager); err != nil {
			return nil, err
		}
		t, err := e.SetTaskActive(ctx, input.ID, input.Body.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AssignedTask `json:"body"`
		}{Body: t}, nil
	})
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "open-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Open a session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body OpenSessionRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.OpenSession(ctx, input.Body.Date, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "today-session",
		Method:      http.MethodGet,
		Path:        "/sessions/today",
		Summary:     "Today's session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		s, err := e.TodaySession(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetSession(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-tasks",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/tasks",
		Summary:     "Tasks due for a session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.AssignedTask `json:"body"`
	}, error) {
		s, err := e.Repo.GetSession(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.SessionTasks(ctx, s)
		if err != nil {
			return nil, handleError(err)
		}
		if tasks == nil {
			tasks = []domain.AssignedTask{}
		}
		return &struct {
			Body []domain.AssignedTask `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-session-status",
		Method:      http.MethodPatch,
		Path:        "/sessions/{id}/status",
		Summary:     "Update session status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body SetSessionStatusRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.SetSessionStatus(ctx, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})
}

func registerCleaningLogs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-cleaning-log",
		Method:        http.MethodPost,
		Path:          "/cleaning-logs",
		Summary:       "Record a cleaning log",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body RecordLogRequest `json:"body"`
	}) (*struct {
		Body domain.CleaningLog `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.SessionID == "" || input.Body.TaskID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "session_id and task_id are required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.RecordCleaningLog(ctx, engine.LogOptions{
			SessionID:   input.Body.SessionID,
			TaskID:      input.Body.TaskID,
			Status:      input.Body.Status,
			PerformedBy: input.Body.PerformedBy,
			Notes:       input.Body.Notes,
			PhotoRefs:   input.Body.PhotoRefs,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CleaningLog `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cleaning-logs",
		Method:      http.MethodGet,
		Path:        "/cleaning-logs",
		Summary:     "List cleaning logs for a session",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SessionID string `query:"session_id" required:"true"`
	}) (*struct {
		Body []domain.CleaningLog `json:"body"`
	}, error) {
		if input.SessionID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "session_id is required", nil)
		}
		logs, err := e.Repo.ListCleaningLogs(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		if logs == nil {
			logs = []domain.CleaningLog{}
		}
		return &struct {
			Body []domain.CleaningLog `json:"body"`
		}{Body: logs}, nil
	})
}

const maxUploadBytes = 10 << 20

// registerUploads serves multipart photo uploads outside huma; the body is
// streamed straight to disk.
func registerUploads(r chi.Router, basePath string, e engine.Engine, dir string) {
	r.Post(path.Join(basePath, "uploads"), func(w http.ResponseWriter, req *http.Request) {
		actorID, authErr := actorIDFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid multipart body", nil))
			return
		}
		file, header, err := req.FormFile("file")
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "file field is required", nil))
			return
		}
		defer file.Close()

		id := uuid.NewString()
		dest := filepath.Join(dir, id+filepath.Ext(header.Filename))
		out, err := os.Create(dest)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		size, err := io.Copy(out, io.LimitReader(file, maxUploadBytes))
		out.Close()
		if err != nil {
			os.Remove(dest)
			respondStatusError(w, handleError(err))
			return
		}
		u := domain.Upload{
			ID:         id,
			FileName:   header.Filename,
			Path:       dest,
			Size:       size,
			UploadedBy: actorID,
			CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertUpload(req.Context(), u); err != nil {
			os.Remove(dest)
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(UploadResponse{
			ID:        u.ID,
			FileName:  u.FileName,
			Size:      u.Size,
			CreatedAt: u.CreatedAt,
		})
	})

	r.Get(path.Join(basePath, "uploads/{id}"), func(w http.ResponseWriter, req *http.Request) {
		if _, authErr := actorIDFromContext(req.Context()); authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		u, err := e.Repo.GetUpload(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", u.FileName))
		http.ServeFile(w, req, u.Path)
	})
}

// registerReport streams a session report as CSV.
func registerReport(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "sessions/{id}/report"), func(w http.ResponseWriter, req *http.Request) {
		if _, authErr := actorIDFromContext(req.Context()); authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		s, rows, err := e.SessionReport(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "session-"+s.Date+".csv"))
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"room", "task", "status", "performed_by", "started_at", "completed_at", "notes"})
		for _, row := range rows {
			_ = cw.Write([]string{row.RoomName, row.TaskName, row.Status, row.PerformedBy, row.StartedAt, row.CompletedAt, row.Notes})
		}
		cw.Flush()
	})
}
