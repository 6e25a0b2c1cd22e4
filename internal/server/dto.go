package server

import (
	"context"

	"cleanline/internal/domain"
	"cleanline/internal/engine"
)

type RegisterRequest struct {
	Email    string `json:"email" example:"marie@example.com"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty" enum:"manager,cleaner"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type" example:"Bearer"`
	ExpiresIn    int          `json:"expires_in"`
	User         UserResponse `json:"user"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, CreatedAt: u.CreatedAt}
}

type CreateRoomRequest struct {
	Name  string `json:"name"`
	Floor string `json:"floor,omitempty"`
}

type CreatePerformerRequest struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

type AssignTaskRequest struct {
	RoomID             string `json:"room_id"`
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	Frequency          string `json:"frequency,omitempty" enum:"daily,weekly,monthly"`
	SuggestedTime      string `json:"suggested_time,omitempty"`
	DefaultPerformerID string `json:"default_performer_id,omitempty"`
}

type SetTaskActiveRequest struct {
	Active bool `json:"active"`
}

type SetPerformerActiveRequest struct {
	Active bool `json:"active"`
}

type OpenSessionRequest struct {
	Date string `json:"date,omitempty" format:"date"`
}

type SessionResponse struct {
	ID             string  `json:"id"`
	Date           string  `json:"date"`
	Status         string  `json:"status"`
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	Progress       int     `json:"progress"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
	ClosedAt       *string `json:"closed_at,omitempty"`
}

func sessionResponse(s domain.Session) SessionResponse {
	return SessionResponse{
		ID:             s.ID,
		Date:           s.Date,
		Status:         s.Status,
		TotalTasks:     s.TotalTasks,
		CompletedTasks: s.CompletedTasks,
		Progress:       engine.Progress(s.CompletedTasks, s.TotalTasks),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		ClosedAt:       s.ClosedAt,
	}
}

type SetSessionStatusRequest struct {
	Status string `json:"status" enum:"in_progress,completed,incomplete"`
}

type RecordLogRequest struct {
	SessionID   string   `json:"session_id"`
	TaskID      string   `json:"task_id"`
	Status      string   `json:"status" enum:"todo,in_progress,done,partial,skipped,blocked"`
	PerformedBy string   `json:"performed_by,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	PhotoRefs   []string `json:"photo_refs,omitempty"`
}

type UploadResponse struct {
	ID        string `json:"id"`
	FileName  string `json:"file_name"`
	Size      int64  `json:"size"`
	CreatedAt string `json:"created_at"`
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}

