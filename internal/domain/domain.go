package domain

type Room struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Floor     string `json:"floor,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Performer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// AssignedTask binds a recurring cleaning task to a room, with an optional
// default performer and frequency configuration.
type AssignedTask struct {
	ID                 string  `json:"id"`
	RoomID             string  `json:"room_id"`
	Name               string  `json:"name"`
	Description        string  `json:"description,omitempty"`
	Frequency          string  `json:"frequency" enum:"daily,weekly,monthly"`
	SuggestedTime      string  `json:"suggested_time,omitempty"`
	DefaultPerformerID *string `json:"default_performer_id,omitempty"`
	Active             bool    `json:"active"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

// Session is one calendar day's cleaning cycle.
type Session struct {
	ID             string  `json:"id"`
	Date           string  `json:"date" format:"date"`
	Status         string  `json:"status" enum:"pending,in_progress,completed,incomplete"`
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
	ClosedAt       *string `json:"closed_at,omitempty" format:"date-time"`
}

// CleaningLog records one task validation within a session. At most one log
// exists per (session, task); re-saving replaces the previous entry.
type CleaningLog struct {
	ID          string   `json:"id"`
	SessionID   string   `json:"session_id"`
	TaskID      string   `json:"task_id"`
	Status      string   `json:"status" enum:"todo,in_progress,done,partial,skipped,blocked"`
	PerformedBy string   `json:"performed_by,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	PhotoRefs   []string `json:"photo_refs,omitempty"`
	StartedAt   *string  `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string  `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	Role         string `json:"role" enum:"manager,cleaner"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// RefreshToken is the long-lived credential backing access-token refresh.
// Only the SHA-256 digest of the token is stored.
type RefreshToken struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	TokenHash string `json:"token_hash"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Upload struct {
	ID         string `json:"id"`
	FileName   string `json:"file_name"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	UploadedBy string `json:"uploaded_by"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
