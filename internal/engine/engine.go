package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"cleanline/internal/config"
	"cleanline/internal/domain"
	"cleanline/internal/events"
	"cleanline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

var (
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrThresholdNotMet   = errors.New("completion threshold not met")
	ErrSessionClosed     = errors.New("session is closed")
)

// Progress returns the whole-number completion percentage, 0 when no tasks.
func Progress(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

func (e Engine) threshold() int {
	return e.Config.CompletionThreshold()
}

func (e Engine) CreateRoom(ctx context.Context, name, floor, actorID string) (domain.Room, error) {
	if name == "" {
		return domain.Room{}, errors.New("name is required")
	}
	room := domain.Room{
		ID:        uuid.NewString(),
		Name:      name,
		Floor:     floor,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertRoom(ctx, room); err != nil {
		return domain.Room{}, fmt.Errorf("insert room: %w", err)
	}
	return room, nil
}

func (e Engine) CreatePerformer(ctx context.Context, name, role, actorID string) (domain.Performer, error) {
	if name == "" {
		return domain.Performer{}, errors.New("name is required")
	}
	p := domain.Performer{
		ID:        uuid.NewString(),
		Name:      name,
		Role:      role,
		Active:    true,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertPerformer(ctx, p); err != nil {
		return domain.Performer{}, fmt.Errorf("insert performer: %w", err)
	}
	return p, nil
}

// TaskAssignOptions are parameters for assigning a recurring task to a room.
type TaskAssignOptions struct {
	RoomID             string
	Name               string
	Description        string
	Frequency          string
	SuggestedTime      string
	DefaultPerformerID string
	ActorID            string
}

var validFrequencies = map[string]bool{"daily": true, "weekly": true, "monthly": true}

func (e Engine) AssignTask(ctx context.Context, opts TaskAssignOptions) (domain.AssignedTask, error) {
	if opts.Name == "" {
		return domain.AssignedTask{}, errors.New("name is required")
	}
	if opts.RoomID == "" {
		return domain.AssignedTask{}, errors.New("room is required")
	}
	if opts.Frequency == "" {
		opts.Frequency = "daily"
	}
	if !validFrequencies[opts.Frequency] {
		return domain.AssignedTask{}, fmt.Errorf("invalid frequency %s", opts.Frequency)
	}
	if _, err := e.Repo.GetRoom(ctx, opts.RoomID); err != nil {
		return domain.AssignedTask{}, err
	}
	if opts.DefaultPerformerID != "" {
		if _, err := e.Repo.GetPerformer(ctx, opts.DefaultPerformerID); err != nil {
			return domain.AssignedTask{}, err
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.AssignedTask{
		ID:                 uuid.NewString(),
		RoomID:             opts.RoomID,
		Name:               opts.Name,
		Description:        opts.Description,
		Frequency:          opts.Frequency,
		SuggestedTime:      opts.SuggestedTime,
		DefaultPerformerID: optionalString(opts.DefaultPerformerID),
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.Repo.InsertAssignedTask(ctx, t); err != nil {
		return domain.AssignedTask{}, fmt.Errorf("insert assigned task: %w", err)
	}
	return t, nil
}

func (e Engine) SetTaskActive(ctx context.Context, taskID string, active bool) (domain.AssignedTask, error) {
	t, err := e.Repo.GetAssignedTask(ctx, taskID)
	if err != nil {
		return domain.AssignedTask{}, err
	}
	t.Active = active
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateAssignedTask(ctx, t); err != nil {
		return domain.AssignedTask{}, err
	}
	return t, nil
}

// dueOn reports whether a task is scheduled for the given date. Daily tasks
// are due every day, weekly tasks on Mondays, monthly tasks on the first of
// the month.
func dueOn(t domain.AssignedTask, date time.Time) bool {
	switch t.Frequency {
	case "weekly":
		return date.Weekday() == time.Monday
	case "monthly":
		return date.Day() == 1
	default:
		return true
	}
}

// OpenSession creates the session for the given date, seeding its task count
// from the active tasks due that day. Opening an already-open date returns
// the existing session unchanged.
func (e Engine) OpenSession(ctx context.Context, date, actorID string) (domain.Session, error) {
	if date == "" {
		date = e.now().UTC().Format("2006-01-02")
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return domain.Session{}, fmt.Errorf("invalid date %s: %w", date, err)
	}
	if existing, err := e.Repo.GetSessionByDate(ctx, date); err == nil {
		return existing, nil
	} else if err != repo.ErrNotFound {
		return domain.Session{}, err
	}

	tasks, err := e.Repo.ListAssignedTasks(ctx, repo.AssignedTaskFilters{ActiveOnly: true})
	if err != nil {
		return domain.Session{}, err
	}
	total := 0
	for _, t := range tasks {
		if dueOn(t, day) {
			total++
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	s := domain.Session{
		ID:         uuid.NewString(),
		Date:       date,
		Status:     "pending",
		TotalTasks: total,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertSessionTx(ctx, tx, s); err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "session.opened", EntityKind: "session", EntityID: s.ID, ActorID: actorID,
		Payload: map[string]any{"date": date, "total_tasks": total},
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// TodaySession returns the session for the current date.
func (e Engine) TodaySession(ctx context.Context) (domain.Session, error) {
	return e.Repo.GetSessionByDate(ctx, e.now().UTC().Format("2006-01-02"))
}

// SessionTasks returns the active tasks due on the session's date.
func (e Engine) SessionTasks(ctx context.Context, s domain.Session) ([]domain.AssignedTask, error) {
	day, err := time.Parse("2006-01-02", s.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid session date %s: %w", s.Date, err)
	}
	tasks, err := e.Repo.ListAssignedTasks(ctx, repo.AssignedTaskFilters{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	var due []domain.AssignedTask
	for _, t := range tasks {
		if dueOn(t, day) {
			due = append(due, t)
		}
	}
	return due, nil
}

var sessionTransitions = map[string][]string{
	"pending":     {"in_progress"},
	"in_progress": {"completed", "incomplete"},
}

func transitionAllowed(from, to string) bool {
	for _, s := range sessionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SetSessionStatus applies a status transition. Completing a session requires
// its progress to reach the configured threshold; closing below the threshold
// uses the incomplete status instead.
func (e Engine) SetSessionStatus(ctx context.Context, sessionID, status, actorID string) (domain.Session, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if !transitionAllowed(s.Status, status) {
		return domain.Session{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, status)
	}
	if status == "completed" && Progress(s.CompletedTasks, s.TotalTasks) < e.threshold() {
		return domain.Session{}, fmt.Errorf("%w: %d%% of %d%% required", ErrThresholdNotMet,
			Progress(s.CompletedTasks, s.TotalTasks), e.threshold())
	}

	now := e.now().UTC().Format(time.RFC3339)
	var closedAt *string
	if status == "completed" || status == "incomplete" {
		closedAt = &now
	}
	if err := e.Repo.UpdateSessionStatusTx(ctx, tx, sessionID, status, now, closedAt); err != nil {
		return domain.Session{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "session.status", EntityKind: "session", EntityID: sessionID, ActorID: actorID,
		Payload: map[string]any{"from": s.Status, "to": status},
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	s.Status = status
	s.UpdatedAt = now
	s.ClosedAt = closedAt
	return s, nil
}

// LogOptions are parameters for recording a task validation.
type LogOptions struct {
	SessionID   string
	TaskID      string
	Status      string
	PerformedBy string
	Notes       string
	PhotoRefs   []string
	ActorID     string
}

var validLogStatuses = map[string]bool{
	"todo": true, "in_progress": true, "done": true,
	"partial": true, "skipped": true, "blocked": true,
}

// RecordCleaningLog upserts the log for a (session, task) pair. The first
// save that leaves todo stamps started_at; reaching done stamps completed_at.
// Both stamps survive later re-saves, except that completed_at is cleared
// when the status regresses away from done. Recording the first log on a
// pending session moves it to in_progress.
func (e Engine) RecordCleaningLog(ctx context.Context, opts LogOptions) (domain.CleaningLog, error) {
	if !validLogStatuses[opts.Status] {
		return domain.CleaningLog{}, fmt.Errorf("invalid log status %s", opts.Status)
	}
	task, err := e.Repo.GetAssignedTask(ctx, opts.TaskID)
	if err != nil {
		return domain.CleaningLog{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CleaningLog{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, opts.SessionID)
	if err != nil {
		return domain.CleaningLog{}, err
	}
	if s.Status == "completed" || s.Status == "incomplete" {
		return domain.CleaningLog{}, ErrSessionClosed
	}

	now := e.now().UTC().Format(time.RFC3339)
	l := domain.CleaningLog{
		ID:          uuid.NewString(),
		SessionID:   opts.SessionID,
		TaskID:      opts.TaskID,
		Status:      opts.Status,
		PerformedBy: opts.PerformedBy,
		Notes:       opts.Notes,
		PhotoRefs:   opts.PhotoRefs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	existing, err := e.Repo.GetCleaningLogTx(ctx, tx, opts.SessionID, opts.TaskID)
	switch err {
	case nil:
		l.ID = existing.ID
		l.CreatedAt = existing.CreatedAt
		l.StartedAt = existing.StartedAt
		l.CompletedAt = existing.CompletedAt
	case repo.ErrNotFound:
	default:
		return domain.CleaningLog{}, err
	}
	if l.StartedAt == nil && opts.Status != "todo" {
		l.StartedAt = &now
	}
	if opts.Status == "done" {
		if l.CompletedAt == nil {
			l.CompletedAt = &now
		}
	} else {
		l.CompletedAt = nil
	}
	if l.PerformedBy == "" && task.DefaultPerformerID != nil {
		l.PerformedBy = *task.DefaultPerformerID
	}

	if err := e.Repo.UpsertCleaningLogTx(ctx, tx, l); err != nil {
		return domain.CleaningLog{}, fmt.Errorf("upsert cleaning log: %w", err)
	}
	if err := e.Repo.RecountSessionTx(ctx, tx, opts.SessionID, now); err != nil {
		return domain.CleaningLog{}, err
	}
	if s.Status == "pending" {
		if err := e.Repo.UpdateSessionStatusTx(ctx, tx, s.ID, "in_progress", now, nil); err != nil {
			return domain.CleaningLog{}, err
		}
		if err := e.Events.Append(ctx, tx, events.Event{
			Type: "session.status", EntityKind: "session", EntityID: s.ID, ActorID: opts.ActorID,
			Payload: map[string]any{"from": "pending", "to": "in_progress"},
		}); err != nil {
			return domain.CleaningLog{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "log.recorded", EntityKind: "cleaning_log", EntityID: l.ID, ActorID: opts.ActorID,
		Payload: map[string]any{"session_id": l.SessionID, "task_id": l.TaskID, "status": l.Status},
	}); err != nil {
		return domain.CleaningLog{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CleaningLog{}, err
	}
	return l, nil
}

// ReportRow is one line of a session report.
type ReportRow struct {
	RoomName    string
	TaskName    string
	Status      string
	PerformedBy string
	StartedAt   string
	CompletedAt string
	Notes       string
}

// SessionReport joins the session's due tasks with their logs. Tasks without
// a log appear with the todo status.
func (e Engine) SessionReport(ctx context.Context, sessionID string) (domain.Session, []ReportRow, error) {
	s, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, nil, err
	}
	tasks, err := e.SessionTasks(ctx, s)
	if err != nil {
		return domain.Session{}, nil, err
	}
	logs, err := e.Repo.ListCleaningLogs(ctx, sessionID)
	if err != nil {
		return domain.Session{}, nil, err
	}
	byTask := make(map[string]domain.CleaningLog, len(logs))
	for _, l := range logs {
		byTask[l.TaskID] = l
	}
	rooms, err := e.Repo.ListRooms(ctx)
	if err != nil {
		return domain.Session{}, nil, err
	}
	roomNames := make(map[string]string, len(rooms))
	for _, r := range rooms {
		roomNames[r.ID] = r.Name
	}
	rows := make([]ReportRow, 0, len(tasks))
	for _, t := range tasks {
		row := ReportRow{
			RoomName: roomNames[t.RoomID],
			TaskName: t.Name,
			Status:   "todo",
		}
		if l, ok := byTask[t.ID]; ok {
			row.Status = l.Status
			row.PerformedBy = l.PerformedBy
			row.Notes = l.Notes
			if l.StartedAt != nil {
				row.StartedAt = *l.StartedAt
			}
			if l.CompletedAt != nil {
				row.CompletedAt = *l.CompletedAt
			}
		}
		rows = append(rows, row)
	}
	return s, rows, nil
}

// SeedCatalogue creates rooms and tasks from the config catalogue. Rooms that
// already exist by name are skipped.
func (e Engine) SeedCatalogue(ctx context.Context, actorID string) (int, int, error) {
	if e.Config == nil {
		return 0, 0, errors.New("config not loaded")
	}
	existing, err := e.Repo.ListRooms(ctx)
	if err != nil {
		return 0, 0, err
	}
	byName := make(map[string]bool, len(existing))
	for _, r := range existing {
		byName[r.Name] = true
	}
	roomsAdded, tasksAdded := 0, 0
	for _, cr := range e.Config.Catalogue {
		if byName[cr.Name] {
			continue
		}
		room, err := e.CreateRoom(ctx, cr.Name, cr.Floor, actorID)
		if err != nil {
			return roomsAdded, tasksAdded, err
		}
		roomsAdded++
		for _, ct := range cr.Tasks {
			if _, err := e.AssignTask(ctx, TaskAssignOptions{
				RoomID:        room.ID,
				Name:          ct.Name,
				Description:   ct.Description,
				Frequency:     ct.Frequency,
				SuggestedTime: ct.SuggestedTime,
				ActorID:       actorID,
			}); err != nil {
				return roomsAdded, tasksAdded, err
			}
			tasksAdded++
		}
	}
	return roomsAdded, tasksAdded, nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
