package board

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	cleanlinesdk "cleanline/sdk/go"
)

// Override is a locally saved task state that has not yet been observed back
// from the server. Overrides win over fetched logs until the server catches
// up, so a poll cycle never reverts what the operator just did.
type Override struct {
	Status      string
	PerformedBy string
	Notes       string
	PhotoRefs   []string
}

// SessionTask joins an assigned task with its effective log state.
type SessionTask struct {
	Task        cleanlinesdk.AssignedTask
	RoomID      string
	RoomName    string
	Status      string
	PerformedBy string
	Notes       string
	PhotoRefs   []string
	Overridden  bool
}

// Done reports whether the task counts toward completion.
func (t SessionTask) Done() bool { return t.Status == "done" }

// Progress counts done tasks against due tasks.
type Progress struct {
	Completed  int
	Total      int
	Percentage int
}

// RoomTaskGroup is the per-room slice of the board.
type RoomTaskGroup struct {
	RoomID   string
	RoomName string
	Tasks    []SessionTask
	Progress Progress
}

// View is the derived board state.
type View struct {
	Session        cleanlinesdk.Session
	AllTasks       []SessionTask
	TaskGroups     []RoomTaskGroup
	GlobalProgress Progress
}

// newProgress returns round(100*completed/total), 0 when total is 0.
func newProgress(completed, total int) Progress {
	p := Progress{Completed: completed, Total: total}
	if total > 0 {
		p.Percentage = (200*completed + total) / (2 * total)
	}
	return p
}

// Derive computes the board view from raw inputs. Groups are ordered
// lexicographically by room name; tasks keep their fetch order within a room.
func Derive(session cleanlinesdk.Session, tasks []cleanlinesdk.AssignedTask, rooms []cleanlinesdk.Room, logs []cleanlinesdk.CleaningLog, overrides map[string]Override) View {
	roomNames := make(map[string]string, len(rooms))
	for _, r := range rooms {
		roomNames[r.ID] = r.Name
	}
	byTask := make(map[string]cleanlinesdk.CleaningLog, len(logs))
	for _, l := range logs {
		byTask[l.TaskID] = l
	}

	all := make([]SessionTask, 0, len(tasks))
	groups := map[string]*RoomTaskGroup{}
	for _, t := range tasks {
		name := roomNames[t.RoomID]
		if name == "" {
			// unknown room ids still get a group, keyed by the raw id
			name = t.RoomID
		}
		st := SessionTask{
			Task:     t,
			RoomID:   t.RoomID,
			RoomName: name,
			Status:   "todo",
		}
		if l, ok := byTask[t.ID]; ok {
			st.Status = l.Status
			st.PerformedBy = l.PerformedBy
			st.Notes = l.Notes
			st.PhotoRefs = l.PhotoRefs
		}
		if o, ok := overrides[t.ID]; ok {
			st.Status = o.Status
			st.PerformedBy = o.PerformedBy
			st.Notes = o.Notes
			st.PhotoRefs = o.PhotoRefs
			st.Overridden = true
		}
		if st.PerformedBy == "" && t.DefaultPerformerID != nil {
			st.PerformedBy = *t.DefaultPerformerID
		}
		all = append(all, st)
		g, ok := groups[t.RoomID]
		if !ok {
			g = &RoomTaskGroup{RoomID: t.RoomID, RoomName: name}
			groups[t.RoomID] = g
		}
		g.Tasks = append(g.Tasks, st)
	}

	ordered := make([]RoomTaskGroup, 0, len(groups))
	totalDone := 0
	for _, g := range groups {
		done := 0
		for _, t := range g.Tasks {
			if t.Done() {
				done++
			}
		}
		g.Progress = newProgress(done, len(g.Tasks))
		totalDone += done
		ordered = append(ordered, *g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].RoomName != ordered[j].RoomName {
			return ordered[i].RoomName < ordered[j].RoomName
		}
		return ordered[i].RoomID < ordered[j].RoomID
	})

	return View{
		Session:        session,
		AllTasks:       all,
		TaskGroups:     ordered,
		GlobalProgress: newProgress(totalDone, len(all)),
	}
}

// ErrSaveInFlight is returned when a task save is already running.
var ErrSaveInFlight = errors.New("save already in flight for task")

// Store holds the board state and keeps it synchronized with the API.
type Store struct {
	Client              *cleanlinesdk.Client
	CompletionThreshold int

	mu        sync.Mutex
	session   cleanlinesdk.Session
	tasks     []cleanlinesdk.AssignedTask
	rooms     []cleanlinesdk.Room
	logs      []cleanlinesdk.CleaningLog
	overrides map[string]Override
	saving    map[string]bool

	version     uint64
	viewVersion uint64
	view        View
}

// NewStore creates a store; out-of-range thresholds fall back to 80 percent.
// A threshold of 0 makes every session completable.
func NewStore(client *cleanlinesdk.Client, threshold int) *Store {
	if threshold < 0 || threshold > 100 {
		threshold = 80
	}
	return &Store{
		Client:              client,
		CompletionThreshold: threshold,
		overrides:           map[string]Override{},
		saving:              map[string]bool{},
	}
}

// Refresh fetches session, tasks, rooms, and logs. Overrides survive the
// refresh; an override is retired once the fetched log reports its status.
func (s *Store) Refresh(ctx context.Context) error {
	session, err := s.Client.TodaySession(ctx)
	if err != nil {
		return err
	}
	tasks, err := s.Client.AssignedTasks(ctx, "")
	if err != nil {
		return err
	}
	rooms, err := s.Client.Rooms(ctx)
	if err != nil {
		return err
	}
	logs, err := s.Client.CleaningLogs(ctx, session.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.tasks = tasks
	s.rooms = rooms
	s.logs = logs
	for _, l := range logs {
		if o, ok := s.overrides[l.TaskID]; ok && o.Status == l.Status {
			delete(s.overrides, l.TaskID)
		}
	}
	s.version++
	return nil
}

// View returns the derived board state, recomputing only when inputs changed.
func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Store) viewLocked() View {
	if s.viewVersion != s.version || s.version == 0 {
		s.view = Derive(s.session, s.tasks, s.rooms, s.logs, s.overrides)
		s.viewVersion = s.version
	}
	return s.view
}

// SaveOptions describe one task save.
type SaveOptions struct {
	TaskID      string
	Status      string
	PerformedBy string
	Notes       string
	Photos      map[string][]byte
}

// SaveTask uploads photos, records the log, and applies a local override so
// the board reflects the save immediately. Photo uploads are independent: a
// failed upload drops that photo but does not abort the save. Concurrent
// saves for the same task are rejected.
func (s *Store) SaveTask(ctx context.Context, opts SaveOptions) (cleanlinesdk.CleaningLog, error) {
	s.mu.Lock()
	if s.saving[opts.TaskID] {
		s.mu.Unlock()
		return cleanlinesdk.CleaningLog{}, fmt.Errorf("%w: %s", ErrSaveInFlight, opts.TaskID)
	}
	s.saving[opts.TaskID] = true
	sessionID := s.session.ID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.saving, opts.TaskID)
		s.mu.Unlock()
	}()

	var refs []string
	for name, content := range opts.Photos {
		u, err := s.Client.UploadPhoto(ctx, name, bytes.NewReader(content))
		if err != nil {
			log.Printf("board: photo upload %s failed, saving without it: %v", name, err)
			continue
		}
		refs = append(refs, u.ID)
	}

	l, err := s.Client.RecordCleaningLog(ctx, sessionID, opts.TaskID, opts.Status, opts.PerformedBy, opts.Notes, refs)
	if err != nil {
		return cleanlinesdk.CleaningLog{}, err
	}

	s.mu.Lock()
	s.overrides[opts.TaskID] = Override{
		Status:      l.Status,
		PerformedBy: l.PerformedBy,
		Notes:       l.Notes,
		PhotoRefs:   l.PhotoRefs,
	}
	s.version++
	s.mu.Unlock()
	return l, nil
}

// ErrBelowThreshold is returned when completion is requested before enough
// tasks are done.
var ErrBelowThreshold = errors.New("completion threshold not reached")

// CanCompleteSession reports whether global progress reached the threshold.
func (s *Store) CanCompleteSession() bool {
	return s.View().GlobalProgress.Percentage >= s.CompletionThreshold
}

// CompleteSession closes today's session as completed. Below the threshold it
// refuses; closing an unfinished day takes an explicit CloseIncomplete call.
func (s *Store) CompleteSession(ctx context.Context) (cleanlinesdk.Session, error) {
	if !s.CanCompleteSession() {
		v := s.View()
		return cleanlinesdk.Session{}, fmt.Errorf("%w: %d%% done, need %d%%",
			ErrBelowThreshold, v.GlobalProgress.Percentage, s.CompletionThreshold)
	}
	return s.close(ctx, "completed")
}

// CloseIncomplete gives up on today's session regardless of progress. The
// close is final: the server rejects further logs on a closed session.
func (s *Store) CloseIncomplete(ctx context.Context) (cleanlinesdk.Session, error) {
	return s.close(ctx, "incomplete")
}

func (s *Store) close(ctx context.Context, status string) (cleanlinesdk.Session, error) {
	s.mu.Lock()
	sessionID := s.session.ID
	s.mu.Unlock()
	session, err := s.Client.SetSessionStatus(ctx, sessionID, status)
	if err != nil {
		return cleanlinesdk.Session{}, err
	}
	s.mu.Lock()
	s.session = session
	s.version++
	s.mu.Unlock()
	return session, nil
}
