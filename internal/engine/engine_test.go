package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cleanline/internal/config"
	"cleanline/internal/db"
	"cleanline/internal/domain"
	"cleanline/internal/engine"
	"cleanline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Room   domain.Room
}

// 2024-01-02 is a Tuesday, so weekly and monthly tasks are not due.
var testDay = time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("test-facility"))
	eng.Now = func() time.Time { return testDay }
	ctx := context.Background()
	room, err := eng.CreateRoom(ctx, "Kitchen", "1", "tester")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Room: room}
}

func (env testEnv) assignTask(t *testing.T, name, frequency string) domain.AssignedTask {
	t.Helper()
	task, err := env.Engine.AssignTask(env.Ctx, engine.TaskAssignOptions{
		RoomID:    env.Room.ID,
		Name:      name,
		Frequency: frequency,
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("assign task %s: %v", name, err)
	}
	return task
}

func TestOpenSessionCountsDueTasks(t *testing.T) {
	env := newTestEnv(t)
	env.assignTask(t, "Mop floor", "daily")
	env.assignTask(t, "Descale machine", "weekly")
	env.assignTask(t, "Deep clean", "monthly")
	inactive := env.assignTask(t, "Retired chore", "daily")
	if _, err := env.Engine.SetTaskActive(env.Ctx, inactive.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	s, err := env.Engine.OpenSession(env.Ctx, "", "tester")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if s.Date != "2024-01-02" {
		t.Fatalf("expected today's date, got %s", s.Date)
	}
	// only the active daily task is due on a plain Tuesday
	if s.TotalTasks != 1 {
		t.Fatalf("expected 1 due task, got %d", s.TotalTasks)
	}
	if s.Status != "pending" {
		t.Fatalf("expected pending, got %s", s.Status)
	}

	// a Monday the 1st picks up all three frequencies
	monday, err := env.Engine.OpenSession(env.Ctx, "2024-04-01", "tester")
	if err != nil {
		t.Fatalf("open monday session: %v", err)
	}
	if monday.TotalTasks != 3 {
		t.Fatalf("expected 3 due tasks on Monday the 1st, got %d", monday.TotalTasks)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	env.assignTask(t, "Mop floor", "daily")
	for _, date := range []string{"2024-01-02", "2024-01-03", "2024-01-04"} {
		if _, err := env.Engine.OpenSession(env.Ctx, date, "tester"); err != nil {
			t.Fatalf("open %s: %v", date, err)
		}
	}

	sessions, err := env.Engine.Repo.ListSessions(env.Ctx, 0)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	if sessions[0].Date != "2024-01-04" || sessions[2].Date != "2024-01-02" {
		t.Fatalf("expected newest first, got %s .. %s", sessions[0].Date, sessions[2].Date)
	}

	limited, err := env.Engine.Repo.ListSessions(env.Ctx, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 sessions with limit, got %d", len(limited))
	}
}

func TestOpenSessionIdempotentPerDate(t *testing.T) {
	env := newTestEnv(t)
	env.assignTask(t, "Mop floor", "daily")
	first, err := env.Engine.OpenSession(env.Ctx, "2024-01-02", "tester")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	again, err := env.Engine.OpenSession(env.Ctx, "2024-01-02", "tester")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected the same session, got %s and %s", first.ID, again.ID)
	}
}

func TestSessionStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	env.assignTask(t, "Mop floor", "daily")
	s, err := env.Engine.OpenSession(env.Ctx, "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	// pending cannot jump straight to completed
	if _, err := env.Engine.SetSessionStatus(env.Ctx, s.ID, "completed", "tester"); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	s, err = env.Engine.SetSessionStatus(env.Ctx, s.ID, "in_progress", "tester")
	if err != nil || s.Status != "in_progress" {
		t.Fatalf("to in_progress: %v", err)
	}
	// completing below the threshold is rejected
	if _, err := env.Engine.SetSessionStatus(env.Ctx, s.ID, "completed", "tester"); !errors.Is(err, engine.ErrThresholdNotMet) {
		t.Fatalf("expected threshold error, got %v", err)
	}
	// incomplete is always allowed from in_progress
	s, err = env.Engine.SetSessionStatus(env.Ctx, s.ID, "incomplete", "tester")
	if err != nil {
		t.Fatalf("to incomplete: %v", err)
	}
	if s.ClosedAt == nil {
		t.Fatalf("expected closed_at to be stamped")
	}
}

func TestCompletionThresholdGate(t *testing.T) {
	env := newTestEnv(t)
	var tasks []domain.AssignedTask
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		tasks = append(tasks, env.assignTask(t, name, "daily"))
	}
	s, err := env.Engine.OpenSession(env.Ctx, "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	// 3 of 5 done is 60%, below the default 80% threshold
	for _, task := range tasks[:3] {
		if _, err := env.Engine.RecordCleaningLog(env.Ctx, engine.LogOptions{
			SessionID: s.ID, TaskID: task.ID, Status: "done", ActorID: "tester",
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, err := env.Engine.SetSessionStatus(env.Ctx, s.ID, "completed", "tester"); !errors.Is(err, engine.ErrThresholdNotMet) {
		t.Fatalf("expected threshold error at 60%%, got %v", err)
	}
	// 4 of 5 is exactly 80%
	if _, err := env.Engine.RecordCleaningLog(env.Ctx, engine.LogOptions{
		SessionID: s.ID, TaskID: tasks[3].ID, Status: "done", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	s, err = env.Engine.SetSessionStatus(env.Ctx, s.ID, "completed", "tester")
	if err != nil {
		t.Fatalf("expected completed at 80%%: %v", err)
	}
	if s.ClosedAt == nil {
		t.Fatalf("expected closed_at")
	}
	// closed sessions reject further logs
	_, err = env.Engine.RecordCleaningLog(env.Ctx, engine.LogOptions{
		SessionID: s.ID, TaskID: tasks[4].ID, Status: "done", ActorID: "tester",
	})
	if !errors.Is(err, engine.ErrSessionClosed) {
		t.Fatalf("expected session closed, got %v", err)
	}
}

func TestRecordCleaningLogTimestamps(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignTask(t, "Mop floor", "daily")
	s, err := env.Engine.OpenSession(env.Ctx, "", "tester")
	if err != nil {
		t.Fatal(err)
	}

	l, err := env.Engine.RecordCleaningLog(env.Ctx, engine.LogOptions{
		SessionID: s.ID, TaskID: task.ID, Status: "in_progress", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if l.StartedAt == nil {
		t.Fatalf("expected started_at on first non-todo save")
	}
	if l.CompletedAt != nil {
		t.Fatalf("unexpected completed_at before done")
	}
	started := *l.StartedAt

	env.Engine.Now = func() time.Time { return testDay.Add(time.Hour) }
	l, err = env.Engine.RecordCleaningLog(env.Ctx, engine.LogOptions{
		SessionID: s.ID, TaskID: task.ID, Status: "done", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("done save: %v", err)
	}
	if *l.StartedAt != started {
		t.Fatalf("started_at changed on re-save: %s vs %s", *l.StartedAt, started)
	}
	if l.CompletedAt == nil {
		t.Fatalf("expected completed_at on done")
	}
	completed := *l.CompletedAt

	// saving done again keeps the original completion time
	env.Engine.Now = func() time.Time { return testDay.Add(2 * time.Hour) }
	l, err = env.Engine.RecordCleaningLog(env.Ctx, engine.LogOptions{
		SessionID: s.ID, TaskID: task.ID, Status: "done", Notes: "double checked", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if *l.CompletedAt != completed {
		t.Fatalf("completed_at changed on re-save")
	}
	if l.Notes != "double checked" {
		t.Fatalf("expected notes updated")
	}

	// regressing away from done clears completed_at
	l, err = env.Engine.RecordCleaningLog(env.Ctx, engine.LogOptions{
		SessionID: s.ID, TaskID: task.ID, Status: "partial", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if l.CompletedAt != nil {
		t.Fatalf("expected completed_at cleared on regression")
	}
	if *l.StartedAt != started {
		t.Fatalf("started_at must survive regression")
	}
}

func TestFirstLogPromotesSession(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignTask(t, "Mop floor", "daily")
	s, err := env.Engine.OpenSession(env.Ctx, "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordCleaningLog(env.Ctx, engine.LogOptions{
		SessionID: s.ID, TaskID: task.ID, Status: "in_progress", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	s, err = env.Engine.TodaySession(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != "in_progress" {
		t.Fatalf("expected promotion to in_progress, got %s", s.Status)
	}
}

func TestRecountOnlyCountsDone(t *testing.T) {
	env := newTestEnv(t)
	a := env.assignTask(t, "a", "daily")
	b := env.assignTask(t, "b", "daily")
	s, err := env.Engine.OpenSession(env.Ctx, "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordCleaningLog(env.Ctx, engine.LogOptions{
		SessionID: s.ID, TaskID: a.ID, Status: "done", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordCleaningLog(env.Ctx, engine.LogOptions{
		SessionID: s.ID, TaskID: b.ID, Status: "partial", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	s, err = env.Engine.TodaySession(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.CompletedTasks != 1 {
		t.Fatalf("expected 1 completed, got %d", s.CompletedTasks)
	}
	// regressing the done task drops the count back
	if _, err := env.Engine.RecordCleaningLog(env.Ctx, engine.LogOptions{
		SessionID: s.ID, TaskID: a.ID, Status: "skipped", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	s, _ = env.Engine.TodaySession(env.Ctx)
	if s.CompletedTasks != 0 {
		t.Fatalf("expected recount to 0, got %d", s.CompletedTasks)
	}
}

func TestDefaultPerformerApplied(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreatePerformer(env.Ctx, "Alice", "cleaner", "tester")
	if err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.AssignTask(env.Ctx, engine.TaskAssignOptions{
		RoomID: env.Room.ID, Name: "Mop floor", DefaultPerformerID: p.ID, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := env.Engine.OpenSession(env.Ctx, "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	l, err := env.Engine.RecordCleaningLog(env.Ctx, engine.LogOptions{
		SessionID: s.ID, TaskID: task.ID, Status: "done", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if l.PerformedBy != p.ID {
		t.Fatalf("expected default performer %s, got %q", p.ID, l.PerformedBy)
	}
}

func TestProgressRounding(t *testing.T) {
	cases := []struct {
		completed, total, want int
	}{
		{0, 0, 0},
		{0, 5, 0},
		{1, 3, 33},
		{2, 3, 67},
		{4, 5, 80},
		{5, 5, 100},
	}
	for _, c := range cases {
		if got := engine.Progress(c.completed, c.total); got != c.want {
			t.Fatalf("Progress(%d, %d) = %d, want %d", c.completed, c.total, got, c.want)
		}
	}
}

func TestSessionReportDefaultsTodo(t *testing.T) {
	env := newTestEnv(t)
	done := env.assignTask(t, "a", "daily")
	env.assignTask(t, "b", "daily")
	s, err := env.Engine.OpenSession(env.Ctx, "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordCleaningLog(env.Ctx, engine.LogOptions{
		SessionID: s.ID, TaskID: done.ID, Status: "done", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	_, rows, err := env.Engine.SessionReport(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	statuses := map[string]string{}
	for _, r := range rows {
		statuses[r.TaskName] = r.Status
	}
	if statuses["a"] != "done" || statuses["b"] != "todo" {
		t.Fatalf("unexpected statuses: %v", statuses)
	}
}

func TestSeedCatalogueSkipsExisting(t *testing.T) {
	env := newTestEnv(t)
	// default catalogue includes a Kitchen room, which newTestEnv created
	rooms, tasks, err := env.Engine.SeedCatalogue(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if rooms == 0 || tasks == 0 {
		t.Fatalf("expected catalogue rooms and tasks, got %d/%d", rooms, tasks)
	}
	again, againTasks, err := env.Engine.SeedCatalogue(env.Ctx, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if again != 0 || againTasks != 0 {
		t.Fatalf("expected second seed to be a no-op, got %d/%d", again, againTasks)
	}
}

func TestRegisterFirstUserIsManager(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.RegisterUser(env.Ctx, "Boss@Example.com", "Boss", "password1", "cleaner")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Email != "boss@example.com" {
		t.Fatalf("expected lowercased email, got %s", u.Email)
	}
	if u.Role != "manager" {
		t.Fatalf("first user must be manager, got %s", u.Role)
	}
	second, err := env.Engine.RegisterUser(env.Ctx, "worker@example.com", "Worker", "password1", "cleaner")
	if err != nil {
		t.Fatal(err)
	}
	if second.Role != "cleaner" {
		t.Fatalf("expected cleaner, got %s", second.Role)
	}
	// short passwords are rejected
	if _, err := env.Engine.RegisterUser(env.Ctx, "x@example.com", "X", "short", "cleaner"); err == nil {
		t.Fatalf("expected password length error")
	}
}

func TestLoginAndRefreshRotation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterUser(env.Ctx, "boss@example.com", "Boss", "password1", "manager"); err != nil {
		t.Fatal(err)
	}
	_, refresh, err := env.Engine.LoginUser(env.Ctx, "boss@example.com", "password1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if refresh == "" {
		t.Fatalf("expected refresh token")
	}
	if _, _, err := env.Engine.LoginUser(env.Ctx, "boss@example.com", "wrong-password"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	_, rotated, err := env.Engine.RefreshSession(env.Ctx, refresh)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated == refresh {
		t.Fatalf("expected a rotated refresh token")
	}
	// the presented token is revoked after use
	if _, _, err := env.Engine.RefreshSession(env.Ctx, refresh); err == nil {
		t.Fatalf("expected revoked token to fail")
	}
	if _, _, err := env.Engine.RefreshSession(env.Ctx, rotated); err != nil {
		t.Fatalf("rotated token must work: %v", err)
	}
}
