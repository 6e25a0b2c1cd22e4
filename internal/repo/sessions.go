package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"cleanline/internal/domain"
)

func (r Repo) InsertSessionTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sessions(id,date,status,total_tasks,completed_tasks,created_at,updated_at,closed_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.Date, s.Status, s.TotalTasks, s.CompletedTasks, s.CreatedAt, s.UpdatedAt, nullableStringPtr(s.ClosedAt))
	return err
}

func scanSession(scan func(dest ...any) error) (domain.Session, error) {
	var s domain.Session
	var closedAt sql.NullString
	err := scan(&s.ID, &s.Date, &s.Status, &s.TotalTasks, &s.CompletedTasks, &s.CreatedAt, &s.UpdatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if closedAt.Valid {
		s.ClosedAt = &closedAt.String
	}
	return s, nil
}

const sessionColumns = `id,date,status,total_tasks,completed_tasks,created_at,updated_at,closed_at`

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id).Scan)
}

func (r Repo) GetSessionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Session, error) {
	return scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id).Scan)
}

func (r Repo) GetSessionByDate(ctx context.Context, date string) (domain.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE date=?`, date).Scan)
}

func (r Repo) ListSessions(ctx context.Context, limit int) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY date DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

func (r Repo) UpdateSessionStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string, closedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET status=?, updated_at=?, closed_at=? WHERE id=?`,
		status, updatedAt, nullableStringPtr(closedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecountSessionTx refreshes the completed-task counter from the logs table.
func (r Repo) RecountSessionTx(ctx context.Context, tx *sql.Tx, sessionID, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE sessions SET
completed_tasks=(SELECT count(*) FROM cleaning_logs WHERE session_id=? AND status='done'),
updated_at=? WHERE id=?`, sessionID, updatedAt, sessionID)
	return err
}

func photoRefsJSON(refs []string) any {
	if len(refs) == 0 {
		return nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return nil
	}
	return string(data)
}

func scanCleaningLog(scan func(dest ...any) error) (domain.CleaningLog, error) {
	var l domain.CleaningLog
	var performedBy, notes, photos, startedAt, completedAt sql.NullString
	err := scan(&l.ID, &l.SessionID, &l.TaskID, &l.Status, &performedBy, &notes, &photos, &startedAt, &completedAt, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if performedBy.Valid {
		l.PerformedBy = performedBy.String
	}
	if notes.Valid {
		l.Notes = notes.String
	}
	if photos.Valid && photos.String != "" {
		if err := json.Unmarshal([]byte(photos.String), &l.PhotoRefs); err != nil {
			return l, err
		}
	}
	if startedAt.Valid {
		l.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		l.CompletedAt = &completedAt.String
	}
	return l, nil
}

const cleaningLogColumns = `id,session_id,task_id,status,performed_by,notes,photo_refs_json,started_at,completed_at,created_at,updated_at`

func (r Repo) GetCleaningLogTx(ctx context.Context, tx *sql.Tx, sessionID, taskID string) (domain.CleaningLog, error) {
	return scanCleaningLog(tx.QueryRowContext(ctx, `SELECT `+cleaningLogColumns+` FROM cleaning_logs WHERE session_id=? AND task_id=?`, sessionID, taskID).Scan)
}

func (r Repo) UpsertCleaningLogTx(ctx context.Context, tx *sql.Tx, l domain.CleaningLog) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cleaning_logs(id,session_id,task_id,status,performed_by,notes,photo_refs_json,started_at,completed_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(session_id,task_id) DO UPDATE SET
status=excluded.status,
performed_by=excluded.performed_by,
notes=excluded.notes,
photo_refs_json=excluded.photo_refs_json,
started_at=excluded.started_at,
completed_at=excluded.completed_at,
updated_at=excluded.updated_at`,
		l.ID, l.SessionID, l.TaskID, l.Status, nullable(l.PerformedBy), nullable(l.Notes), photoRefsJSON(l.PhotoRefs),
		nullableStringPtr(l.StartedAt), nullableStringPtr(l.CompletedAt), l.CreatedAt, l.UpdatedAt)
	return err
}

func (r Repo) ListCleaningLogs(ctx context.Context, sessionID string) ([]domain.CleaningLog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+cleaningLogColumns+` FROM cleaning_logs WHERE session_id=? ORDER BY updated_at DESC, id DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CleaningLog
	for rows.Next() {
		l, err := scanCleaningLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, nil
}
