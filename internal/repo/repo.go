package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"cleanline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertRoom(ctx context.Context, room domain.Room) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO rooms(id,name,floor,created_at) VALUES (?,?,?,?)`,
		room.ID, room.Name, nullable(room.Floor), room.CreatedAt)
	return err
}

func (r Repo) GetRoom(ctx context.Context, id string) (domain.Room, error) {
	var room domain.Room
	var floor sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,floor,created_at FROM rooms WHERE id=?`, id).
		Scan(&room.ID, &room.Name, &floor, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return room, ErrNotFound
	}
	if floor.Valid {
		room.Floor = floor.String
	}
	return room, err
}

func (r Repo) ListRooms(ctx context.Context) ([]domain.Room, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,floor,created_at FROM rooms ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Room
	for rows.Next() {
		var room domain.Room
		var floor sql.NullString
		if err := rows.Scan(&room.ID, &room.Name, &floor, &room.CreatedAt); err != nil {
			return nil, err
		}
		if floor.Valid {
			room.Floor = floor.String
		}
		res = append(res, room)
	}
	return res, nil
}

func (r Repo) DeleteRoom(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM rooms WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertPerformer(ctx context.Context, p domain.Performer) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO performers(id,name,role,active,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Role), boolInt(p.Active), p.CreatedAt)
	return err
}

func (r Repo) GetPerformer(ctx context.Context, id string) (domain.Performer, error) {
	var p domain.Performer
	var role sql.NullString
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,role,active,created_at FROM performers WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &role, &active, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if role.Valid {
		p.Role = role.String
	}
	p.Active = active != 0
	return p, err
}

func (r Repo) ListPerformers(ctx context.Context, activeOnly bool) ([]domain.Performer, error) {
	query := `SELECT id,name,role,active,created_at FROM performers`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY name ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Performer
	for rows.Next() {
		var p domain.Performer
		var role sql.NullString
		var active int
		if err := rows.Scan(&p.ID, &p.Name, &role, &active, &p.CreatedAt); err != nil {
			return nil, err
		}
		if role.Valid {
			p.Role = role.String
		}
		p.Active = active != 0
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) SetPerformerActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE performers SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertAssignedTask(ctx context.Context, t domain.AssignedTask) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO assigned_tasks(id,room_id,name,description,frequency,suggested_time,default_performer_id,active,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.RoomID, t.Name, nullable(t.Description), t.Frequency, nullable(t.SuggestedTime),
		nullableStringPtr(t.DefaultPerformerID), boolInt(t.Active), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetAssignedTask(ctx context.Context, id string) (domain.AssignedTask, error) {
	return scanAssignedTask(r.DB.QueryRowContext(ctx, `SELECT id,room_id,name,description,frequency,suggested_time,default_performer_id,active,created_at,updated_at FROM assigned_tasks WHERE id=?`, id))
}

func scanAssignedTask(row *sql.Row) (domain.AssignedTask, error) {
	var t domain.AssignedTask
	var desc, suggested, performerID sql.NullString
	var active int
	err := row.Scan(&t.ID, &t.RoomID, &t.Name, &desc, &t.Frequency, &suggested, &performerID, &active, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if desc.Valid {
		t.Description = desc.String
	}
	if suggested.Valid {
		t.SuggestedTime = suggested.String
	}
	if performerID.Valid {
		t.DefaultPerformerID = &performerID.String
	}
	t.Active = active != 0
	return t, nil
}

type AssignedTaskFilters struct {
	RoomID     string
	Frequency  string
	ActiveOnly bool
}

func (r Repo) ListAssignedTasks(ctx context.Context, f AssignedTaskFilters) ([]domain.AssignedTask, error) {
	var clauses []string
	var args []any
	if f.RoomID != "" {
		clauses = append(clauses, "room_id=?")
		args = append(args, f.RoomID)
	}
	if f.Frequency != "" {
		clauses = append(clauses, "frequency=?")
		args = append(args, f.Frequency)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "active=1")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,room_id,name,description,frequency,suggested_time,default_performer_id,active,created_at,updated_at FROM assigned_tasks ` + where + ` ORDER BY room_id ASC, name ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AssignedTask
	for rows.Next() {
		var t domain.AssignedTask
		var desc, suggested, performerID sql.NullString
		var active int
		if err := rows.Scan(&t.ID, &t.RoomID, &t.Name, &desc, &t.Frequency, &suggested, &performerID, &active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			t.Description = desc.String
		}
		if suggested.Valid {
			t.SuggestedTime = suggested.String
		}
		if performerID.Valid {
			t.DefaultPerformerID = &performerID.String
		}
		t.Active = active != 0
		res = append(res, t)
	}
	return res, nil
}

func (r Repo) UpdateAssignedTask(ctx context.Context, t domain.AssignedTask) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE assigned_tasks SET room_id=?, name=?, description=?, frequency=?, suggested_time=?, default_performer_id=?, active=?, updated_at=? WHERE id=?`,
		t.RoomID, t.Name, nullable(t.Description), t.Frequency, nullable(t.SuggestedTime),
		nullableStringPtr(t.DefaultPerformerID), boolInt(t.Active), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertUpload(ctx context.Context, u domain.Upload) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO uploads(id,file_name,path,size,uploaded_by,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.FileName, u.Path, u.Size, u.UploadedBy, u.CreatedAt)
	return err
}

func (r Repo) GetUpload(ctx context.Context, id string) (domain.Upload, error) {
	var u domain.Upload
	err := r.DB.QueryRowContext(ctx, `SELECT id,file_name,path,size,uploaded_by,created_at FROM uploads WHERE id=?`, id).
		Scan(&u.ID, &u.FileName, &u.Path, &u.Size, &u.UploadedBy, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entID.Valid {
			e.EntityID = entID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
