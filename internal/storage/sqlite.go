package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindd/internal/reminder"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db *sql.DB
}

func openSQLite(cfg Config) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const reminderCols = `id, entity_id, chain_id, scheduled_at, status, frequency, priority, notes,
	sent_count, sent_at, created_at, updated_at, client_name, client_email, client_phone`

func (s *sqliteStore) Create(ctx context.Context, r *reminder.Reminder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(`+reminderCols+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.EntityID, r.ChainID, ms(r.ScheduledAt), string(r.Status), r.Frequency.String(),
		string(r.Priority), r.Notes, r.SentCount, nullMS(r.SentAt), ms(r.CreatedAt), ms(r.UpdatedAt),
		r.Client.Name, r.Client.Email, r.Client.Phone,
	)
	if err != nil {
		return storeErr("create", err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (reminder.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, fmt.Errorf("%w: id %s", reminder.ErrNotFound, id)
	}
	if err != nil {
		return reminder.Reminder{}, storeErr("get", err)
	}
	return r, nil
}

func (s *sqliteStore) Transition(ctx context.Context, id string, from, to reminder.Status, up TransitionUpdate) (reminder.Reminder, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return reminder.Reminder{}, storeErr("transition begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var res sql.Result
	if up.IncrementSent {
		res, err = tx.ExecContext(ctx,
			`UPDATE reminders
			 SET status = ?, sent_count = sent_count + 1, sent_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(to), ms(up.Now), ms(up.Now), id, string(from))
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE reminders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(to), ms(up.Now), id, string(from))
	}
	if err != nil {
		return reminder.Reminder{}, storeErr("transition update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return reminder.Reminder{}, storeErr("transition rows", err)
	}
	if n == 0 {
		// Distinguish a lost race from a bad id.
		var cur string
		err := tx.QueryRowContext(ctx, `SELECT status FROM reminders WHERE id = ?`, id).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return reminder.Reminder{}, fmt.Errorf("%w: id %s", reminder.ErrNotFound, id)
		}
		if err != nil {
			return reminder.Reminder{}, storeErr("transition recheck", err)
		}
		return reminder.Reminder{}, fmt.Errorf("%w: id %s is %s, expected %s", reminder.ErrConflict, id, cur, from)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transitions(reminder_id, from_status, to_status, actor, at, note) VALUES(?,?,?,?,?,'')`,
		id, string(from), string(to), up.Actor, ms(up.Now)); err != nil {
		return reminder.Reminder{}, storeErr("transition audit", err)
	}

	row := tx.QueryRowContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if err != nil {
		return reminder.Reminder{}, storeErr("transition readback", err)
	}
	if err := tx.Commit(); err != nil {
		return reminder.Reminder{}, storeErr("transition commit", err)
	}
	return r, nil
}

func (s *sqliteStore) UpdatePending(ctx context.Context, id string, patch Patch, now time.Time) (reminder.Reminder, error) {
	sets := []string{"updated_at = ?"}
	args := []any{ms(now)}
	if patch.ScheduledAt != nil {
		sets = append(sets, "scheduled_at = ?")
		args = append(args, ms(*patch.ScheduledAt))
	}
	if patch.Frequency != nil {
		sets = append(sets, "frequency = ?")
		args = append(args, patch.Frequency.String())
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*patch.Priority))
	}
	if patch.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *patch.Notes)
	}
	if patch.Client != nil {
		sets = append(sets, "client_name = ?", "client_email = ?", "client_phone = ?")
		args = append(args, patch.Client.Name, patch.Client.Email, patch.Client.Phone)
	}
	args = append(args, id, string(reminder.StatusPending))

	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return reminder.Reminder{}, storeErr("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return reminder.Reminder{}, storeErr("update rows", err)
	}
	if n == 0 {
		var cur string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM reminders WHERE id = ?`, id).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return reminder.Reminder{}, fmt.Errorf("%w: id %s", reminder.ErrNotFound, id)
		}
		if err != nil {
			return reminder.Reminder{}, storeErr("update recheck", err)
		}
		return reminder.Reminder{}, fmt.Errorf("%w: id %s is %s, expected pending", reminder.ErrConflict, id, cur)
	}
	return s.Get(ctx, id)
}

func (s *sqliteStore) ListDue(ctx context.Context, now time.Time, limit int) ([]reminder.Reminder, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders
		 WHERE status = ? AND scheduled_at <= ?
		 ORDER BY scheduled_at ASC, id ASC
		 LIMIT ?`,
		string(reminder.StatusPending), ms(now), limit)
	if err != nil {
		return nil, storeErr("list due", err)
	}
	return collect(rows)
}

func (s *sqliteStore) ListSentBefore(ctx context.Context, cutoff time.Time) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders
		 WHERE status = ? AND sent_at IS NOT NULL AND sent_at <= ?
		 ORDER BY scheduled_at ASC, id ASC`,
		string(reminder.StatusSent), ms(cutoff))
	if err != nil {
		return nil, storeErr("list sent", err)
	}
	return collect(rows)
}

func (s *sqliteStore) List(ctx context.Context, f Filter, p Page) (ListResult, error) {
	where, args := buildFilter(f)
	p = p.clamp()

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reminders`+where, args...).Scan(&total); err != nil {
		return ListResult{}, storeErr("list count", err)
	}

	qargs := append(append([]any(nil), args...), p.Limit, p.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders`+where+`
		 ORDER BY scheduled_at ASC, id ASC LIMIT ? OFFSET ?`, qargs...)
	if err != nil {
		return ListResult{}, storeErr("list", err)
	}
	items, err := collect(rows)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

func (s *sqliteStore) ListByEntity(ctx context.Context, entityID string) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders
		 WHERE entity_id = ? ORDER BY created_at ASC, id ASC`, entityID)
	if err != nil {
		return nil, storeErr("list entity", err)
	}
	return collect(rows)
}

func (s *sqliteStore) CountByStatus(ctx context.Context, f Filter) (map[reminder.Status]int, error) {
	where, args := buildFilter(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM reminders`+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, storeErr("count", err)
	}
	defer rows.Close()

	out := make(map[reminder.Status]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, storeErr("count scan", err)
		}
		out[reminder.Status(st)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("count rows", err)
	}
	return out, nil
}

// AwaitingResponse finds entities whose newest chain has been reminded at
// least threshold times without any completion in that chain.
func (s *sqliteStore) AwaitingResponse(ctx context.Context, threshold int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH ranked AS (
			SELECT entity_id, chain_id,
			       ROW_NUMBER() OVER (PARTITION BY entity_id ORDER BY created_at DESC, id DESC) AS rn
			FROM reminders
		),
		latest AS (
			SELECT entity_id, chain_id FROM ranked WHERE rn = 1
		)
		SELECT l.entity_id FROM latest l
		WHERE (SELECT MAX(c.sent_count) FROM reminders c WHERE c.chain_id = l.chain_id) >= ?
		  AND NOT EXISTS (
			SELECT 1 FROM reminders c2 WHERE c2.chain_id = l.chain_id AND c2.status = ?
		  )
		ORDER BY l.entity_id ASC`,
		threshold, string(reminder.StatusCompleted))
	if err != nil {
		return nil, storeErr("awaiting", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("awaiting scan", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("awaiting rows", err)
	}
	return out, nil
}

func (s *sqliteStore) ChainState(ctx context.Context, entityID string) (ChainState, bool, error) {
	var chainID string
	err := s.db.QueryRowContext(ctx,
		`SELECT chain_id FROM reminders WHERE entity_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, entityID).Scan(&chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return ChainState{}, false, nil
	}
	if err != nil {
		return ChainState{}, false, storeErr("chain head", err)
	}

	var maxSent int
	var completed int
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sent_count), 0),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		 FROM reminders WHERE chain_id = ?`,
		string(reminder.StatusCompleted), chainID).Scan(&maxSent, &completed)
	if err != nil {
		return ChainState{}, false, storeErr("chain rollup", err)
	}
	return ChainState{ChainID: chainID, SentCount: maxSent, Completed: completed > 0}, true, nil
}

func (s *sqliteStore) RecordDeliveryFailure(ctx context.Context, reminderID string, at time.Time, detail string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM reminders WHERE id = ?`, reminderID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id %s", reminder.ErrNotFound, reminderID)
	}
	if err != nil {
		return storeErr("delivery failure lookup", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions(reminder_id, from_status, to_status, actor, at, note) VALUES(?,?,?,?,?,?)`,
		reminderID, status, status, transportActor, ms(at), detail); err != nil {
		return storeErr("delivery failure audit", err)
	}
	return nil
}

func (s *sqliteStore) History(ctx context.Context, reminderID string) ([]TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reminder_id, from_status, to_status, actor, at, note
		 FROM transitions WHERE reminder_id = ? ORDER BY seq ASC`, reminderID)
	if err != nil {
		return nil, storeErr("history", err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var tr TransitionRecord
		var from, to string
		var at int64
		if err := rows.Scan(&tr.ReminderID, &from, &to, &tr.Actor, &at, &tr.Note); err != nil {
			return nil, storeErr("history scan", err)
		}
		tr.From = reminder.Status(from)
		tr.To = reminder.Status(to)
		tr.At = time.UnixMilli(at).UTC()
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("history rows", err)
	}
	return out, nil
}

// ---- helpers ----

func buildFilter(f Filter) (string, []any) {
	var conds []string
	var args []any
	if f.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ",")+")")
	}
	if !f.From.IsZero() {
		conds = append(conds, "scheduled_at >= ?")
		args = append(args, ms(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "scheduled_at <= ?")
		args = append(args, ms(f.To))
	}
	if f.ClientName != "" {
		conds = append(conds, "client_name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(f.ClientName)+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (reminder.Reminder, error) {
	var (
		r          reminder.Reminder
		status     string
		freq       string
		prio       string
		schedMS    int64
		sentMS     sql.NullInt64
		createdMS  int64
		updatedMS  int64
	)
	err := row.Scan(&r.ID, &r.EntityID, &r.ChainID, &schedMS, &status, &freq, &prio, &r.Notes,
		&r.SentCount, &sentMS, &createdMS, &updatedMS,
		&r.Client.Name, &r.Client.Email, &r.Client.Phone)
	if err != nil {
		return reminder.Reminder{}, err
	}
	r.Status = reminder.Status(status)
	f, err := reminder.ParseFrequency(freq)
	if err != nil {
		return reminder.Reminder{}, fmt.Errorf("corrupt frequency %q: %w", freq, err)
	}
	r.Frequency = f
	r.Priority = reminder.Priority(prio)
	r.ScheduledAt = time.UnixMilli(schedMS).UTC()
	if sentMS.Valid {
		r.SentAt = time.UnixMilli(sentMS.Int64).UTC()
	}
	r.CreatedAt = time.UnixMilli(createdMS).UTC()
	r.UpdatedAt = time.UnixMilli(updatedMS).UTC()
	return r, nil
}

func collect(rows *sql.Rows) ([]reminder.Reminder, error) {
	defer rows.Close()
	var out []reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, storeErr("scan", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("rows", err)
	}
	return out, nil
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func nullMS(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", reminder.ErrStore, op, err)
}
