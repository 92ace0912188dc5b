package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/rubricgate/rubricgate/internal/schema"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	description   TEXT NOT NULL,
	logo          TEXT NOT NULL DEFAULT '',
	system_prompt TEXT NOT NULL DEFAULT '',
	active        INTEGER NOT NULL DEFAULT 1,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS rubrics (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL,
	task_id     TEXT NOT NULL REFERENCES tasks(id),
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id             TEXT PRIMARY KEY,
	username       TEXT NOT NULL UNIQUE,
	wallet_address TEXT NOT NULL UNIQUE,
	points         INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS submissions (
	id             TEXT PRIMARY KEY,
	task_id        TEXT NOT NULL,
	wallet_address TEXT NOT NULL,
	responses      TEXT NOT NULL,
	evaluations    TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rubrics_task ON rubrics(task_id);
CREATE INDEX IF NOT EXISTS idx_submissions_wallet ON submissions(wallet_address);
`

// SQLite implements Store on an embedded database.
type SQLite struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral database.
func OpenSQLite(path string, log zerolog.Logger) (*SQLite, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLite{db: db, log: log}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func isConstraint(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}

// ── Tasks ──

func (s *SQLite) CreateTask(ctx context.Context, t *schema.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, description, logo, system_prompt, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, t.Logo, t.SystemPrompt, t.Active, t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *SQLite) GetTask(ctx context.Context, id string) (*schema.Task, error) {
	var t schema.Task
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLite) ListTasks(ctx context.Context, activeOnly bool) ([]schema.Task, error) {
	query := `SELECT * FROM tasks ORDER BY created_at DESC`
	if activeOnly {
		query = `SELECT * FROM tasks WHERE active = 1 ORDER BY created_at DESC`
	}
	tasks := []schema.Task{}
	if err := s.db.SelectContext(ctx, &tasks, query); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *SQLite) UpdateTask(ctx context.Context, t *schema.Task) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET name = ?, description = ?, logo = ?, system_prompt = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Description, t.Logo, t.SystemPrompt, t.Active, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLite) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ── Rubrics ──

func (s *SQLite) CreateRubric(ctx context.Context, r *schema.Rubric) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rubrics (id, name, description, task_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Description, r.TaskID, r.CreatedAt, r.UpdatedAt)
	if isConstraint(err) {
		return fmt.Errorf("%w: task %s", ErrNotFound, r.TaskID)
	}
	return err
}

func (s *SQLite) ListRubrics(ctx context.Context, taskID string) ([]schema.Rubric, error) {
	rubrics := []schema.Rubric{}
	var err error
	if taskID == "" {
		err = s.db.SelectContext(ctx, &rubrics, `SELECT * FROM rubrics ORDER BY created_at DESC`)
	} else {
		err = s.db.SelectContext(ctx, &rubrics,
			`SELECT * FROM rubrics WHERE task_id = ? ORDER BY created_at DESC`, taskID)
	}
	if err != nil {
		return nil, err
	}
	return rubrics, nil
}

func (s *SQLite) GetRubricsByIDs(ctx context.Context, ids []string) ([]schema.Rubric, error) {
	if len(ids) == 0 {
		return []schema.Rubric{}, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM rubrics WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	rubrics := []schema.Rubric{}
	if err := s.db.SelectContext(ctx, &rubrics, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return rubrics, nil
}

func (s *SQLite) SearchRubrics(ctx context.Context, query string) ([]schema.Rubric, error) {
	like := "%" + query + "%"
	rubrics := []schema.Rubric{}
	err := s.db.SelectContext(ctx, &rubrics, `
		SELECT * FROM rubrics WHERE name LIKE ? OR description LIKE ?
		ORDER BY created_at DESC`, like, like)
	if err != nil {
		return nil, err
	}
	return rubrics, nil
}

// ── Users ──

func (s *SQLite) RegisterUser(ctx context.Context, u *schema.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, wallet_address, points, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.WalletAddress, u.Points, u.CreatedAt)
	if isConstraint(err) {
		return fmt.Errorf("%w: username or wallet address taken", ErrDuplicate)
	}
	return err
}

func (s *SQLite) GetUserByUsername(ctx context.Context, username string) (*schema.User, error) {
	var u schema.User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE username = ?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLite) AddPoints(ctx context.Context, userID string, points int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET points = points + ? WHERE id = ?`, points, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLite) Rank(ctx context.Context, userID string) (int, error) {
	var rank int
	err := s.db.GetContext(ctx, &rank, `
		SELECT COUNT(*) + 1 FROM users other, users me
		WHERE me.id = ?
		  AND other.id != me.id
		  AND (other.points > me.points
		       OR (other.points = me.points AND other.created_at < me.created_at))`,
		userID)
	if err != nil {
		return 0, err
	}
	return rank, nil
}

// ── Submissions ──

func (s *SQLite) InsertSubmission(ctx context.Context, sub *schema.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.CreatedAt = time.Now().UTC()

	responses, err := json.Marshal(sub.Responses)
	if err != nil {
		return fmt.Errorf("store: marshal responses: %w", err)
	}
	evaluations, err := json.Marshal(sub.Evaluations)
	if err != nil {
		return fmt.Errorf("store: marshal evaluations: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, task_id, wallet_address, responses, evaluations, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.TaskID, sub.WalletAddress, string(responses), string(evaluations), sub.CreatedAt)
	return err
}

// submissionRow is the raw table shape before the JSON columns are decoded.
type submissionRow struct {
	ID            string    `db:"id"`
	TaskID        string    `db:"task_id"`
	WalletAddress string    `db:"wallet_address"`
	Responses     string    `db:"responses"`
	Evaluations   string    `db:"evaluations"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r submissionRow) decode() (schema.Submission, error) {
	sub := schema.Submission{
		ID:            r.ID,
		TaskID:        r.TaskID,
		WalletAddress: r.WalletAddress,
		CreatedAt:     r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.Responses), &sub.Responses); err != nil {
		return sub, fmt.Errorf("store: decode responses for %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Evaluations), &sub.Evaluations); err != nil {
		return sub, fmt.Errorf("store: decode evaluations for %s: %w", r.ID, err)
	}
	return sub, nil
}

func (s *SQLite) GetSubmission(ctx context.Context, id string) (*schema.Submission, error) {
	var row submissionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM submissions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub, err := row.decode()
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *SQLite) ListSubmissions(ctx context.Context, limit, offset int) ([]schema.Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows := []submissionRow{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM submissions ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	subs := make([]schema.Submission, 0, len(rows))
	for _, row := range rows {
		sub, err := row.decode()
		if err != nil {
			// A corrupt document should not hide the rest of the listing.
			s.log.Error().Err(err).Str("submission", row.ID).Msg("skipping undecodable submission")
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// ── Leaderboard ──

func (s *SQLite) Leaderboard(ctx context.Context, limit int) ([]schema.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	entries := []schema.LeaderboardEntry{}
	err := s.db.SelectContext(ctx, &entries, `
		SELECT u.username, u.wallet_address, u.points,
		       (SELECT COUNT(*) FROM submissions s WHERE s.wallet_address = u.wallet_address) AS submissions
		FROM users u
		ORDER BY u.points DESC, u.created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
