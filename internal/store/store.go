// Package store persists tasks, rubrics, users, and gate-approved
// submissions. Nested submission documents (candidate responses, rubric
// evaluations) are stored as JSON columns.
package store

import (
	"context"
	"errors"

	"github.com/rubricgate/rubricgate/internal/schema"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when a uniqueness constraint is violated
// (username or wallet address already registered).
var ErrDuplicate = errors.New("store: duplicate")

// Store is the persistence boundary consumed by the server. Submissions
// reach Insert only after the gate approves them.
type Store interface {
	CreateTask(ctx context.Context, t *schema.Task) error
	GetTask(ctx context.Context, id string) (*schema.Task, error)
	ListTasks(ctx context.Context, activeOnly bool) ([]schema.Task, error)
	UpdateTask(ctx context.Context, t *schema.Task) error
	DeleteTask(ctx context.Context, id string) error

	CreateRubric(ctx context.Context, r *schema.Rubric) error
	ListRubrics(ctx context.Context, taskID string) ([]schema.Rubric, error)
	GetRubricsByIDs(ctx context.Context, ids []string) ([]schema.Rubric, error)
	SearchRubrics(ctx context.Context, query string) ([]schema.Rubric, error)

	RegisterUser(ctx context.Context, u *schema.User) error
	GetUserByUsername(ctx context.Context, username string) (*schema.User, error)
	AddPoints(ctx context.Context, userID string, points int) error
	// Rank returns the user's 1-based leaderboard position: users with more
	// points, or equal points and an earlier registration, rank ahead.
	Rank(ctx context.Context, userID string) (int, error)

	InsertSubmission(ctx context.Context, s *schema.Submission) error
	GetSubmission(ctx context.Context, id string) (*schema.Submission, error)
	ListSubmissions(ctx context.Context, limit, offset int) ([]schema.Submission, error)

	Leaderboard(ctx context.Context, limit int) ([]schema.LeaderboardEntry, error)

	Close() error
}
