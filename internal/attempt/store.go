package attempt

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateInProgress is the storage-level conflict signal: another
// in_progress attempt already exists for the same (user, exam). The
// service resolves it by returning the winner's record.
var ErrDuplicateInProgress = errors.New("in-progress attempt already exists")

type ListOpts struct {
	ExamID string
	UserID string
	Status string
	Limit  int
	Offset int
}

// Store persists attempts, answers, and stats snapshots. Implementations
// must enforce at most one in_progress attempt per (user, exam), reject
// answer writes once an attempt leaves in_progress, and make the
// in_progress -> submitted transition a compare-and-set.
type Store interface {
	// CreateAttempt inserts a new in_progress attempt. Returns
	// ErrDuplicateInProgress when the uniqueness guard fires.
	CreateAttempt(ctx context.Context, a Attempt) error
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	// FindInProgress returns errs.ErrNotFound when the user has no open
	// attempt for the exam.
	FindInProgress(ctx context.Context, userID, examID string) (Attempt, error)
	CountAttempts(ctx context.Context, userID, examID string) (int, error)
	ListAttempts(ctx context.Context, opts ListOpts) ([]Attempt, error)
	// ListFinalized returns the exam's submitted and graded attempts.
	ListFinalized(ctx context.Context, examID string) ([]Attempt, error)

	// MarkSubmitted transitions in_progress -> submitted atomically.
	// ok=false means the attempt was not in_progress (or missing).
	MarkSubmitted(ctx context.Context, id string, submittedAt time.Time, timeSpentSeconds int64) (ok bool, err error)
	SetScore(ctx context.Context, id string, score float64) error
	// MarkGraded transitions submitted -> graded atomically.
	MarkGraded(ctx context.Context, id string, score float64) (ok bool, err error)

	// UpsertAnswer writes the (attempt, question) record, overwriting
	// any prior value, but only while the attempt is in_progress;
	// otherwise errs.ErrInvalidState.
	UpsertAnswer(ctx context.Context, ans Answer) error
	GetAnswers(ctx context.Context, attemptID string) ([]Answer, error)

	UpsertStats(ctx context.Context, s Stats) error
	GetStats(ctx context.Context, examID string) (Stats, error)
}
