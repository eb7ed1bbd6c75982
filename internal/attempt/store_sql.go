package attempt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/opencampus/examcore/internal/errs"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) CreateAttempt(ctx context.Context, a Attempt) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO attempts
		(id,exam_id,user_id,status,total_points,started_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.ExamID, a.UserID, string(a.Status), a.TotalPoints, a.StartedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateInProgress
		}
		return err
	}
	return nil
}

const attemptCols = `id,exam_id,user_id,status,total_points,score,started_at,submitted_at,time_spent_seconds`

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts WHERE id=$1`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, fmt.Errorf("attempt %q: %w", id, errs.ErrNotFound)
	}
	return a, err
}

func (s *SQLStore) FindInProgress(ctx context.Context, userID, examID string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts
		WHERE user_id=$1 AND exam_id=$2 AND status='in_progress'`, userID, examID)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, fmt.Errorf("open attempt for user %q exam %q: %w", userID, examID, errs.ErrNotFound)
	}
	return a, err
}

func (s *SQLStore) CountAttempts(ctx context.Context, userID, examID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE user_id=$1 AND exam_id=$2`, userID, examID).Scan(&n)
	return n, err
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts ListOpts) ([]Attempt, error) {
	q := `SELECT ` + attemptCols + ` FROM attempts WHERE 1=1`
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		q += fmt.Sprintf(" AND %s=$%d", cond, len(args))
	}
	if opts.ExamID != "" {
		add("exam_id", opts.ExamID)
	}
	if opts.UserID != "" {
		add("user_id", opts.UserID)
	}
	if opts.Status != "" {
		add("status", opts.Status)
	}
	q += " ORDER BY started_at DESC"
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	q += fmt.Sprintf(" LIMIT $%d", len(args))
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return s.queryAttempts(ctx, q, args...)
}

func (s *SQLStore) ListFinalized(ctx context.Context, examID string) ([]Attempt, error) {
	return s.queryAttempts(ctx, `SELECT `+attemptCols+` FROM attempts
		WHERE exam_id=$1 AND status IN ('submitted','graded')`, examID)
}

func (s *SQLStore) MarkSubmitted(ctx context.Context, id string, submittedAt time.Time, timeSpentSeconds int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE attempts
		SET status='submitted', submitted_at=$2, time_spent_seconds=$3
		WHERE id=$1 AND status='in_progress'`,
		id, submittedAt.Unix(), timeSpentSeconds)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *SQLStore) SetScore(ctx context.Context, id string, score float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE attempts SET score=$2 WHERE id=$1`, id, score)
	return err
}

func (s *SQLStore) MarkGraded(ctx context.Context, id string, score float64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE attempts
		SET status='graded', score=$2
		WHERE id=$1 AND status='submitted'`, id, score)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UpsertAnswer inserts only while the owning attempt is in_progress;
// the status guard and the per-key overwrite happen in one statement,
// so a concurrent finish cannot let a late answer slip in.
func (s *SQLStore) UpsertAnswer(ctx context.Context, ans Answer) error {
	var correct sql.NullBool
	if ans.Correct != nil {
		correct = sql.NullBool{Bool: *ans.Correct, Valid: true}
	}
	var spent sql.NullInt64
	if ans.TimeSpentSeconds != nil {
		spent = sql.NullInt64{Int64: *ans.TimeSpentSeconds, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO attempt_answers
		(attempt_id,question_id,content_json,is_correct,score,needs_review,note,time_spent_seconds,submitted_at)
		SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9
		WHERE EXISTS (SELECT 1 FROM attempts WHERE id=$1 AND status='in_progress')
		ON CONFLICT (attempt_id,question_id) DO UPDATE SET
		  content_json=EXCLUDED.content_json, is_correct=EXCLUDED.is_correct,
		  score=EXCLUDED.score, needs_review=EXCLUDED.needs_review, note=EXCLUDED.note,
		  time_spent_seconds=EXCLUDED.time_spent_seconds, submitted_at=EXCLUDED.submitted_at`,
		ans.AttemptID, ans.QuestionID, string(ans.Content), correct, ans.Score,
		ans.NeedsReview, ans.Note, spent, ans.SubmittedAt.Unix())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM attempts WHERE id=$1`, ans.AttemptID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("attempt %q: %w", ans.AttemptID, errs.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("attempt %q is %s: %w", ans.AttemptID, status, errs.ErrInvalidState)
	}
	return nil
}

func (s *SQLStore) GetAnswers(ctx context.Context, attemptID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT attempt_id,question_id,content_json,is_correct,
		score,needs_review,note,time_spent_seconds,submitted_at
		FROM attempt_answers WHERE attempt_id=$1 ORDER BY question_id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Answer
	for rows.Next() {
		var (
			a       Answer
			content string
			correct sql.NullBool
			spent   sql.NullInt64
			subAt   int64
		)
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &content, &correct,
			&a.Score, &a.NeedsReview, &a.Note, &spent, &subAt); err != nil {
			return nil, err
		}
		a.Content = []byte(content)
		if correct.Valid {
			v := correct.Bool
			a.Correct = &v
		}
		if spent.Valid {
			v := spent.Int64
			a.TimeSpentSeconds = &v
		}
		a.SubmittedAt = time.Unix(subAt, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertStats(ctx context.Context, st Stats) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO exam_stats
		(exam_id,total_attempts,avg_score,max_score,min_score,pass_rate,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (exam_id) DO UPDATE SET
		  total_attempts=EXCLUDED.total_attempts, avg_score=EXCLUDED.avg_score,
		  max_score=EXCLUDED.max_score, min_score=EXCLUDED.min_score,
		  pass_rate=EXCLUDED.pass_rate, updated_at=EXCLUDED.updated_at`,
		st.ExamID, st.TotalAttempts, st.AvgScore, st.MaxScore, st.MinScore,
		st.PassRate, st.UpdatedAt.Unix())
	return err
}

func (s *SQLStore) GetStats(ctx context.Context, examID string) (Stats, error) {
	row := s.db.QueryRowContext(ctx, `SELECT exam_id,total_attempts,avg_score,max_score,
		min_score,pass_rate,updated_at FROM exam_stats WHERE exam_id=$1`, examID)
	var (
		st    Stats
		updAt int64
	)
	err := row.Scan(&st.ExamID, &st.TotalAttempts, &st.AvgScore, &st.MaxScore,
		&st.MinScore, &st.PassRate, &updAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{}, fmt.Errorf("stats for exam %q: %w", examID, errs.ErrNotFound)
	}
	if err != nil {
		return Stats{}, err
	}
	st.UpdatedAt = time.Unix(updAt, 0)
	return st, nil
}

func (s *SQLStore) queryAttempts(ctx context.Context, q string, args ...any) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (Attempt, error) {
	var (
		a      Attempt
		status string
		score  sql.NullFloat64
		start  int64
		subAt  sql.NullInt64
		spent  sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.ExamID, &a.UserID, &status, &a.TotalPoints,
		&score, &start, &subAt, &spent)
	if err != nil {
		return Attempt{}, err
	}
	a.Status = Status(status)
	if score.Valid {
		v := score.Float64
		a.Score = &v
	}
	a.StartedAt = time.Unix(start, 0)
	if subAt.Valid {
		t := time.Unix(subAt.Int64, 0)
		a.SubmittedAt = &t
	}
	if spent.Valid {
		v := spent.Int64
		a.TimeSpentSeconds = &v
	}
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// modernc sqlite: SQLITE_CONSTRAINT_UNIQUE (2067)
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "2067")
}
