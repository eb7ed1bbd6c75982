package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opencampus/examcore/internal/errs"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) PutExam(ctx context.Context, e Exam) error {
	qj, err := json.Marshal(e.Questions)
	if err != nil {
		return err
	}
	var passing sql.NullFloat64
	if e.PassingScore != nil {
		passing = sql.NullFloat64{Float64: *e.PassingScore, Valid: true}
	}
	var limitMin sql.NullInt64
	if e.TimeLimitMinutes != nil {
		limitMin = sql.NullInt64{Int64: int64(*e.TimeLimitMinutes), Valid: true}
	}
	var start, end sql.NullInt64
	if e.StartTime != nil {
		start = sql.NullInt64{Int64: e.StartTime.Unix(), Valid: true}
	}
	if e.EndTime != nil {
		end = sql.NullInt64{Int64: e.EndTime.Unix(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO exams
		(id,title,status,creator_id,total_points,passing_score,max_attempts,time_limit_minutes,start_time,end_time,questions_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
		  title=EXCLUDED.title, status=EXCLUDED.status, total_points=EXCLUDED.total_points,
		  passing_score=EXCLUDED.passing_score, max_attempts=EXCLUDED.max_attempts,
		  time_limit_minutes=EXCLUDED.time_limit_minutes, start_time=EXCLUDED.start_time,
		  end_time=EXCLUDED.end_time, questions_json=EXCLUDED.questions_json`,
		e.ID, e.Title, string(e.Status), e.CreatorID, e.TotalPoints, passing, e.MaxAttempts,
		limitMin, start, end, string(qj), time.Now().Unix())
	return err
}

func (s *SQLStore) PutQuestion(ctx context.Context, q Question) error {
	oj, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO questions (id,type,prompt,points,options_json,rubric)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
		  type=EXCLUDED.type, prompt=EXCLUDED.prompt, points=EXCLUDED.points,
		  options_json=EXCLUDED.options_json, rubric=EXCLUDED.rubric`,
		q.ID, string(q.Type), q.Prompt, q.Points, string(oj), q.Rubric)
	return err
}

func (s *SQLStore) GetExam(ctx context.Context, id string) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,title,status,creator_id,total_points,passing_score,
		max_attempts,time_limit_minutes,start_time,end_time,questions_json,created_at
		FROM exams WHERE id=$1`, id)
	var (
		e       Exam
		status  string
		passing sql.NullFloat64
		limMin  sql.NullInt64
		start   sql.NullInt64
		end     sql.NullInt64
		qjson   string
	)
	err := row.Scan(&e.ID, &e.Title, &status, &e.CreatorID, &e.TotalPoints, &passing,
		&e.MaxAttempts, &limMin, &start, &end, &qjson, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, fmt.Errorf("exam %q: %w", id, errs.ErrNotFound)
		}
		return Exam{}, err
	}
	e.Status = ExamStatus(status)
	if passing.Valid {
		v := passing.Float64
		e.PassingScore = &v
	}
	if limMin.Valid {
		v := int(limMin.Int64)
		e.TimeLimitMinutes = &v
	}
	if start.Valid {
		t := time.Unix(start.Int64, 0)
		e.StartTime = &t
	}
	if end.Valid {
		t := time.Unix(end.Int64, 0)
		e.EndTime = &t
	}
	if err := json.Unmarshal([]byte(qjson), &e.Questions); err != nil {
		return Exam{}, fmt.Errorf("exam %q questions: %w", id, err)
	}
	return e, nil
}

func (s *SQLStore) GetQuestion(ctx context.Context, id string) (Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,type,prompt,points,options_json,rubric FROM questions WHERE id=$1`, id)
	var (
		q     Question
		typ   string
		ojson string
	)
	if err := row.Scan(&q.ID, &typ, &q.Prompt, &q.Points, &ojson, &q.Rubric); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Question{}, fmt.Errorf("question %q: %w", id, errs.ErrNotFound)
		}
		return Question{}, err
	}
	q.Type = QuestionType(typ)
	if err := json.Unmarshal([]byte(ojson), &q.Options); err != nil {
		return Question{}, fmt.Errorf("question %q options: %w", id, err)
	}
	return q, nil
}
