package attempt

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opencampus/examcore/internal/catalog"
	"github.com/opencampus/examcore/internal/db"
	"github.com/opencampus/examcore/internal/errs"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	// attempts carries a foreign key to exams
	err = catalog.NewSQLStore(conn).PutExam(context.Background(), catalog.Exam{
		ID: "exam-1", Title: "Midterm", Status: catalog.ExamActive, TotalPoints: 100,
	})
	if err != nil {
		t.Fatalf("seed exam: %v", err)
	}
	return NewSQLStore(conn)
}

func mkAttempt(id, user string) Attempt {
	return Attempt{
		ID: id, ExamID: "exam-1", UserID: user,
		Status: StatusInProgress, TotalPoints: 100,
		StartedAt: time.Unix(1700000000, 0),
	}
}

func TestSQLCreateAttemptUniqueInProgress(t *testing.T) {
	st := newSQLStore(t)
	ctx := context.Background()

	if err := st.CreateAttempt(ctx, mkAttempt("att-1", "u1")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := st.CreateAttempt(ctx, mkAttempt("att-2", "u1"))
	if !errors.Is(err, ErrDuplicateInProgress) {
		t.Fatalf("second open attempt err = %v, want ErrDuplicateInProgress", err)
	}
	// a different user is unconstrained
	if err := st.CreateAttempt(ctx, mkAttempt("att-3", "u2")); err != nil {
		t.Fatalf("other user: %v", err)
	}

	// closing the first frees the slot
	if ok, err := st.MarkSubmitted(ctx, "att-1", time.Unix(1700000100, 0), 100); err != nil || !ok {
		t.Fatalf("MarkSubmitted = %v, %v", ok, err)
	}
	if err := st.CreateAttempt(ctx, mkAttempt("att-4", "u1")); err != nil {
		t.Fatalf("create after close: %v", err)
	}
}

func TestSQLMarkSubmittedOnce(t *testing.T) {
	st := newSQLStore(t)
	ctx := context.Background()
	if err := st.CreateAttempt(ctx, mkAttempt("att-1", "u1")); err != nil {
		t.Fatal(err)
	}

	first := time.Unix(1700000100, 0)
	ok, err := st.MarkSubmitted(ctx, "att-1", first, 100)
	if err != nil || !ok {
		t.Fatalf("first MarkSubmitted = %v, %v", ok, err)
	}
	ok, err = st.MarkSubmitted(ctx, "att-1", time.Unix(1700009999, 0), 9999)
	if err != nil {
		t.Fatalf("second MarkSubmitted: %v", err)
	}
	if ok {
		t.Fatal("second MarkSubmitted reported success")
	}

	a, err := st.GetAttempt(ctx, "att-1")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != StatusSubmitted || !a.SubmittedAt.Equal(first) || *a.TimeSpentSeconds != 100 {
		t.Errorf("attempt after losing CAS = %+v, want first submit preserved", a)
	}
}

func TestSQLUpsertAnswerOverwriteAndGuard(t *testing.T) {
	st := newSQLStore(t)
	ctx := context.Background()
	if err := st.CreateAttempt(ctx, mkAttempt("att-1", "u1")); err != nil {
		t.Fatal(err)
	}

	ans := Answer{
		AttemptID: "att-1", QuestionID: "q1",
		Content: []byte(`"A"`), Score: 0,
		SubmittedAt: time.Unix(1700000050, 0),
	}
	if err := st.UpsertAnswer(ctx, ans); err != nil {
		t.Fatalf("insert: %v", err)
	}

	yes := true
	ans.Content = []byte(`"B"`)
	ans.Correct = &yes
	ans.Score = 4
	if err := st.UpsertAnswer(ctx, ans); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	answers, err := st.GetAnswers(ctx, "att-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(answers))
	}
	got := answers[0]
	if string(got.Content) != `"B"` || got.Score != 4 || got.Correct == nil || !*got.Correct {
		t.Errorf("stored answer = %+v, want the overwrite", got)
	}

	if _, err := st.MarkSubmitted(ctx, "att-1", time.Unix(1700000100, 0), 50); err != nil {
		t.Fatal(err)
	}
	err = st.UpsertAnswer(ctx, ans)
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("write after submit err = %v, want ErrInvalidState", err)
	}

	ans.AttemptID = "ghost"
	err = st.UpsertAnswer(ctx, ans)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("write to missing attempt err = %v, want ErrNotFound", err)
	}
}

func TestSQLMarkGradedFromSubmittedOnly(t *testing.T) {
	st := newSQLStore(t)
	ctx := context.Background()
	if err := st.CreateAttempt(ctx, mkAttempt("att-1", "u1")); err != nil {
		t.Fatal(err)
	}

	ok, err := st.MarkGraded(ctx, "att-1", 80)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("graded an in_progress attempt")
	}

	if _, err := st.MarkSubmitted(ctx, "att-1", time.Unix(1700000100, 0), 100); err != nil {
		t.Fatal(err)
	}
	ok, err = st.MarkGraded(ctx, "att-1", 80)
	if err != nil || !ok {
		t.Fatalf("MarkGraded = %v, %v", ok, err)
	}
	a, _ := st.GetAttempt(ctx, "att-1")
	if a.Status != StatusGraded || a.Score == nil || *a.Score != 80 {
		t.Errorf("attempt = %+v, want graded with score 80", a)
	}
}

func TestSQLListAttemptsFilters(t *testing.T) {
	st := newSQLStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a := mkAttempt(fmt.Sprintf("att-%d", i), fmt.Sprintf("u%d", i))
		a.StartedAt = time.Unix(1700000000+int64(i), 0)
		if err := st.CreateAttempt(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := st.MarkSubmitted(ctx, "att-0", time.Unix(1700000500, 0), 500); err != nil {
		t.Fatal(err)
	}

	all, err := st.ListAttempts(ctx, ListOpts{ExamID: "exam-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d, want 3", len(all))
	}
	if all[0].ID != "att-2" {
		t.Errorf("order = %s first, want newest first", all[0].ID)
	}

	open, err := st.ListAttempts(ctx, ListOpts{ExamID: "exam-1", Status: "in_progress"})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 {
		t.Errorf("in_progress = %d, want 2", len(open))
	}

	mine, err := st.ListAttempts(ctx, ListOpts{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].UserID != "u1" {
		t.Errorf("user filter = %+v, want only u1", mine)
	}

	paged, err := st.ListAttempts(ctx, ListOpts{ExamID: "exam-1", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(paged) != 1 || paged[0].ID != "att-1" {
		t.Errorf("page = %+v, want att-1", paged)
	}
}

func TestSQLStatsRoundTrip(t *testing.T) {
	st := newSQLStore(t)
	ctx := context.Background()

	_, err := st.GetStats(ctx, "exam-1")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("missing stats err = %v, want ErrNotFound", err)
	}

	snap := Stats{
		ExamID: "exam-1", TotalAttempts: 4,
		AvgScore: 75, MaxScore: 90, MinScore: 60, PassRate: 75,
		UpdatedAt: time.Unix(1700000200, 0),
	}
	if err := st.UpsertStats(ctx, snap); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetStats(ctx, "exam-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != snap {
		t.Errorf("stats = %+v, want %+v", got, snap)
	}

	snap.TotalAttempts = 5
	snap.AvgScore = 76
	if err := st.UpsertStats(ctx, snap); err != nil {
		t.Fatal(err)
	}
	got, _ = st.GetStats(ctx, "exam-1")
	if got.TotalAttempts != 5 || got.AvgScore != 76 {
		t.Errorf("stats after overwrite = %+v", got)
	}
}
