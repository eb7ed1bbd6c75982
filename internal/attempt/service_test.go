package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opencampus/examcore/internal/catalog"
	"github.com/opencampus/examcore/internal/errs"
	"github.com/opencampus/examcore/internal/grading"
)

/* ---------------- fixture ---------------- */

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, typ, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, typ+":"+key)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type failingJudge struct{}

func (failingJudge) Judge(context.Context, grading.JudgeRequest) (grading.JudgeVerdict, error) {
	return grading.JudgeVerdict{}, errors.New("judge unreachable")
}

type fixture struct {
	svc   *Service
	store Store
	cat   catalog.Store
	pub   *recordingPublisher
}

func newFixture(t *testing.T, opts ...grading.Option) *fixture {
	t.Helper()
	store := NewInMemoryStore()
	cat := catalog.NewInMemoryStore()
	pub := &recordingPublisher{}
	svc := NewService(store, cat, grading.NewGrader(opts...), pub, nil)
	return &fixture{svc: svc, store: store, cat: cat, pub: pub}
}

func (f *fixture) seedExam(t *testing.T, mutate func(*catalog.Exam)) {
	t.Helper()
	ctx := context.Background()
	single := catalog.Question{
		ID: "q-single", Type: catalog.SingleChoice, Prompt: "2+2?", Points: 4,
		Options: []catalog.Option{
			{ID: "A", Content: "3"},
			{ID: "B", Content: "4", IsCorrect: true},
		},
	}
	multi := catalog.Question{
		ID: "q-multi", Type: catalog.MultipleChoice, Prompt: "evens?", Points: 4,
		Options: []catalog.Option{
			{ID: "A", Content: "2", IsCorrect: true},
			{ID: "B", Content: "3"},
			{ID: "C", Content: "4", IsCorrect: true},
		},
	}
	essay := catalog.Question{
		ID: "q-essay", Type: catalog.Essay, Prompt: "Explain defer.", Rubric: "LIFO order", Points: 10,
	}
	for _, q := range []catalog.Question{single, multi, essay} {
		if err := f.cat.PutQuestion(ctx, q); err != nil {
			t.Fatalf("seed question: %v", err)
		}
	}
	passing := 70.0
	ex := catalog.Exam{
		ID:           "exam-1",
		Title:        "Midterm",
		Status:       catalog.ExamActive,
		TotalPoints:  18,
		PassingScore: &passing,
		MaxAttempts:  3,
		Questions: []catalog.ExamQuestion{
			{QuestionID: "q-single", Points: 4, Order: 1},
			{QuestionID: "q-multi", Points: 4, Order: 2},
			{QuestionID: "q-essay", Points: 10, Order: 3},
		},
	}
	if mutate != nil {
		mutate(&ex)
	}
	if err := f.cat.PutExam(ctx, ex); err != nil {
		t.Fatalf("seed exam: %v", err)
	}
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

/* ---------------- lifecycle ---------------- */

func TestStartConcurrentCallsConvergeOnOneAttempt(t *testing.T) {
	f := newFixture(t)
	f.seedExam(t, nil)
	ctx := context.Background()

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := f.svc.Start(ctx, "exam-1", "student-1")
			if err != nil {
				t.Errorf("Start: %v", err)
				return
			}
			ids[i] = a.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("call %d returned attempt %q, call 0 returned %q", i, ids[i], ids[0])
		}
	}
	count, err := f.store.CountAttempts(ctx, "student-1", "exam-1")
	if err != nil {
		t.Fatalf("CountAttempts: %v", err)
	}
	if count != 1 {
		t.Fatalf("stored attempts = %d, want 1", count)
	}
}

func TestStartResumesOpenAttempt(t *testing.T) {
	f := newFixture(t)
	f.seedExam(t, nil)
	ctx := context.Background()

	first, err := f.svc.Start(ctx, "exam-1", "student-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	second, err := f.svc.Start(ctx, "exam-1", "student-1")
	if err != nil {
		t.Fatalf("resume Start: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("resume created a new attempt: %q vs %q", second.ID, first.ID)
	}
}

func TestStartAttemptCap(t *testing.T) {
	f := newFixture(t)
	f.seedExam(t, func(ex *catalog.Exam) { ex.MaxAttempts = 2 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		a, err := f.svc.Start(ctx, "exam-1", "student-1")
		if err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		if _, err := f.svc.Finish(ctx, a.ID, "student-1"); err != nil {
			t.Fatalf("Finish %d: %v", i, err)
		}
	}
	_, err := f.svc.Start(ctx, "exam-1", "student-1")
	if !errors.Is(err, errs.ErrAttemptLimitExceeded) {
		t.Errorf("err = %v, want ErrAttemptLimitExceeded", err)
	}
}

func TestStartRejectsUnstartableExams(t *testing.T) {
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name   string
		mutate func(*catalog.Exam)
	}{
		{"draft", func(ex *catalog.Exam) { ex.Status = catalog.ExamDraft }},
		{"ended", func(ex *catalog.Exam) { ex.Status = catalog.ExamEnded }},
		{"cancelled", func(ex *catalog.Exam) { ex.Status = catalog.ExamCancelled }},
		{"window not open", func(ex *catalog.Exam) { ex.StartTime = &future }},
		{"window closed", func(ex *catalog.Exam) { ex.EndTime = &past }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedExam(t, tt.mutate)
			_, err := f.svc.Start(ctx, "exam-1", "student-1")
			if !errors.Is(err, errs.ErrInvalidState) {
				t.Errorf("err = %v, want ErrInvalidState", err)
			}
		})
	}
}

func TestStartUnknownExam(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), "nope", "student-1")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

/* ---------------- answer ledger ---------------- */

func TestResubmissionOverwritesSameKey(t *testing.T) {
	f := newFixture(t)
	f.seedExam(t, nil)
	ctx := context.Background()

	a, _ := f.svc.Start(ctx, "exam-1", "student-1")

	first, err := f.svc.SubmitAnswer(ctx, SubmitInput{
		AttemptID: a.ID, UserID: "student-1", QuestionID: "q-single", Content: raw(`"A"`),
	})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first.Score != 0 {
		t.Fatalf("wrong answer scored %v", first.Score)
	}
	second, err := f.svc.SubmitAnswer(ctx, SubmitInput{
		AttemptID: a.ID, UserID: "student-1", QuestionID: "q-single", Content: raw(`"B"`),
	})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.Score != 4 {
		t.Fatalf("corrected answer scored %v, want 4", second.Score)
	}

	answers, _ := f.store.GetAnswers(ctx, a.ID)
	if len(answers) != 1 {
		t.Fatalf("stored answers = %d, want 1", len(answers))
	}
	if string(answers[0].Content) != `"B"` || answers[0].Score != 4 {
		t.Errorf("stored answer = %s score=%v, want latest submission", answers[0].Content, answers[0].Score)
	}
}

func TestSubmitAnswerGuards(t *testing.T) {
	f := newFixture(t)
	f.seedExam(t, nil)
	ctx := context.Background()
	a, _ := f.svc.Start(ctx, "exam-1", "student-1")

	_, err := f.svc.SubmitAnswer(ctx, SubmitInput{AttemptID: "missing", UserID: "student-1", QuestionID: "q-single", Content: raw(`"B"`)})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("missing attempt: err = %v, want ErrNotFound", err)
	}
	_, err = f.svc.SubmitAnswer(ctx, SubmitInput{AttemptID: a.ID, UserID: "intruder", QuestionID: "q-single", Content: raw(`"B"`)})
	if !errors.Is(err, errs.ErrAccessDenied) {
		t.Errorf("foreign attempt: err = %v, want ErrAccessDenied", err)
	}
	_, err = f.svc.SubmitAnswer(ctx, SubmitInput{AttemptID: a.ID, UserID: "student-1", QuestionID: "q-404", Content: raw(`"B"`)})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("missing question: err = %v, want ErrNotFound", err)
	}
	_, err = f.svc.SubmitAnswer(ctx, SubmitInput{AttemptID: a.ID, UserID: "student-1", QuestionID: "q-multi", Content: raw(`"not-an-array"`)})
	if !errors.Is(err, errs.ErrValidation) {
		t.Errorf("wrong shape: err = %v, want ErrValidation", err)
	}
}

func TestBatchSubmitFailsPerItem(t *testing.T) {
	f := newFixture(t)
	f.seedExam(t, nil)
	ctx := context.Background()
	a, _ := f.svc.Start(ctx, "exam-1", "student-1")

	results := f.svc.BatchSubmit(ctx, a.ID, "student-1", []BatchItem{
		{QuestionID: "q-single", Content: raw(`"B"`)},
		{QuestionID: "q-404", Content: raw(`"B"`)},
		{QuestionID: "q-multi", Content: raw(`["A","C"]`)},
	})
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].Err != nil || results[0].Answer == nil || results[0].Answer.Score != 4 {
		t.Errorf("item 0 = %+v, want graded answer", results[0])
	}
	if !errors.Is(results[1].Err, errs.ErrNotFound) {
		t.Errorf("item 1 err = %v, want ErrNotFound", results[1].Err)
	}
	if results[2].Err != nil || results[2].Answer.Score != 4 {
		t.Errorf("item 2 = %+v, want graded answer", results[2])
	}
}

/* ---------------- finalization ---------------- */

func TestFinishSumsScoresAndIsSingleShot(t *testing.T) {
	f := newFixture(t)
	f.seedExam(t, nil)
	ctx := context.Background()

	a, _ := f.svc.Start(ctx, "exam-1", "student-1")
	mustSubmit(t, f.svc, a.ID, "q-single", `"B"`)  // 4
	mustSubmit(t, f.svc, a.ID, "q-multi", `["A"]`) // 2

	done, err := f.svc.Finish(ctx, a.ID, "student-1")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if done.Status != StatusSubmitted {
		t.Errorf("status = %s, want submitted", done.Status)
	}
	if done.Score == nil || *done.Score != 6 {
		t.Errorf("score = %v, want 6", done.Score)
	}
	if done.SubmittedAt == nil || done.TimeSpentSeconds == nil {
		t.Errorf("timing not stamped: %+v", done)
	}

	_, err = f.svc.Finish(ctx, a.ID, "student-1")
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("second Finish err = %v, want ErrInvalidState", err)
	}
	again, _ := f.store.GetAttempt(ctx, a.ID)
	if *again.Score != 6 || !again.SubmittedAt.Equal(*done.SubmittedAt) {
		t.Errorf("second Finish mutated the attempt: %+v", again)
	}
}

func TestAnswerAfterFinishRejected(t *testing.T) {
	f := newFixture(t)
	f.seedExam(t, nil)
	ctx := context.Background()

	a, _ := f.svc.Start(ctx, "exam-1", "student-1")
	if _, err := f.svc.Finish(ctx, a.ID, "student-1"); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	_, err := f.svc.SubmitAnswer(ctx, SubmitInput{
		AttemptID: a.ID, UserID: "student-1", QuestionID: "q-single", Content: raw(`"B"`),
	})
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestFinishAccessDenied(t *testing.T) {
	f := newFixture(t)
	f.seedExam(t, nil)
	ctx := context.Background()
	a, _ := f.svc.Start(ctx, "exam-1", "student-1")
	_, err := f.svc.Finish(ctx, a.ID, "intruder")
	if !errors.Is(err, errs.ErrAccessDenied) {
		t.Errorf("err = %v, want ErrAccessDenied", err)
	}
}

func TestFinishPublishesEvent(t *testing.T) {
	f := newFixture(t)
	f.seedExam(t, nil)
	ctx := context.Background()
	a, _ := f.svc.Start(ctx, "exam-1", "student-1")
	if _, err := f.svc.Finish(ctx, a.ID, "student-1"); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	want := "attempt.finished:" + a.ID
	for _, e := range f.pub.types() {
		if e == want {
			return
		}
	}
	t.Errorf("events %v missing %q", f.pub.types(), want)
}

func TestEssayJudgeFailureStillFinalizes(t *testing.T) {
	f := newFixture(t, grading.WithJudge(failingJudge{}))
	f.seedExam(t, nil)
	ctx := context.Background()

	a, _ := f.svc.Start(ctx, "exam-1", "student-1")
	ans, err := f.svc.SubmitAnswer(ctx, SubmitInput{
		AttemptID: a.ID, UserID: "student-1", QuestionID: "q-essay", Content: raw(`"my essay"`),
	})
	if err != nil {
		t.Fatalf("essay submit must not fail on judge error: %v", err)
	}
	if ans.Correct != nil || ans.Score != 0 || !ans.NeedsReview {
		t.Errorf("answer = %+v, want pending review with zero score", ans)
	}
	mustSubmit(t, f.svc, a.ID, "q-single", `"B"`)

	done, err := f.svc.Finish(ctx, a.ID, "student-1")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if done.Score == nil || *done.Score != 4 {
		t.Errorf("score = %v, want 4 (essay pending counts 0)", done.Score)
	}
}

func TestMarkGradedClosesOutReview(t *testing.T) {
	f := newFixture(t, grading.WithJudge(failingJudge{}))
	f.seedExam(t, nil)
	ctx := context.Background()

	a, _ := f.svc.Start(ctx, "exam-1", "student-1")
	mustSubmit(t, f.svc, a.ID, "q-essay", `"my essay"`)

	// graded only from submitted
	if _, err := f.svc.MarkGraded(ctx, a.ID); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("MarkGraded on in_progress err = %v, want ErrInvalidState", err)
	}
	if _, err := f.svc.Finish(ctx, a.ID, "student-1"); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	graded, err := f.svc.MarkGraded(ctx, a.ID)
	if err != nil {
		t.Fatalf("MarkGraded: %v", err)
	}
	if graded.Status != StatusGraded {
		t.Errorf("status = %s, want graded", graded.Status)
	}
	if _, err := f.svc.MarkGraded(ctx, a.ID); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("second MarkGraded err = %v, want ErrInvalidState", err)
	}
}

/* ---------------- stats ---------------- */

func TestStatsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.seedExam(t, nil)
	ctx := context.Background()

	for i, score := range []float64{60, 70, 80, 90} {
		user := fmt.Sprintf("student-%d", i)
		a := Attempt{
			ID: fmt.Sprintf("att-%d", i), ExamID: "exam-1", UserID: user,
			Status: StatusInProgress, TotalPoints: 100, StartedAt: time.Now(),
		}
		if err := f.store.CreateAttempt(ctx, a); err != nil {
			t.Fatalf("seed attempt: %v", err)
		}
		if _, err := f.store.MarkSubmitted(ctx, a.ID, time.Now(), 60); err != nil {
			t.Fatalf("seed submit: %v", err)
		}
		if err := f.store.SetScore(ctx, a.ID, score); err != nil {
			t.Fatalf("seed score: %v", err)
		}
	}

	st, err := f.svc.RecomputeStats(ctx, "exam-1")
	if err != nil {
		t.Fatalf("RecomputeStats: %v", err)
	}
	if st.TotalAttempts != 4 {
		t.Errorf("total = %d, want 4", st.TotalAttempts)
	}
	if st.AvgScore != 75 || st.MaxScore != 90 || st.MinScore != 60 {
		t.Errorf("avg/max/min = %v/%v/%v, want 75/90/60", st.AvgScore, st.MaxScore, st.MinScore)
	}
	if st.PassRate != 75 { // 3 of 4 at passing score 70
		t.Errorf("pass rate = %v, want 75", st.PassRate)
	}

	stored, err := f.svc.GetStats(ctx, "exam-1")
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stored != st {
		t.Errorf("snapshot not persisted: %+v vs %+v", stored, st)
	}
}

func TestStatsZeroedWhenNoFinalizedAttempts(t *testing.T) {
	f := newFixture(t)
	f.seedExam(t, nil)
	st, err := f.svc.RecomputeStats(context.Background(), "exam-1")
	if err != nil {
		t.Fatalf("RecomputeStats: %v", err)
	}
	if st.TotalAttempts != 0 || st.AvgScore != 0 || st.MaxScore != 0 || st.MinScore != 0 || st.PassRate != 0 {
		t.Errorf("snapshot = %+v, want zeroed", st)
	}
}

func TestStatsNoPassingScoreConfigured(t *testing.T) {
	f := newFixture(t)
	f.seedExam(t, func(ex *catalog.Exam) { ex.PassingScore = nil })
	ctx := context.Background()

	a := Attempt{ID: "att-1", ExamID: "exam-1", UserID: "s1", Status: StatusInProgress, StartedAt: time.Now()}
	_ = f.store.CreateAttempt(ctx, a)
	_, _ = f.store.MarkSubmitted(ctx, a.ID, time.Now(), 10)
	_ = f.store.SetScore(ctx, a.ID, 90)

	st, err := f.svc.RecomputeStats(ctx, "exam-1")
	if err != nil {
		t.Fatalf("RecomputeStats: %v", err)
	}
	if st.PassRate != 0 {
		t.Errorf("pass rate = %v, want 0 without a passing score", st.PassRate)
	}
}

/* ---------------- results ---------------- */

func TestGetResultOwnershipAndViewAll(t *testing.T) {
	f := newFixture(t)
	f.seedExam(t, nil)
	ctx := context.Background()
	a, _ := f.svc.Start(ctx, "exam-1", "student-1")
	mustSubmit(t, f.svc, a.ID, "q-single", `"B"`)

	res, err := f.svc.GetResult(ctx, a.ID, "student-1", false)
	if err != nil {
		t.Fatalf("owner GetResult: %v", err)
	}
	if len(res.Answers) != 1 {
		t.Errorf("answers = %d, want 1", len(res.Answers))
	}
	if _, err := f.svc.GetResult(ctx, a.ID, "teacher-1", false); !errors.Is(err, errs.ErrAccessDenied) {
		t.Errorf("non-owner err = %v, want ErrAccessDenied", err)
	}
	if _, err := f.svc.GetResult(ctx, a.ID, "teacher-1", true); err != nil {
		t.Errorf("view-all GetResult: %v", err)
	}
}

func mustSubmit(t *testing.T, svc *Service, attemptID, questionID, content string) {
	t.Helper()
	_, err := svc.SubmitAnswer(context.Background(), SubmitInput{
		AttemptID: attemptID, UserID: "student-1", QuestionID: questionID, Content: raw(content),
	})
	if err != nil {
		t.Fatalf("submit %s: %v", questionID, err)
	}
}
