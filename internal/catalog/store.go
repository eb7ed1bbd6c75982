package catalog

import "context"

// Store is the exam/question catalog consumed by the attempt core.
// The core only reads; PutExam/PutQuestion exist so deployments can
// seed content without a full authoring surface.
type Store interface {
	PutExam(ctx context.Context, e Exam) error
	PutQuestion(ctx context.Context, q Question) error
	GetExam(ctx context.Context, id string) (Exam, error)
	GetQuestion(ctx context.Context, id string) (Question, error)
}
