package question

import "context"

// Provider hands out interview questions and progress. The concrete
// chain is Cache over Store so repeated lookups within a session skip
// the database.
type Provider interface {
	Get(ctx context.Context, id string) (*Question, error)
	List(ctx context.Context, interviewID string) ([]*Question, error)
	Progress(ctx context.Context, id string) (*Progress, error)
}
