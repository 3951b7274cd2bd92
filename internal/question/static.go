package question

import (
	"context"

	"github.com/candor-labs/interview-agent/internal/shared"
)

// StaticProvider serves a fixed question list from memory. It backs
// local runs where no database is configured.
type StaticProvider struct {
	questions []*Question
	byID      map[string]*Question
}

func NewStaticProvider(questions []*Question) *StaticProvider {
	p := &StaticProvider{
		questions: questions,
		byID:      make(map[string]*Question, len(questions)),
	}
	for i, q := range questions {
		if q.Position == 0 {
			q.Position = i + 1
		}
		p.byID[q.ID] = q
	}
	return p
}

func (p *StaticProvider) Get(ctx context.Context, id string) (*Question, error) {
	q, ok := p.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return q, nil
}

func (p *StaticProvider) List(ctx context.Context, interviewID string) ([]*Question, error) {
	out := make([]*Question, 0, len(p.questions))
	for _, q := range p.questions {
		if interviewID == "" || q.InterviewID == interviewID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (p *StaticProvider) Progress(ctx context.Context, id string) (*Progress, error) {
	q, ok := p.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}

	total := 0
	before := 0
	for _, other := range p.questions {
		if other.InterviewID != q.InterviewID {
			continue
		}
		total++
		if other.Position < q.Position {
			before++
		}
	}

	prog := &Progress{
		QuestionNumber: before + 1,
		TotalQuestions: total,
		Phase:          q.Phase,
		Section:        q.Section,
	}
	if total > 0 {
		prog.CompletedPercentage = float64(before) / float64(total) * 100
	}
	return prog, nil
}
