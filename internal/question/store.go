package question

import (
	"context"
	"errors"

	"github.com/candor-labs/interview-agent/internal/shared"
	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Question{})
}

func (s *Store) Create(ctx context.Context, q *Question) error {
	if q.ID == "" {
		q.ID = shared.NewID("q_")
	}
	return s.db.WithContext(ctx).Create(q).Error
}

func (s *Store) Get(ctx context.Context, id string) (*Question, error) {
	var q Question
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &q, err
}

func (s *Store) List(ctx context.Context, interviewID string) ([]*Question, error) {
	var questions []*Question
	err := s.db.WithContext(ctx).
		Where("interview_id = ?", interviewID).
		Order("position ASC").
		Find(&questions).Error
	return questions, err
}

// Progress derives the question's ordinal position within its
// interview. Percentage counts questions before this one as done.
func (s *Store) Progress(ctx context.Context, id string) (*Progress, error) {
	q, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var total int64
	err = s.db.WithContext(ctx).Model(&Question{}).
		Where("interview_id = ?", q.InterviewID).
		Count(&total).Error
	if err != nil {
		return nil, err
	}

	var before int64
	err = s.db.WithContext(ctx).Model(&Question{}).
		Where("interview_id = ? AND position < ?", q.InterviewID, q.Position).
		Count(&before).Error
	if err != nil {
		return nil, err
	}

	p := &Progress{
		QuestionNumber: int(before) + 1,
		TotalQuestions: int(total),
		Phase:          q.Phase,
		Section:        q.Section,
	}
	if total > 0 {
		p.CompletedPercentage = float64(before) / float64(total) * 100
	}
	return p, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&Question{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}
