package question

import (
	"time"

	"github.com/candor-labs/interview-agent/internal/shared"
)

type Question struct {
	ID          string `gorm:"primaryKey" json:"id"`
	InterviewID string `gorm:"not null;index" json:"interviewId"`

	Text      string             `gorm:"not null" json:"text"`
	InputType shared.InputType   `gorm:"default:'open_ended'" json:"inputType"`
	Options   shared.StringSlice `gorm:"type:json" json:"options,omitempty"`
	SliderMin int                `json:"sliderMin,omitempty"`
	SliderMax int                `json:"sliderMax,omitempty"`

	Position int    `gorm:"not null;index" json:"position"`
	Phase    string `json:"phase,omitempty"`
	Section  string `json:"section,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Progress locates a question inside its interview for the UI's
// progress header.
type Progress struct {
	QuestionNumber      int     `json:"questionNumber"`
	TotalQuestions      int     `json:"totalQuestions"`
	Phase               string  `json:"phase,omitempty"`
	Section             string  `json:"section,omitempty"`
	CompletedPercentage float64 `json:"completedPercentage"`
}
