package entity

import "time"

// StepKind classifies a pipeline trace record.
type StepKind string

const (
	StepEmbedding  StepKind = "embedding"
	StepRetrieval  StepKind = "retrieval"
	StepRerank     StepKind = "rerank"
	StepGeneration StepKind = "generation"
	StepTool       StepKind = "tool"
	StepControl    StepKind = "control"
)

// PipelineStep is a write-once trace of one stage of a conversation turn.
type PipelineStep struct {
	ID        uint      `json:"-" gorm:"primaryKey;autoIncrement"`
	TurnID    string    `json:"turn_id" gorm:"type:uuid;index:idx_pipeline_steps_turn_seq,priority:1;not null"`
	SessionID string    `json:"session_id" gorm:"type:uuid;index"`
	Seq       int       `json:"seq" gorm:"index:idx_pipeline_steps_turn_seq,priority:2;not null"`
	Kind      StepKind  `json:"kind" gorm:"type:varchar(16);not null"`
	Name      string    `json:"name" gorm:"type:varchar(64)"`
	Input     string    `json:"input" gorm:"type:text"`
	Output    string    `json:"output" gorm:"type:text"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Errored   bool      `json:"errored"`
	Error     string    `json:"error,omitempty" gorm:"type:text"`
}

func (PipelineStep) TableName() string {
	return "pipeline_steps"
}

func (s PipelineStep) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}
