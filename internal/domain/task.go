package domain

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	StatusPending     TaskStatus = "pending"
	StatusClassifying TaskStatus = "classifying"
	StatusRetrieving  TaskStatus = "retrieving"
	StatusReasoning   TaskStatus = "reasoning"
	StatusVerifying   TaskStatus = "verifying"
	StatusCompleted   TaskStatus = "completed"
	StatusFailed      TaskStatus = "failed"
)

func ValidTaskStatus(s string) bool {
	switch TaskStatus(s) {
	case StatusPending, StatusClassifying, StatusRetrieving, StatusReasoning,
		StatusVerifying, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions may occur.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// transitions is the task state graph. Progress is monotonic except for the
// bounded verifying -> reasoning back-edge taken during re-analysis. Any
// non-terminal state may move to failed.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPending:     {StatusClassifying, StatusFailed},
	StatusClassifying: {StatusRetrieving, StatusFailed},
	StatusRetrieving:  {StatusReasoning, StatusFailed},
	StatusReasoning:   {StatusVerifying, StatusFailed},
	StatusVerifying:   {StatusReasoning, StatusCompleted, StatusFailed},
	StatusCompleted:   nil,
	StatusFailed:      nil,
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Stage string

const (
	StageClassification Stage = "classification"
	StageRetrieval      Stage = "retrieval"
	StageReasoning      Stage = "reasoning"
	StageVerification   Stage = "verification"
)

// StageOutputs holds each stage's result. Every field is written at most
// once per pipeline pass; Reasoning may be overwritten during re-analysis.
type StageOutputs struct {
	Classification *Classification `json:"classification,omitempty"`
	Evidence       *EvidenceSet    `json:"evidence,omitempty"`
	Reasoning      *Reasoning      `json:"reasoning,omitempty"`
	Critique       *Critique       `json:"critique,omitempty"`
}

// TaskError is the persisted failure record; present only on failed tasks.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

type Feedback struct {
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func ValidRating(r int) bool {
	return r >= 1 && r <= 5
}

type Task struct {
	ID              uuid.UUID    `json:"id"`
	Question        string       `json:"question"`
	Status          TaskStatus   `json:"status"`
	Outputs         StageOutputs `json:"stage_outputs"`
	Error           *TaskError   `json:"error,omitempty"`
	Unverified      bool         `json:"unverified,omitempty"`
	CancelRequested bool         `json:"cancel_requested,omitempty"`
	Feedback        []Feedback   `json:"feedback,omitempty"`
	Embedding       []float32    `json:"-"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func NewTask(question string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        uuid.New(),
		Question:  question,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
