package api

import (
	"time"

	"github.com/google/uuid"
)

// Workflow status values derived from the recorded timestamps.
const (
	StatusQueued    = "QUEUED"
	StatusScheduled = "SCHEDULED"
	StatusCompleted = "COMPLETED"
)

type RubricOption struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

type RubricCriterion struct {
	Name    string         `json:"name"`
	Options []RubricOption `json:"options"`
}

type TrainingExampleSpec struct {
	EssayText       string            `json:"essay_text"`
	OptionsSelected map[string]string `json:"options_selected"`
}

type CreateProblemRequest struct {
	CourseId         string                `json:"course_id"`
	ItemId           string                `json:"item_id"`
	AlgorithmId      string                `json:"algorithm_id"`
	Criteria         []RubricCriterion     `json:"criteria"`
	TrainingExamples []TrainingExampleSpec `json:"training_examples"`
}

type CreateProblemResponse struct {
	ProblemId uuid.UUID `json:"problem_id"`
}

type Problem struct {
	Id                  uuid.UUID         `json:"id"`
	CourseId            string            `json:"course_id"`
	ItemId              string            `json:"item_id"`
	AlgorithmId         string            `json:"algorithm_id"`
	Criteria            []RubricCriterion `json:"criteria"`
	NumTrainingExamples int               `json:"num_training_examples"`
	CreationTime        time.Time         `json:"creation_time"`
}

type ListProblemsQuery struct {
	CourseId string `schema:"course_id"`
	ItemId   string `schema:"item_id"`
}

type TrainResponse struct {
	WorkflowId uuid.UUID `json:"workflow_id"`
}

type TrainingWorkflowStatus struct {
	WorkflowId      uuid.UUID  `json:"workflow_id"`
	ProblemId       uuid.UUID  `json:"problem_id"`
	AlgorithmId     string     `json:"algorithm_id"`
	Status          string     `json:"status"`
	ClassifierSetId *uuid.UUID `json:"classifier_set_id,omitempty"`
	CreationTime    time.Time  `json:"creation_time"`
	ScheduledTime   *time.Time `json:"scheduled_time,omitempty"`
	CompletionTime  *time.Time `json:"completion_time,omitempty"`
}

type SubmitEssayRequest struct {
	ProblemId    uuid.UUID `json:"problem_id"`
	SubmissionId uuid.UUID `json:"submission_id"`
	EssayText    string    `json:"essay_text"`
}

type SubmitEssayResponse struct {
	WorkflowId uuid.UUID `json:"workflow_id"`
	Status     string    `json:"status"`
}

type GradingWorkflowStatus struct {
	WorkflowId      uuid.UUID      `json:"workflow_id"`
	SubmissionId    uuid.UUID      `json:"submission_id"`
	ProblemId       uuid.UUID      `json:"problem_id"`
	AlgorithmId     string         `json:"algorithm_id"`
	Status          string         `json:"status"`
	ClassifierSetId *uuid.UUID     `json:"classifier_set_id,omitempty"`
	Scores          map[string]int `json:"scores,omitempty"`
	CreationTime    time.Time      `json:"creation_time"`
	ScheduledTime   *time.Time     `json:"scheduled_time,omitempty"`
	CompletionTime  *time.Time     `json:"completion_time,omitempty"`
}

type RescheduleResponse struct {
	GradingScheduled  int `json:"grading_scheduled"`
	GradingPending    int `json:"grading_pending"`
	TrainingScheduled int `json:"training_scheduled"`
}

type StudentTrainingQuery struct {
	StudentId string    `schema:"student_id,required"`
	ProblemId uuid.UUID `schema:"problem_id,required"`
}

// TrainingExample is the current example shown to the learner. It carries the
// essay and the rubric to score it with, but never the answer key.
type TrainingExample struct {
	EssayText string            `json:"essay_text"`
	Criteria  []RubricCriterion `json:"criteria"`
}

type StudentTrainingStatus struct {
	NumCompleted int              `json:"num_completed"`
	NumExamples  int              `json:"num_examples"`
	Complete     bool             `json:"complete"`
	Example      *TrainingExample `json:"example,omitempty"`
}

type TrainingAssessRequest struct {
	StudentId       string            `json:"student_id"`
	ProblemId       uuid.UUID         `json:"problem_id"`
	OptionsSelected map[string]string `json:"options_selected"`
}

type TrainingAssessResponse struct {
	Correct      bool              `json:"correct"`
	Corrections  map[string]string `json:"corrections,omitempty"`
	NumCompleted int               `json:"num_completed"`
	NumExamples  int               `json:"num_examples"`
	Complete     bool              `json:"complete"`
}
