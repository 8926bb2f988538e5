package api

import (
	"database/sql"
	"time"

	"assess-backend/internal/database"
	"assess-backend/pkg/api"

	"github.com/google/uuid"
)

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func nullableUUID(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	return &id.UUID
}

// workflowStatus derives the status string from the recorded timestamps,
// which are the source of truth for workflow state.
func workflowStatus(scheduled, completed sql.NullTime) string {
	switch {
	case completed.Valid:
		return api.StatusCompleted
	case scheduled.Valid:
		return api.StatusScheduled
	default:
		return api.StatusQueued
	}
}

func convertCriteria(criteria []database.Criterion) []api.RubricCriterion {
	out := make([]api.RubricCriterion, len(criteria))
	for i, criterion := range criteria {
		options := make([]api.RubricOption, len(criterion.Options))
		for j, option := range criterion.Options {
			options[j] = api.RubricOption{Name: option.Name, Points: option.Points}
		}
		out[i] = api.RubricCriterion{Name: criterion.Name, Options: options}
	}
	return out
}

func convertProblem(rubric database.Rubric) api.Problem {
	return api.Problem{
		Id:                  rubric.Id,
		CourseId:            rubric.CourseId,
		ItemId:              rubric.ItemId,
		AlgorithmId:         rubric.AlgorithmId,
		Criteria:            convertCriteria(rubric.Criteria),
		NumTrainingExamples: len(rubric.TrainingExamples),
		CreationTime:        rubric.CreationTime,
	}
}

func convertTrainingWorkflow(workflow database.TrainingWorkflow) api.TrainingWorkflowStatus {
	return api.TrainingWorkflowStatus{
		WorkflowId:      workflow.Id,
		ProblemId:       workflow.RubricId,
		AlgorithmId:     workflow.AlgorithmId,
		Status:          workflowStatus(workflow.ScheduledTime, workflow.CompletionTime),
		ClassifierSetId: nullableUUID(workflow.ClassifierSetId),
		CreationTime:    workflow.CreationTime,
		ScheduledTime:   nullableTime(workflow.ScheduledTime),
		CompletionTime:  nullableTime(workflow.CompletionTime),
	}
}

func convertGradingWorkflow(workflow database.GradingWorkflow) api.GradingWorkflowStatus {
	status := api.GradingWorkflowStatus{
		WorkflowId:      workflow.Id,
		SubmissionId:    workflow.SubmissionId,
		ProblemId:       workflow.RubricId,
		AlgorithmId:     workflow.AlgorithmId,
		Status:          workflowStatus(workflow.ScheduledTime, workflow.CompletionTime),
		ClassifierSetId: nullableUUID(workflow.ClassifierSetId),
		CreationTime:    workflow.CreationTime,
		ScheduledTime:   nullableTime(workflow.ScheduledTime),
		CompletionTime:  nullableTime(workflow.CompletionTime),
	}

	if len(workflow.Scores) > 0 {
		status.Scores = make(map[string]int, len(workflow.Scores))
		for _, score := range workflow.Scores {
			status.Scores[score.CriterionName] = score.Points
		}
	}

	return status
}
