package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func MarkTrainingWorkflowScheduled(ctx context.Context, txn *gorm.DB, workflowId uuid.UUID) error {
	if err := txn.WithContext(ctx).Model(&TrainingWorkflow{Id: workflowId}).
		Update("scheduled_time", time.Now().UTC()).Error; err != nil {
		slog.Error("error marking training workflow scheduled", "workflow_id", workflowId, "error", err)
		return err
	}
	return nil
}

func MarkGradingWorkflowScheduled(ctx context.Context, txn *gorm.DB, workflowId uuid.UUID) error {
	if err := txn.WithContext(ctx).Model(&GradingWorkflow{Id: workflowId}).
		Update("scheduled_time", time.Now().UTC()).Error; err != nil {
		slog.Error("error marking grading workflow scheduled", "workflow_id", workflowId, "error", err)
		return err
	}
	return nil
}

func SaveWorkflowError(ctx context.Context, txn *gorm.DB, workflowId uuid.UUID, errorMessage string) {
	workflowError := WorkflowError{
		WorkflowId: workflowId,
		ErrorId:    uuid.New(),
		Error:      errorMessage,
		Timestamp:  time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&workflowError).Error; err != nil {
		slog.Error("error saving workflow error", "workflow_id", workflowId, "error", err)
	}
}

// LatestCompleteClassifierSet returns the newest classifier set for the given
// rubric and algorithm, or gorm.ErrRecordNotFound if none exists yet.
func LatestCompleteClassifierSet(ctx context.Context, txn *gorm.DB, rubricId uuid.UUID, algorithmId string) (ClassifierSet, error) {
	var set ClassifierSet
	err := txn.WithContext(ctx).
		Preload("Classifiers").
		Where("rubric_id = ? AND algorithm_id = ?", rubricId, algorithmId).
		Order("creation_time DESC").
		First(&set).Error
	return set, err
}
