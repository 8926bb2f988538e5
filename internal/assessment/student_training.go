package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"assess-backend/internal/database"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TrainingProgress describes where a learner is in the student training step.
// CurrentExample is nil once every example has been assessed correctly.
type TrainingProgress struct {
	WorkflowId     uuid.UUID
	NumCompleted   int
	NumExamples    int
	Complete       bool
	CurrentExample *database.TrainingExample
}

func (e *Engine) getStudentTrainingWorkflow(ctx context.Context, studentId string, rubric database.Rubric) (database.StudentTrainingWorkflow, error) {
	var workflow database.StudentTrainingWorkflow
	err := e.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("order_num") }).
		Where("student_id = ? AND course_id = ? AND item_id = ?", studentId, rubric.CourseId, rubric.ItemId).
		First(&workflow).Error
	if err == nil {
		return workflow, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return database.StudentTrainingWorkflow{}, fmt.Errorf("error getting student training workflow: %w", err)
	}

	workflow = database.StudentTrainingWorkflow{
		Id:           uuid.New(),
		StudentId:    studentId,
		CourseId:     rubric.CourseId,
		ItemId:       rubric.ItemId,
		SubmissionId: uuid.New(),
		CreationTime: time.Now().UTC(),
	}
	if err := e.db.WithContext(ctx).Create(&workflow).Error; err != nil {
		return database.StudentTrainingWorkflow{}, fmt.Errorf("error creating student training workflow: %w", err)
	}

	slog.Info("created student training workflow", "workflow_id", workflow.Id, "student_id", studentId, "course_id", rubric.CourseId, "item_id", rubric.ItemId)
	return workflow, nil
}

func numCompletedItems(workflow database.StudentTrainingWorkflow) int {
	count := 0
	for _, item := range workflow.Items {
		if item.CompletionTime.Valid {
			count++
		}
	}
	return count
}

// StudentTrainingStatus reports the learner's progress and the current
// example to assess. Items are created lazily in example order: the current
// example is the first one not yet assessed correctly.
func (e *Engine) StudentTrainingStatus(ctx context.Context, studentId string, rubricId uuid.UUID) (TrainingProgress, error) {
	rubric, err := e.getRubric(ctx, rubricId)
	if err != nil {
		return TrainingProgress{}, err
	}

	workflow, err := e.getStudentTrainingWorkflow(ctx, studentId, rubric)
	if err != nil {
		return TrainingProgress{}, err
	}

	progress := TrainingProgress{
		WorkflowId:   workflow.Id,
		NumCompleted: numCompletedItems(workflow),
		NumExamples:  len(rubric.TrainingExamples),
	}

	if progress.NumCompleted >= progress.NumExamples {
		progress.Complete = true
		return progress, nil
	}

	current := rubric.TrainingExamples[progress.NumCompleted]

	if len(workflow.Items) <= progress.NumCompleted {
		item := database.StudentTrainingItem{
			WorkflowId:        workflow.Id,
			OrderNum:          progress.NumCompleted,
			TrainingExampleId: current.Id,
			StartedTime:       time.Now().UTC(),
		}
		if err := e.db.WithContext(ctx).Create(&item).Error; err != nil {
			return TrainingProgress{}, fmt.Errorf("error creating student training item: %w", err)
		}
	}

	progress.CurrentExample = &current
	return progress, nil
}

// TrainingAssessment is the outcome of checking a learner's selections
// against the answer key for the current example. Corrections holds, for each
// criterion the learner got wrong, the option the author selected.
type TrainingAssessment struct {
	Correct     bool
	Corrections map[string]string
	Progress    TrainingProgress
}

// AssessTrainingExample compares the learner's selected option per criterion
// against the author's selections for the current example. The workflow
// advances only on an exact match across all criteria.
func (e *Engine) AssessTrainingExample(ctx context.Context, studentId string, rubricId uuid.UUID, optionsSelected map[string]string) (TrainingAssessment, error) {
	rubric, err := e.getRubric(ctx, rubricId)
	if err != nil {
		return TrainingAssessment{}, err
	}

	// Validate the selections against the rubric before touching the answer
	// key, so bad input surfaces as a request error.
	criterionOptions := make(map[string]map[string]struct{})
	for _, criterion := range rubric.Criteria {
		options := make(map[string]struct{}, len(criterion.Options))
		for _, option := range criterion.Options {
			options[option.Name] = struct{}{}
		}
		criterionOptions[criterion.Name] = options
	}

	for name, option := range optionsSelected {
		options, ok := criterionOptions[name]
		if !ok {
			return TrainingAssessment{}, fmt.Errorf("%w: '%s'", ErrUnknownCriterion, name)
		}
		if _, ok := options[option]; !ok {
			return TrainingAssessment{}, fmt.Errorf("%w: '%s' for criterion '%s'", ErrUnknownOption, option, name)
		}
	}

	workflow, err := e.getStudentTrainingWorkflow(ctx, studentId, rubric)
	if err != nil {
		return TrainingAssessment{}, err
	}

	completed := numCompletedItems(workflow)
	if completed >= len(rubric.TrainingExamples) {
		return TrainingAssessment{}, ErrTrainingComplete
	}

	current := rubric.TrainingExamples[completed]

	if len(workflow.Items) <= completed {
		item := database.StudentTrainingItem{
			WorkflowId:        workflow.Id,
			OrderNum:          completed,
			TrainingExampleId: current.Id,
			StartedTime:       time.Now().UTC(),
		}
		if err := e.db.WithContext(ctx).Create(&item).Error; err != nil {
			return TrainingAssessment{}, fmt.Errorf("error creating student training item: %w", err)
		}
	}

	assessment := TrainingAssessment{
		Correct:     true,
		Corrections: make(map[string]string),
	}
	for _, answer := range current.Options {
		if optionsSelected[answer.CriterionName] != answer.OptionName {
			assessment.Correct = false
			assessment.Corrections[answer.CriterionName] = answer.OptionName
		}
	}

	selections, err := json.Marshal(optionsSelected)
	if err != nil {
		return TrainingAssessment{}, fmt.Errorf("error serializing selections: %w", err)
	}

	updates := map[string]any{
		"attempts":        gorm.Expr("attempts + 1"),
		"last_selections": datatypes.JSON(selections),
	}
	if assessment.Correct {
		updates["completion_time"] = time.Now().UTC()
	}

	err = e.db.WithContext(ctx).
		Model(&database.StudentTrainingItem{}).
		Where("workflow_id = ? AND order_num = ?", workflow.Id, completed).
		Updates(updates).Error
	if err != nil {
		return TrainingAssessment{}, fmt.Errorf("error recording student training attempt: %w", err)
	}
	if assessment.Correct {
		completed++
	}

	assessment.Progress = TrainingProgress{
		WorkflowId:   workflow.Id,
		NumCompleted: completed,
		NumExamples:  len(rubric.TrainingExamples),
		Complete:     completed >= len(rubric.TrainingExamples),
	}

	return assessment, nil
}
