package assessment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"assess-backend/internal/database"
	"assess-backend/internal/messaging"
	"assess-backend/internal/scoring"
	"assess-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Engine coordinates the training and grading workflows. It is shared by the
// HTTP handlers (which create workflows) and the task processor (which
// completes them), so both sides agree on the same transition rules.
type Engine struct {
	db        *gorm.DB
	storage   storage.Provider
	publisher messaging.Publisher
	bucket    string
}

func NewEngine(db *gorm.DB, store storage.Provider, publisher messaging.Publisher, bucket string) *Engine {
	return &Engine{db: db, storage: store, publisher: publisher, bucket: bucket}
}

func (e *Engine) getRubric(ctx context.Context, rubricId uuid.UUID) (database.Rubric, error) {
	var rubric database.Rubric
	err := e.db.WithContext(ctx).
		Preload("Criteria", func(db *gorm.DB) *gorm.DB { return db.Order("order_num") }).
		Preload("Criteria.Options", func(db *gorm.DB) *gorm.DB { return db.Order("order_num") }).
		Preload("TrainingExamples", func(db *gorm.DB) *gorm.DB { return db.Order("order_num") }).
		Preload("TrainingExamples.Options").
		First(&rubric, "id = ?", rubricId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.Rubric{}, ErrRubricNotFound
		}
		return database.Rubric{}, fmt.Errorf("error getting rubric: %w", err)
	}
	return rubric, nil
}

// CreateTrainingWorkflow records a new training workflow for the rubric and
// publishes a train_classifiers task. Fails up front if the rubric has no
// training examples, rather than letting a worker discover it later.
func (e *Engine) CreateTrainingWorkflow(ctx context.Context, rubricId uuid.UUID) (database.TrainingWorkflow, error) {
	rubric, err := e.getRubric(ctx, rubricId)
	if err != nil {
		return database.TrainingWorkflow{}, err
	}

	if len(rubric.TrainingExamples) == 0 {
		return database.TrainingWorkflow{}, ErrNoTrainingExamples
	}

	workflow := database.TrainingWorkflow{
		Id:           uuid.New(),
		RubricId:     rubric.Id,
		AlgorithmId:  rubric.AlgorithmId,
		CourseId:     rubric.CourseId,
		ItemId:       rubric.ItemId,
		CreationTime: time.Now().UTC(),
	}

	if err := e.db.WithContext(ctx).Create(&workflow).Error; err != nil {
		return database.TrainingWorkflow{}, fmt.Errorf("error creating training workflow: %w", err)
	}

	if err := e.publisher.PublishTrainClassifiersTask(ctx, messaging.TrainClassifiersPayload{WorkflowId: workflow.Id}); err != nil {
		slog.Error("error publishing training task", "workflow_id", workflow.Id, "error", err)
		return workflow, fmt.Errorf("failed to queue training task: %w", err)
	}

	if err := database.MarkTrainingWorkflowScheduled(ctx, e.db, workflow.Id); err != nil {
		return workflow, err
	}

	slog.Info("created training workflow", "workflow_id", workflow.Id, "rubric_id", rubric.Id, "algorithm_id", rubric.AlgorithmId)
	return workflow, nil
}

// TrainingTaskParams is what a worker needs to train one classifier per
// rubric criterion.
type TrainingTaskParams struct {
	AlgorithmId string

	// Per-criterion training examples, in rubric criterion order.
	Examples map[string][]scoring.Example
}

func (e *Engine) GetTrainingTaskParams(ctx context.Context, workflowId uuid.UUID) (TrainingTaskParams, error) {
	var workflow database.TrainingWorkflow
	if err := e.db.WithContext(ctx).First(&workflow, "id = ?", workflowId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TrainingTaskParams{}, ErrWorkflowNotFound
		}
		return TrainingTaskParams{}, fmt.Errorf("error getting training workflow: %w", err)
	}

	rubric, err := e.getRubric(ctx, workflow.RubricId)
	if err != nil {
		return TrainingTaskParams{}, err
	}

	if len(rubric.TrainingExamples) == 0 {
		return TrainingTaskParams{}, ErrNoTrainingExamples
	}

	params := TrainingTaskParams{
		AlgorithmId: workflow.AlgorithmId,
		Examples:    make(map[string][]scoring.Example),
	}
	for _, example := range rubric.TrainingExamples {
		for _, option := range example.Options {
			params.Examples[option.CriterionName] = append(params.Examples[option.CriterionName], scoring.Example{
				Text:  example.EssayText,
				Score: option.Points,
			})
		}
	}

	return params, nil
}

// CreateClassifiers attaches a trained classifier set to the workflow and
// marks it complete. Idempotent: a duplicate task delivery for an already
// complete workflow is a no-op with a warning. On success, grading workflows
// for the same problem that were waiting on classifiers are rescheduled.
func (e *Engine) CreateClassifiers(ctx context.Context, workflowId uuid.UUID, classifiers map[string][]byte) error {
	var workflow database.TrainingWorkflow
	if err := e.db.WithContext(ctx).First(&workflow, "id = ?", workflowId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrWorkflowNotFound
		}
		return fmt.Errorf("error getting training workflow: %w", err)
	}

	if workflow.CompletionTime.Valid {
		slog.Warn("training workflow already complete, ignoring duplicate classifier set", "workflow_id", workflowId)
		return nil
	}

	rubric, err := e.getRubric(ctx, workflow.RubricId)
	if err != nil {
		return err
	}

	if len(rubric.TrainingExamples) == 0 {
		return ErrNoTrainingExamples
	}

	if len(classifiers) != len(rubric.Criteria) {
		return fmt.Errorf("%w: got %d classifiers for %d criteria", ErrIncompleteClassifierSet, len(classifiers), len(rubric.Criteria))
	}
	for _, criterion := range rubric.Criteria {
		if _, ok := classifiers[criterion.Name]; !ok {
			return fmt.Errorf("%w: missing classifier for criterion '%s'", ErrIncompleteClassifierSet, criterion.Name)
		}
	}

	set := database.ClassifierSet{
		Id:           uuid.New(),
		RubricId:     rubric.Id,
		AlgorithmId:  workflow.AlgorithmId,
		CreationTime: time.Now().UTC(),
	}

	for name, blob := range classifiers {
		path := fmt.Sprintf("%s/%s.bin", set.Id, name)
		if err := e.storage.PutObject(ctx, e.bucket, path, bytes.NewReader(blob)); err != nil {
			return fmt.Errorf("error uploading classifier for criterion '%s': %w", name, err)
		}
		set.Classifiers = append(set.Classifiers, database.Classifier{
			ClassifierSetId: set.Id,
			CriterionName:   name,
			StoragePath:     path,
		})
	}

	err = e.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Create(&set).Error; err != nil {
			return fmt.Errorf("error creating classifier set: %w", err)
		}

		if err := txn.Model(&database.TrainingWorkflow{Id: workflow.Id}).Updates(map[string]any{
			"classifier_set_id": set.Id,
			"completion_time":   time.Now().UTC(),
		}).Error; err != nil {
			return fmt.Errorf("error completing training workflow: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("training workflow complete", "workflow_id", workflow.Id, "classifier_set_id", set.Id)

	scheduled, pending, err := e.RescheduleGradingTasks(ctx, workflow.CourseId, workflow.ItemId)
	if err != nil {
		slog.Error("error rescheduling grading tasks after training", "workflow_id", workflow.Id, "error", err)
		return err
	}
	if scheduled > 0 || pending > 0 {
		slog.Info("rescheduled grading tasks after training", "workflow_id", workflow.Id, "scheduled", scheduled, "pending", pending)
	}

	return nil
}

// CreateGradingWorkflow records a grading workflow for a submitted essay. If
// a complete classifier set already exists for the rubric and algorithm, the
// workflow is scheduled immediately; otherwise the grade_essay task waits
// until training completes and reschedules it.
func (e *Engine) CreateGradingWorkflow(ctx context.Context, submissionId uuid.UUID, essayText string, rubricId uuid.UUID) (database.GradingWorkflow, error) {
	rubric, err := e.getRubric(ctx, rubricId)
	if err != nil {
		return database.GradingWorkflow{}, err
	}

	workflow := database.GradingWorkflow{
		Id:           uuid.New(),
		SubmissionId: submissionId,
		EssayText:    essayText,
		RubricId:     rubric.Id,
		AlgorithmId:  rubric.AlgorithmId,
		CourseId:     rubric.CourseId,
		ItemId:       rubric.ItemId,
		CreationTime: time.Now().UTC(),
	}

	set, err := database.LatestCompleteClassifierSet(ctx, e.db, rubric.Id, rubric.AlgorithmId)
	if err == nil {
		workflow.ClassifierSetId = uuid.NullUUID{UUID: set.Id, Valid: true}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return database.GradingWorkflow{}, fmt.Errorf("error looking up classifier set: %w", err)
	}

	if err := e.db.WithContext(ctx).Create(&workflow).Error; err != nil {
		return database.GradingWorkflow{}, fmt.Errorf("error creating grading workflow: %w", err)
	}

	if workflow.ClassifierSetId.Valid {
		if err := e.publisher.PublishGradeEssayTask(ctx, messaging.GradeEssayPayload{WorkflowId: workflow.Id}); err != nil {
			slog.Error("error publishing grading task", "workflow_id", workflow.Id, "error", err)
			return workflow, fmt.Errorf("failed to queue grading task: %w", err)
		}
		if err := database.MarkGradingWorkflowScheduled(ctx, e.db, workflow.Id); err != nil {
			return workflow, err
		}
		slog.Info("created grading workflow", "workflow_id", workflow.Id, "classifier_set_id", set.Id)
	} else {
		slog.Info("created grading workflow, waiting for classifiers", "workflow_id", workflow.Id, "rubric_id", rubric.Id)
	}

	return workflow, nil
}

// GradingTaskParams is what a worker needs to score one essay: the text plus
// the classifier blob for each rubric criterion.
type GradingTaskParams struct {
	EssayText   string
	AlgorithmId string
	Classifiers map[string][]byte
}

// GetGradingTaskParams loads the grading inputs for a scheduled workflow. A
// workflow reaching a worker with no classifier set assigned violates the
// scheduling invariant and is reported as a fatal internal error.
func (e *Engine) GetGradingTaskParams(ctx context.Context, workflowId uuid.UUID) (GradingTaskParams, error) {
	var workflow database.GradingWorkflow
	err := e.db.WithContext(ctx).Preload("ClassifierSet").Preload("ClassifierSet.Classifiers").
		First(&workflow, "id = ?", workflowId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return GradingTaskParams{}, ErrWorkflowNotFound
		}
		return GradingTaskParams{}, fmt.Errorf("error getting grading workflow: %w", err)
	}

	if !workflow.ClassifierSetId.Valid || workflow.ClassifierSet == nil {
		return GradingTaskParams{}, ErrMissingClassifierSet
	}

	params := GradingTaskParams{
		EssayText:   workflow.EssayText,
		AlgorithmId: workflow.AlgorithmId,
		Classifiers: make(map[string][]byte),
	}

	for _, classifier := range workflow.ClassifierSet.Classifiers {
		blob, err := e.storage.GetObject(ctx, e.bucket, classifier.StoragePath)
		if err != nil {
			return GradingTaskParams{}, fmt.Errorf("error downloading classifier for criterion '%s': %w", classifier.CriterionName, err)
		}
		params.Classifiers[classifier.CriterionName] = blob
	}

	return params, nil
}

// CreateAssessment records per-criterion scores and marks the grading
// workflow complete exactly once. A duplicate task delivery observes the
// completion time and returns as a no-op with a warning.
func (e *Engine) CreateAssessment(ctx context.Context, workflowId uuid.UUID, criterionScores map[string]int) error {
	var workflow database.GradingWorkflow
	if err := e.db.WithContext(ctx).First(&workflow, "id = ?", workflowId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrWorkflowNotFound
		}
		return fmt.Errorf("error getting grading workflow: %w", err)
	}

	if workflow.CompletionTime.Valid {
		slog.Warn("grading workflow already complete, ignoring duplicate assessment", "workflow_id", workflowId)
		return nil
	}

	scores := make([]database.CriterionScore, 0, len(criterionScores))
	for name, points := range criterionScores {
		scores = append(scores, database.CriterionScore{
			WorkflowId:    workflow.Id,
			CriterionName: name,
			Points:        points,
		})
	}

	err := e.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if len(scores) > 0 {
			if err := txn.Create(&scores).Error; err != nil {
				return fmt.Errorf("error saving assessment scores: %w", err)
			}
		}

		if err := txn.Model(&database.GradingWorkflow{Id: workflow.Id}).
			Update("completion_time", time.Now().UTC()).Error; err != nil {
			return fmt.Errorf("error completing grading workflow: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("grading workflow complete", "workflow_id", workflow.Id)
	return nil
}

// RescheduleGradingTasks finds incomplete grading workflows for the problem,
// assigns the newest complete classifier set where one exists, and
// republishes grade_essay tasks. Workflows with no available classifier set
// are counted and left pending.
func (e *Engine) RescheduleGradingTasks(ctx context.Context, courseId, itemId string) (scheduled, pending int, err error) {
	var workflows []database.GradingWorkflow
	if err := e.db.WithContext(ctx).
		Where("course_id = ? AND item_id = ? AND completion_time IS NULL", courseId, itemId).
		Find(&workflows).Error; err != nil {
		return 0, 0, fmt.Errorf("error finding incomplete grading workflows: %w", err)
	}

	// Classifier sets are shared per rubric+algorithm; resolve each pair once.
	type setKey struct {
		rubricId    uuid.UUID
		algorithmId string
	}
	sets := make(map[setKey]uuid.NullUUID)

	for _, workflow := range workflows {
		if !workflow.ClassifierSetId.Valid {
			key := setKey{rubricId: workflow.RubricId, algorithmId: workflow.AlgorithmId}
			setId, ok := sets[key]
			if !ok {
				set, err := database.LatestCompleteClassifierSet(ctx, e.db, workflow.RubricId, workflow.AlgorithmId)
				if err != nil {
					if !errors.Is(err, gorm.ErrRecordNotFound) {
						return scheduled, pending, fmt.Errorf("error looking up classifier set: %w", err)
					}
					setId = uuid.NullUUID{}
				} else {
					setId = uuid.NullUUID{UUID: set.Id, Valid: true}
				}
				sets[key] = setId
			}

			if !setId.Valid {
				pending++
				continue
			}

			if err := e.db.WithContext(ctx).Model(&database.GradingWorkflow{Id: workflow.Id}).
				Update("classifier_set_id", setId.UUID).Error; err != nil {
				return scheduled, pending, fmt.Errorf("error assigning classifier set: %w", err)
			}
		}

		if err := e.publisher.PublishGradeEssayTask(ctx, messaging.GradeEssayPayload{WorkflowId: workflow.Id}); err != nil {
			slog.Error("error republishing grading task", "workflow_id", workflow.Id, "error", err)
			return scheduled, pending, fmt.Errorf("failed to queue grading task: %w", err)
		}
		if err := database.MarkGradingWorkflowScheduled(ctx, e.db, workflow.Id); err != nil {
			return scheduled, pending, err
		}
		scheduled++
	}

	return scheduled, pending, nil
}

// RescheduleTrainingTasks republishes train_classifiers tasks for incomplete
// training workflows of the problem.
func (e *Engine) RescheduleTrainingTasks(ctx context.Context, courseId, itemId string) (int, error) {
	var workflows []database.TrainingWorkflow
	if err := e.db.WithContext(ctx).
		Where("course_id = ? AND item_id = ? AND completion_time IS NULL", courseId, itemId).
		Find(&workflows).Error; err != nil {
		return 0, fmt.Errorf("error finding incomplete training workflows: %w", err)
	}

	count := 0
	for _, workflow := range workflows {
		if err := e.publisher.PublishTrainClassifiersTask(ctx, messaging.TrainClassifiersPayload{WorkflowId: workflow.Id}); err != nil {
			slog.Error("error republishing training task", "workflow_id", workflow.Id, "error", err)
			return count, fmt.Errorf("failed to queue training task: %w", err)
		}
		if err := database.MarkTrainingWorkflowScheduled(ctx, e.db, workflow.Id); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}
