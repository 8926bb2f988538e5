package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"assess-backend/internal/assessment"
	"assess-backend/internal/database"
	"assess-backend/internal/messaging"
	"assess-backend/internal/scoring"

	"gorm.io/gorm"
)

type TaskProcessor struct {
	db         *gorm.DB
	engine     *assessment.Engine
	receiver   messaging.Receiver
	publisher  messaging.Publisher
	algorithms *scoring.Registry
}

func NewTaskProcessor(db *gorm.DB, engine *assessment.Engine, receiver messaging.Receiver, publisher messaging.Publisher, algorithms *scoring.Registry) *TaskProcessor {
	return &TaskProcessor{
		db:         db,
		engine:     engine,
		receiver:   receiver,
		publisher:  publisher,
		algorithms: algorithms,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.receiver.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.publisher.Close()
	proc.receiver.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.TrainClassifiersQueue:
		var payload messaging.TrainClassifiersPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling training task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processTrainingTask(ctx, payload)

	case messaging.GradeEssayQueue:
		var payload messaging.GradeEssayPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling grading task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processGradingTask(ctx, payload)

	case messaging.RescheduleQueue:
		var payload messaging.ReschedulePayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling reschedule task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processRescheduleTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil { // reject unknown message type
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) processTrainingTask(ctx context.Context, payload messaging.TrainClassifiersPayload) error {
	slog.Info("processing training task", "workflow_id", payload.WorkflowId)

	params, err := proc.engine.GetTrainingTaskParams(ctx, payload.WorkflowId)
	if err != nil {
		database.SaveWorkflowError(ctx, proc.db, payload.WorkflowId, err.Error())
		return fmt.Errorf("error getting training task params: %w", err)
	}

	algo, err := proc.algorithms.Get(params.AlgorithmId)
	if err != nil {
		database.SaveWorkflowError(ctx, proc.db, payload.WorkflowId, err.Error())
		return fmt.Errorf("error resolving algorithm: %w", err)
	}

	classifiers := make(map[string][]byte, len(params.Examples))
	for criterion, examples := range params.Examples {
		blob, err := algo.TrainClassifier(examples)
		if err != nil {
			database.SaveWorkflowError(ctx, proc.db, payload.WorkflowId, err.Error())
			return fmt.Errorf("error training classifier for criterion '%s': %w", criterion, err)
		}
		classifiers[criterion] = blob
	}

	if err := proc.engine.CreateClassifiers(ctx, payload.WorkflowId, classifiers); err != nil {
		database.SaveWorkflowError(ctx, proc.db, payload.WorkflowId, err.Error())
		return fmt.Errorf("error recording classifier set: %w", err)
	}

	slog.Info("training task completed", "workflow_id", payload.WorkflowId)
	return nil
}

func (proc *TaskProcessor) processGradingTask(ctx context.Context, payload messaging.GradeEssayPayload) error {
	slog.Info("processing grading task", "workflow_id", payload.WorkflowId)

	params, err := proc.engine.GetGradingTaskParams(ctx, payload.WorkflowId)
	if err != nil {
		if errors.Is(err, assessment.ErrMissingClassifierSet) {
			// Scheduling invariant was violated, retrying cannot help.
			slog.Error("grading workflow reached worker without a classifier set", "workflow_id", payload.WorkflowId)
		}
		database.SaveWorkflowError(ctx, proc.db, payload.WorkflowId, err.Error())
		return fmt.Errorf("error getting grading task params: %w", err)
	}

	algo, err := proc.algorithms.Get(params.AlgorithmId)
	if err != nil {
		database.SaveWorkflowError(ctx, proc.db, payload.WorkflowId, err.Error())
		return fmt.Errorf("error resolving algorithm: %w", err)
	}

	scores := make(map[string]int, len(params.Classifiers))
	for criterion, classifier := range params.Classifiers {
		score, err := algo.Score(classifier, params.EssayText)
		if err != nil {
			database.SaveWorkflowError(ctx, proc.db, payload.WorkflowId, err.Error())
			return fmt.Errorf("error scoring criterion '%s': %w", criterion, err)
		}
		scores[criterion] = score
	}

	if err := proc.engine.CreateAssessment(ctx, payload.WorkflowId, scores); err != nil {
		database.SaveWorkflowError(ctx, proc.db, payload.WorkflowId, err.Error())
		return fmt.Errorf("error recording assessment: %w", err)
	}

	slog.Info("grading task completed", "workflow_id", payload.WorkflowId)
	return nil
}

func (proc *TaskProcessor) processRescheduleTask(ctx context.Context, payload messaging.ReschedulePayload) error {
	slog.Info("processing reschedule task", "course_id", payload.CourseId, "item_id", payload.ItemId)

	// Reschedule grading first: completing training may have already assigned
	// classifier sets, and a training reschedule would only queue more work.
	scheduled, pending, err := proc.engine.RescheduleGradingTasks(ctx, payload.CourseId, payload.ItemId)
	if err != nil {
		return fmt.Errorf("error rescheduling grading tasks: %w", err)
	}

	trained, err := proc.engine.RescheduleTrainingTasks(ctx, payload.CourseId, payload.ItemId)
	if err != nil {
		return fmt.Errorf("error rescheduling training tasks: %w", err)
	}

	slog.Info("reschedule task completed", "course_id", payload.CourseId, "item_id", payload.ItemId,
		"grading_scheduled", scheduled, "grading_pending", pending, "training_scheduled", trained)
	return nil
}
