package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TrainClassifiersQueue = "train_classifiers_queue"
	GradeEssayQueue       = "grade_essay_queue"
	RescheduleQueue       = "reschedule_queue"
	RetryDelay            = 5 * time.Second
	MaxConnectRetry       = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type TrainClassifiersPayload struct {
	WorkflowId uuid.UUID
}

type GradeEssayPayload struct {
	WorkflowId uuid.UUID
}

type ReschedulePayload struct {
	CourseId string
	ItemId   string
}

type Publisher interface {
	PublishTrainClassifiersTask(ctx context.Context, payload TrainClassifiersPayload) error

	PublishGradeEssayTask(ctx context.Context, payload GradeEssayPayload) error

	PublishRescheduleTask(ctx context.Context, payload ReschedulePayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
