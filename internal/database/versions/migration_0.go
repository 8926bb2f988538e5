package versions

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Snapshot of the schema at migration 0. These structs are intentionally
// decoupled from the live schema package so later schema changes do not
// silently rewrite the baseline.

type Rubric struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	CourseId string `gorm:"size:255;not null;index:idx_rubric_problem"`
	ItemId   string `gorm:"size:255;not null;index:idx_rubric_problem"`

	AlgorithmId  string `gorm:"size:50;not null"`
	CreationTime time.Time

	Criteria         []Criterion       `gorm:"foreignKey:RubricId;constraint:OnDelete:CASCADE"`
	TrainingExamples []TrainingExample `gorm:"foreignKey:RubricId;constraint:OnDelete:CASCADE"`
}

type Criterion struct {
	RubricId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name     string    `gorm:"primaryKey"`
	OrderNum int       `gorm:"not null"`

	Options []CriterionOption `gorm:"foreignKey:RubricId,CriterionName;references:RubricId,Name;constraint:OnDelete:CASCADE"`
}

type CriterionOption struct {
	RubricId      uuid.UUID `gorm:"type:uuid;primaryKey"`
	CriterionName string    `gorm:"primaryKey"`
	Name          string    `gorm:"primaryKey"`
	OrderNum      int       `gorm:"not null"`
	Points        int       `gorm:"not null"`
}

type TrainingExample struct {
	Id       uuid.UUID `gorm:"type:uuid;primaryKey"`
	RubricId uuid.UUID `gorm:"type:uuid;index"`
	OrderNum int       `gorm:"not null"`

	EssayText string `gorm:"not null"`

	Options []ExampleOption `gorm:"foreignKey:ExampleId;constraint:OnDelete:CASCADE"`
}

type ExampleOption struct {
	ExampleId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	CriterionName string    `gorm:"primaryKey"`
	OptionName    string    `gorm:"not null"`
	Points        int       `gorm:"not null"`
}

type TrainingWorkflow struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	RubricId uuid.UUID `gorm:"type:uuid;not null"`
	Rubric   *Rubric   `gorm:"foreignKey:RubricId"`

	AlgorithmId string `gorm:"size:50;not null"`
	CourseId    string `gorm:"size:255;not null;index:idx_training_problem"`
	ItemId      string `gorm:"size:255;not null;index:idx_training_problem"`

	ClassifierSetId uuid.NullUUID  `gorm:"type:uuid"`
	ClassifierSet   *ClassifierSet `gorm:"foreignKey:ClassifierSetId"`

	CreationTime   time.Time
	ScheduledTime  sql.NullTime
	CompletionTime sql.NullTime
}

type GradingWorkflow struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	SubmissionId uuid.UUID `gorm:"type:uuid;not null;index"`
	EssayText    string    `gorm:"not null"`

	RubricId uuid.UUID `gorm:"type:uuid;not null"`
	Rubric   *Rubric   `gorm:"foreignKey:RubricId"`

	AlgorithmId string `gorm:"size:50;not null"`
	CourseId    string `gorm:"size:255;not null;index:idx_grading_problem"`
	ItemId      string `gorm:"size:255;not null;index:idx_grading_problem"`

	ClassifierSetId uuid.NullUUID  `gorm:"type:uuid"`
	ClassifierSet   *ClassifierSet `gorm:"foreignKey:ClassifierSetId"`

	CreationTime   time.Time
	ScheduledTime  sql.NullTime
	CompletionTime sql.NullTime

	Scores []CriterionScore `gorm:"foreignKey:WorkflowId;constraint:OnDelete:CASCADE"`
}

type CriterionScore struct {
	WorkflowId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	CriterionName string    `gorm:"primaryKey"`
	Points        int       `gorm:"not null"`
}

type ClassifierSet struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	RubricId    uuid.UUID `gorm:"type:uuid;not null;index:idx_classifier_set_lookup"`
	AlgorithmId string    `gorm:"size:50;not null;index:idx_classifier_set_lookup"`

	CreationTime time.Time

	Classifiers []Classifier `gorm:"foreignKey:ClassifierSetId;constraint:OnDelete:CASCADE"`
}

type Classifier struct {
	ClassifierSetId uuid.UUID `gorm:"type:uuid;primaryKey"`
	CriterionName   string    `gorm:"primaryKey"`
	StoragePath     string    `gorm:"not null"`
}

type StudentTrainingWorkflow struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	StudentId string `gorm:"size:255;not null;uniqueIndex:idx_student_training_unique"`
	CourseId  string `gorm:"size:255;not null;uniqueIndex:idx_student_training_unique"`
	ItemId    string `gorm:"size:255;not null;uniqueIndex:idx_student_training_unique"`

	SubmissionId uuid.UUID `gorm:"type:uuid;not null"`
	CreationTime time.Time

	Items []StudentTrainingItem `gorm:"foreignKey:WorkflowId;constraint:OnDelete:CASCADE"`
}

type StudentTrainingItem struct {
	WorkflowId uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrderNum   int       `gorm:"primaryKey"`

	TrainingExampleId uuid.UUID `gorm:"type:uuid;not null"`

	Attempts       int            `gorm:"not null;default:0"`
	LastSelections datatypes.JSON `gorm:"type:jsonb"` // {"criterion": "option", …}

	StartedTime    time.Time
	CompletionTime sql.NullTime
}

type WorkflowError struct {
	WorkflowId uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error      string
	Timestamp  time.Time
}

func Migration0(db *gorm.DB) error {
	return db.AutoMigrate(
		&Rubric{}, &Criterion{}, &CriterionOption{}, &TrainingExample{}, &ExampleOption{},
		&TrainingWorkflow{}, &GradingWorkflow{}, &CriterionScore{}, &ClassifierSet{}, &Classifier{},
		&StudentTrainingWorkflow{}, &StudentTrainingItem{}, &WorkflowError{},
	)
}
