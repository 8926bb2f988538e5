package assessment_test

import (
	"context"
	"testing"
	"time"

	"assess-backend/internal/assessment"
	"assess-backend/internal/database"
	"assess-backend/internal/messaging"
	"assess-backend/internal/scoring"
	"assess-backend/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testBucket = "classifiers"

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

func createEngine(t *testing.T, db *gorm.DB) (*assessment.Engine, *messaging.InMemoryQueue) {
	store := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, store.CreateBucket(context.Background(), testBucket))

	queue := messaging.NewInMemoryQueue()
	return assessment.NewEngine(db, store, queue, testBucket), queue
}

// Rubric with two criteria (thesis: weak/strong, evidence: none/cited) and
// two training examples.
func createRubric(t *testing.T, db *gorm.DB, withExamples bool) database.Rubric {
	rubric := database.Rubric{
		Id:           uuid.New(),
		CourseId:     "course-1",
		ItemId:       "essay-1",
		AlgorithmId:  scoring.CentroidAlgorithmId,
		CreationTime: time.Now().UTC(),
		Criteria: []database.Criterion{
			{Name: "thesis", OrderNum: 0, Options: []database.CriterionOption{
				{CriterionName: "thesis", Name: "weak", OrderNum: 0, Points: 1},
				{CriterionName: "thesis", Name: "strong", OrderNum: 1, Points: 3},
			}},
			{Name: "evidence", OrderNum: 1, Options: []database.CriterionOption{
				{CriterionName: "evidence", Name: "none", OrderNum: 0, Points: 0},
				{CriterionName: "evidence", Name: "cited", OrderNum: 1, Points: 2},
			}},
		},
	}
	for i := range rubric.Criteria {
		rubric.Criteria[i].RubricId = rubric.Id
		for j := range rubric.Criteria[i].Options {
			rubric.Criteria[i].Options[j].RubricId = rubric.Id
		}
	}

	if withExamples {
		examples := []struct {
			essay    string
			thesis   string
			evidence string
		}{
			{"the moon orbits the earth because of gravity", "strong", "cited"},
			{"i think space is big", "weak", "none"},
		}
		for i, e := range examples {
			example := database.TrainingExample{
				Id:        uuid.New(),
				RubricId:  rubric.Id,
				OrderNum:  i,
				EssayText: e.essay,
			}
			thesisPoints, evidencePoints := 1, 0
			if e.thesis == "strong" {
				thesisPoints = 3
			}
			if e.evidence == "cited" {
				evidencePoints = 2
			}
			example.Options = []database.ExampleOption{
				{ExampleId: example.Id, CriterionName: "thesis", OptionName: e.thesis, Points: thesisPoints},
				{ExampleId: example.Id, CriterionName: "evidence", OptionName: e.evidence, Points: evidencePoints},
			}
			rubric.TrainingExamples = append(rubric.TrainingExamples, example)
		}
	}

	require.NoError(t, db.Create(&rubric).Error)
	return rubric
}

func drainTasks(queue *messaging.InMemoryQueue) []messaging.Task {
	var tasks []messaging.Task
	for {
		select {
		case task := <-queue.Tasks():
			tasks = append(tasks, task)
		default:
			return tasks
		}
	}
}

func classifierBlobs(rubric database.Rubric) map[string][]byte {
	blobs := make(map[string][]byte)
	for _, criterion := range rubric.Criteria {
		blobs[criterion.Name] = []byte("classifier for " + criterion.Name)
	}
	return blobs
}

func TestCreateTrainingWorkflow(t *testing.T) {
	db := createDB(t)
	engine, queue := createEngine(t, db)
	rubric := createRubric(t, db, true)

	workflow, err := engine.CreateTrainingWorkflow(context.Background(), rubric.Id)
	require.NoError(t, err)

	tasks := drainTasks(queue)
	require.Len(t, tasks, 1)
	assert.Equal(t, messaging.TrainClassifiersQueue, tasks[0].Type())

	var stored database.TrainingWorkflow
	require.NoError(t, db.First(&stored, "id = ?", workflow.Id).Error)
	assert.Equal(t, rubric.Id, stored.RubricId)
	assert.Equal(t, scoring.CentroidAlgorithmId, stored.AlgorithmId)
	assert.True(t, stored.ScheduledTime.Valid)
	assert.False(t, stored.CompletionTime.Valid)
}

func TestCreateTrainingWorkflowRequiresExamples(t *testing.T) {
	db := createDB(t)
	engine, queue := createEngine(t, db)
	rubric := createRubric(t, db, false)

	_, err := engine.CreateTrainingWorkflow(context.Background(), rubric.Id)
	assert.ErrorIs(t, err, assessment.ErrNoTrainingExamples)
	assert.Empty(t, drainTasks(queue))
}

func TestCreateTrainingWorkflowUnknownRubric(t *testing.T) {
	db := createDB(t)
	engine, _ := createEngine(t, db)

	_, err := engine.CreateTrainingWorkflow(context.Background(), uuid.New())
	assert.ErrorIs(t, err, assessment.ErrRubricNotFound)
}

func TestGetTrainingTaskParams(t *testing.T) {
	db := createDB(t)
	engine, _ := createEngine(t, db)
	rubric := createRubric(t, db, true)

	workflow, err := engine.CreateTrainingWorkflow(context.Background(), rubric.Id)
	require.NoError(t, err)

	params, err := engine.GetTrainingTaskParams(context.Background(), workflow.Id)
	require.NoError(t, err)

	assert.Equal(t, scoring.CentroidAlgorithmId, params.AlgorithmId)
	require.Len(t, params.Examples, 2)
	assert.ElementsMatch(t, []scoring.Example{
		{Text: "the moon orbits the earth because of gravity", Score: 3},
		{Text: "i think space is big", Score: 1},
	}, params.Examples["thesis"])
	assert.ElementsMatch(t, []scoring.Example{
		{Text: "the moon orbits the earth because of gravity", Score: 2},
		{Text: "i think space is big", Score: 0},
	}, params.Examples["evidence"])
}

func TestCreateClassifiers(t *testing.T) {
	db := createDB(t)
	engine, queue := createEngine(t, db)
	rubric := createRubric(t, db, true)

	workflow, err := engine.CreateTrainingWorkflow(context.Background(), rubric.Id)
	require.NoError(t, err)
	drainTasks(queue)

	require.NoError(t, engine.CreateClassifiers(context.Background(), workflow.Id, classifierBlobs(rubric)))

	var stored database.TrainingWorkflow
	require.NoError(t, db.First(&stored, "id = ?", workflow.Id).Error)
	assert.True(t, stored.CompletionTime.Valid)
	assert.True(t, stored.ClassifierSetId.Valid)

	var set database.ClassifierSet
	require.NoError(t, db.Preload("Classifiers").First(&set, "id = ?", stored.ClassifierSetId.UUID).Error)
	assert.Equal(t, rubric.Id, set.RubricId)
	assert.Len(t, set.Classifiers, 2)
}

func TestCreateClassifiersIdempotent(t *testing.T) {
	db := createDB(t)
	engine, queue := createEngine(t, db)
	rubric := createRubric(t, db, true)

	workflow, err := engine.CreateTrainingWorkflow(context.Background(), rubric.Id)
	require.NoError(t, err)
	drainTasks(queue)

	require.NoError(t, engine.CreateClassifiers(context.Background(), workflow.Id, classifierBlobs(rubric)))

	// Duplicate delivery of the same task must not create a second set.
	require.NoError(t, engine.CreateClassifiers(context.Background(), workflow.Id, classifierBlobs(rubric)))

	var count int64
	require.NoError(t, db.Model(&database.ClassifierSet{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateClassifiersIncompleteSet(t *testing.T) {
	db := createDB(t)
	engine, queue := createEngine(t, db)
	rubric := createRubric(t, db, true)

	workflow, err := engine.CreateTrainingWorkflow(context.Background(), rubric.Id)
	require.NoError(t, err)
	drainTasks(queue)

	blobs := classifierBlobs(rubric)
	delete(blobs, "evidence")

	err = engine.CreateClassifiers(context.Background(), workflow.Id, blobs)
	assert.ErrorIs(t, err, assessment.ErrIncompleteClassifierSet)

	var stored database.TrainingWorkflow
	require.NoError(t, db.First(&stored, "id = ?", workflow.Id).Error)
	assert.False(t, stored.CompletionTime.Valid)
}

func TestGradingWaitsForClassifiers(t *testing.T) {
	db := createDB(t)
	engine, queue := createEngine(t, db)
	rubric := createRubric(t, db, true)

	grading, err := engine.CreateGradingWorkflow(context.Background(), uuid.New(), "an essay about the moon", rubric.Id)
	require.NoError(t, err)
	assert.False(t, grading.ClassifierSetId.Valid)
	assert.Empty(t, drainTasks(queue))

	training, err := engine.CreateTrainingWorkflow(context.Background(), rubric.Id)
	require.NoError(t, err)
	drainTasks(queue)

	// Completing training reschedules the grading workflow that was waiting.
	require.NoError(t, engine.CreateClassifiers(context.Background(), training.Id, classifierBlobs(rubric)))

	tasks := drainTasks(queue)
	require.Len(t, tasks, 1)
	assert.Equal(t, messaging.GradeEssayQueue, tasks[0].Type())

	var stored database.GradingWorkflow
	require.NoError(t, db.First(&stored, "id = ?", grading.Id).Error)
	assert.True(t, stored.ClassifierSetId.Valid)
	assert.True(t, stored.ScheduledTime.Valid)
}

func TestGradingSchedulesImmediatelyWithClassifiers(t *testing.T) {
	db := createDB(t)
	engine, queue := createEngine(t, db)
	rubric := createRubric(t, db, true)

	training, err := engine.CreateTrainingWorkflow(context.Background(), rubric.Id)
	require.NoError(t, err)
	require.NoError(t, engine.CreateClassifiers(context.Background(), training.Id, classifierBlobs(rubric)))
	drainTasks(queue)

	grading, err := engine.CreateGradingWorkflow(context.Background(), uuid.New(), "an essay about the moon", rubric.Id)
	require.NoError(t, err)
	assert.True(t, grading.ClassifierSetId.Valid)

	tasks := drainTasks(queue)
	require.Len(t, tasks, 1)
	assert.Equal(t, messaging.GradeEssayQueue, tasks[0].Type())
}

func TestGetGradingTaskParams(t *testing.T) {
	db := createDB(t)
	engine, queue := createEngine(t, db)
	rubric := createRubric(t, db, true)

	training, err := engine.CreateTrainingWorkflow(context.Background(), rubric.Id)
	require.NoError(t, err)
	require.NoError(t, engine.CreateClassifiers(context.Background(), training.Id, classifierBlobs(rubric)))
	drainTasks(queue)

	grading, err := engine.CreateGradingWorkflow(context.Background(), uuid.New(), "an essay about the moon", rubric.Id)
	require.NoError(t, err)

	params, err := engine.GetGradingTaskParams(context.Background(), grading.Id)
	require.NoError(t, err)
	assert.Equal(t, "an essay about the moon", params.EssayText)
	assert.Equal(t, scoring.CentroidAlgorithmId, params.AlgorithmId)
	assert.Equal(t, []byte("classifier for thesis"), params.Classifiers["thesis"])
	assert.Equal(t, []byte("classifier for evidence"), params.Classifiers["evidence"])
}

func TestGetGradingTaskParamsMissingClassifierSet(t *testing.T) {
	db := createDB(t)
	engine, _ := createEngine(t, db)
	rubric := createRubric(t, db, true)

	grading, err := engine.CreateGradingWorkflow(context.Background(), uuid.New(), "an essay about the moon", rubric.Id)
	require.NoError(t, err)

	_, err = engine.GetGradingTaskParams(context.Background(), grading.Id)
	assert.ErrorIs(t, err, assessment.ErrMissingClassifierSet)
}

func TestCreateAssessmentIdempotent(t *testing.T) {
	db := createDB(t)
	engine, queue := createEngine(t, db)
	rubric := createRubric(t, db, true)

	training, err := engine.CreateTrainingWorkflow(context.Background(), rubric.Id)
	require.NoError(t, err)
	require.NoError(t, engine.CreateClassifiers(context.Background(), training.Id, classifierBlobs(rubric)))
	drainTasks(queue)

	grading, err := engine.CreateGradingWorkflow(context.Background(), uuid.New(), "an essay about the moon", rubric.Id)
	require.NoError(t, err)

	require.NoError(t, engine.CreateAssessment(context.Background(), grading.Id, map[string]int{"thesis": 3, "evidence": 2}))

	// A redelivered task must not duplicate or overwrite the scores.
	require.NoError(t, engine.CreateAssessment(context.Background(), grading.Id, map[string]int{"thesis": 1, "evidence": 0}))

	var scores []database.CriterionScore
	require.NoError(t, db.Find(&scores, "workflow_id = ?", grading.Id).Error)
	assert.ElementsMatch(t, []database.CriterionScore{
		{WorkflowId: grading.Id, CriterionName: "thesis", Points: 3},
		{WorkflowId: grading.Id, CriterionName: "evidence", Points: 2},
	}, scores)

	var stored database.GradingWorkflow
	require.NoError(t, db.First(&stored, "id = ?", grading.Id).Error)
	assert.True(t, stored.CompletionTime.Valid)
}

func TestRescheduleTrainingTasks(t *testing.T) {
	db := createDB(t)
	engine, queue := createEngine(t, db)
	rubric := createRubric(t, db, true)

	workflow, err := engine.CreateTrainingWorkflow(context.Background(), rubric.Id)
	require.NoError(t, err)
	drainTasks(queue)

	count, err := engine.RescheduleTrainingTasks(context.Background(), rubric.CourseId, rubric.ItemId)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	tasks := drainTasks(queue)
	require.Len(t, tasks, 1)
	assert.Equal(t, messaging.TrainClassifiersQueue, tasks[0].Type())

	// Complete workflows are not rescheduled.
	require.NoError(t, engine.CreateClassifiers(context.Background(), workflow.Id, classifierBlobs(rubric)))
	drainTasks(queue)

	count, err = engine.RescheduleTrainingTasks(context.Background(), rubric.CourseId, rubric.ItemId)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, drainTasks(queue))
}

func TestRescheduleGradingTasksCountsPending(t *testing.T) {
	db := createDB(t)
	engine, queue := createEngine(t, db)
	rubric := createRubric(t, db, true)

	_, err := engine.CreateGradingWorkflow(context.Background(), uuid.New(), "essay one", rubric.Id)
	require.NoError(t, err)
	_, err = engine.CreateGradingWorkflow(context.Background(), uuid.New(), "essay two", rubric.Id)
	require.NoError(t, err)
	drainTasks(queue)

	scheduled, pending, err := engine.RescheduleGradingTasks(context.Background(), rubric.CourseId, rubric.ItemId)
	require.NoError(t, err)
	assert.Equal(t, 0, scheduled)
	assert.Equal(t, 2, pending)
	assert.Empty(t, drainTasks(queue))
}
