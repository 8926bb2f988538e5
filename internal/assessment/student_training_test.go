package assessment_test

import (
	"context"
	"encoding/json"
	"testing"

	"assess-backend/internal/assessment"
	"assess-backend/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStudentTrainingStatus(t *testing.T) {
	db := createDB(t)
	engine, _ := createEngine(t, db)
	rubric := createRubric(t, db, true)

	progress, err := engine.StudentTrainingStatus(context.Background(), "student-1", rubric.Id)
	require.NoError(t, err)

	assert.Equal(t, 0, progress.NumCompleted)
	assert.Equal(t, 2, progress.NumExamples)
	assert.False(t, progress.Complete)
	require.NotNil(t, progress.CurrentExample)
	assert.Equal(t, "the moon orbits the earth because of gravity", progress.CurrentExample.EssayText)

	// The same student gets the same workflow back on a second call.
	again, err := engine.StudentTrainingStatus(context.Background(), "student-1", rubric.Id)
	require.NoError(t, err)
	assert.Equal(t, progress.WorkflowId, again.WorkflowId)

	// A different student gets their own workflow.
	other, err := engine.StudentTrainingStatus(context.Background(), "student-2", rubric.Id)
	require.NoError(t, err)
	assert.NotEqual(t, progress.WorkflowId, other.WorkflowId)
}

func TestAssessTrainingExampleCorrect(t *testing.T) {
	db := createDB(t)
	engine, _ := createEngine(t, db)
	rubric := createRubric(t, db, true)

	result, err := engine.AssessTrainingExample(context.Background(), "student-1", rubric.Id, map[string]string{
		"thesis":   "strong",
		"evidence": "cited",
	})
	require.NoError(t, err)

	assert.True(t, result.Correct)
	assert.Empty(t, result.Corrections)
	assert.Equal(t, 1, result.Progress.NumCompleted)
	assert.False(t, result.Progress.Complete)

	var items []database.StudentTrainingItem
	require.NoError(t, db.Find(&items, "workflow_id = ?", result.Progress.WorkflowId).Error)
	require.Len(t, items, 1)
	assert.True(t, items[0].CompletionTime.Valid)
	assert.Equal(t, 1, items[0].Attempts)

	var selections map[string]string
	require.NoError(t, json.Unmarshal(items[0].LastSelections, &selections))
	assert.Equal(t, map[string]string{"thesis": "strong", "evidence": "cited"}, selections)
}

func TestAssessTrainingExampleIncorrect(t *testing.T) {
	db := createDB(t)
	engine, _ := createEngine(t, db)
	rubric := createRubric(t, db, true)

	result, err := engine.AssessTrainingExample(context.Background(), "student-1", rubric.Id, map[string]string{
		"thesis":   "weak",
		"evidence": "cited",
	})
	require.NoError(t, err)

	assert.False(t, result.Correct)
	assert.Equal(t, map[string]string{"thesis": "strong"}, result.Corrections)
	assert.Equal(t, 0, result.Progress.NumCompleted)

	// An incorrect attempt does not advance; the same example comes back.
	progress, err := engine.StudentTrainingStatus(context.Background(), "student-1", rubric.Id)
	require.NoError(t, err)
	require.NotNil(t, progress.CurrentExample)
	assert.Equal(t, "the moon orbits the earth because of gravity", progress.CurrentExample.EssayText)

	// Each attempt is recorded on the item.
	var item database.StudentTrainingItem
	require.NoError(t, db.First(&item, "workflow_id = ? AND order_num = 0", result.Progress.WorkflowId).Error)
	assert.Equal(t, 1, item.Attempts)
	assert.False(t, item.CompletionTime.Valid)
}

func TestAssessTrainingExampleToCompletion(t *testing.T) {
	db := createDB(t)
	engine, _ := createEngine(t, db)
	rubric := createRubric(t, db, true)

	first, err := engine.AssessTrainingExample(context.Background(), "student-1", rubric.Id, map[string]string{
		"thesis":   "strong",
		"evidence": "cited",
	})
	require.NoError(t, err)
	require.True(t, first.Correct)

	second, err := engine.AssessTrainingExample(context.Background(), "student-1", rubric.Id, map[string]string{
		"thesis":   "weak",
		"evidence": "none",
	})
	require.NoError(t, err)
	require.True(t, second.Correct)
	assert.Equal(t, 2, second.Progress.NumCompleted)
	assert.True(t, second.Progress.Complete)

	progress, err := engine.StudentTrainingStatus(context.Background(), "student-1", rubric.Id)
	require.NoError(t, err)
	assert.True(t, progress.Complete)
	assert.Nil(t, progress.CurrentExample)

	_, err = engine.AssessTrainingExample(context.Background(), "student-1", rubric.Id, map[string]string{
		"thesis": "weak",
	})
	assert.ErrorIs(t, err, assessment.ErrTrainingComplete)
}

func TestAssessTrainingExampleValidatesSelections(t *testing.T) {
	db := createDB(t)
	engine, _ := createEngine(t, db)
	rubric := createRubric(t, db, true)

	_, err := engine.AssessTrainingExample(context.Background(), "student-1", rubric.Id, map[string]string{
		"grammar": "strong",
	})
	assert.ErrorIs(t, err, assessment.ErrUnknownCriterion)

	_, err = engine.AssessTrainingExample(context.Background(), "student-1", rubric.Id, map[string]string{
		"thesis": "excellent",
	})
	assert.ErrorIs(t, err, assessment.ErrUnknownOption)

	// Validation failures must not consume the attempt or create items.
	var count int64
	require.NoError(t, db.Model(&database.StudentTrainingItem{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestAssessTrainingExampleUnknownRubric(t *testing.T) {
	db := createDB(t)
	engine, _ := createEngine(t, db)

	_, err := engine.AssessTrainingExample(context.Background(), "student-1", uuid.New(), map[string]string{})
	assert.ErrorIs(t, err, assessment.ErrRubricNotFound)
}
