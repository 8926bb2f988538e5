package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCentroidTrainAndScore(t *testing.T) {
	algo := NewCentroidAlgorithm()

	examples := []Example{
		{Text: "the cat sat on the mat and purred softly", Score: 0},
		{Text: "a cat napped on a warm mat all day", Score: 0},
		{Text: "quantum entanglement links particle states across distance", Score: 2},
		{Text: "particle physics describes quantum states and entanglement", Score: 2},
	}

	classifier, err := algo.TrainClassifier(examples)
	require.NoError(t, err)

	score, err := algo.Score(classifier, "my cat loves sitting on the mat")
	require.NoError(t, err)
	assert.Equal(t, 0, score)

	score, err = algo.Score(classifier, "entanglement of quantum particle states")
	require.NoError(t, err)
	assert.Equal(t, 2, score)
}

func TestCentroidTrainRequiresExamples(t *testing.T) {
	algo := NewCentroidAlgorithm()

	_, err := algo.TrainClassifier(nil)
	assert.Error(t, err)
}

func TestCentroidScoreTieBreaksLow(t *testing.T) {
	algo := NewCentroidAlgorithm()

	// Identical centroids for both scores: the essay is equidistant, so the
	// lower score wins.
	examples := []Example{
		{Text: "alpha beta gamma", Score: 1},
		{Text: "alpha beta gamma", Score: 3},
	}

	classifier, err := algo.TrainClassifier(examples)
	require.NoError(t, err)

	score, err := algo.Score(classifier, "alpha beta gamma")
	require.NoError(t, err)
	assert.Equal(t, 1, score)
}

func TestCentroidScoreUnrelatedEssay(t *testing.T) {
	algo := NewCentroidAlgorithm()

	examples := []Example{
		{Text: "one two three", Score: 0},
		{Text: "four five six", Score: 1},
	}

	classifier, err := algo.TrainClassifier(examples)
	require.NoError(t, err)

	// No term overlap at all still produces a valid score.
	score, err := algo.Score(classifier, "zzz yyy xxx")
	require.NoError(t, err)
	assert.Contains(t, []int{0, 1}, score)
}

func TestCentroidScoreRejectsBadBlob(t *testing.T) {
	algo := NewCentroidAlgorithm()

	_, err := algo.Score([]byte("not json"), "essay")
	assert.Error(t, err)

	_, err = algo.Score([]byte(`{"centroids":{}}`), "essay")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	registry.Register(CentroidAlgorithmId, NewCentroidAlgorithm())

	algo, err := registry.Get(CentroidAlgorithmId)
	require.NoError(t, err)
	assert.NotNil(t, algo)

	_, err = registry.Get("nonexistent")
	assert.Error(t, err)
}
