package scoring

import (
	"fmt"
)

// Example is one author-scored essay for a single rubric criterion.
type Example struct {
	Text  string
	Score int
}

// Algorithm trains a serializable classifier for one rubric criterion and
// scores essays with it. Implementations must produce blobs that can be
// stored and reloaded independently of the process that trained them.
type Algorithm interface {
	TrainClassifier(examples []Example) ([]byte, error)

	Score(classifier []byte, essay string) (int, error)
}

const (
	CentroidAlgorithmId = "centroid"
	LLMAlgorithmId      = "llm"
)

type Registry struct {
	algorithms map[string]Algorithm
}

func NewRegistry() *Registry {
	return &Registry{algorithms: make(map[string]Algorithm)}
}

func (r *Registry) Register(id string, algo Algorithm) {
	r.algorithms[id] = algo
}

func (r *Registry) Get(id string) (Algorithm, error) {
	algo, ok := r.algorithms[id]
	if !ok {
		return nil, fmt.Errorf("unknown algorithm id '%s'", id)
	}
	return algo, nil
}
