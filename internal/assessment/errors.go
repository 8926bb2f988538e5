package assessment

import "errors"

// Request errors: the caller supplied something invalid.
var (
	ErrRubricNotFound          = errors.New("rubric not found")
	ErrWorkflowNotFound        = errors.New("workflow not found")
	ErrIncompleteClassifierSet = errors.New("classifier set does not cover every rubric criterion")
	ErrUnknownCriterion        = errors.New("selected option references an unknown criterion")
	ErrUnknownOption           = errors.New("selected option name is not part of the criterion")
	ErrTrainingComplete        = errors.New("student training is already complete")
)

// Internal errors: invariants were violated, the workflow should never have
// reached this state.
var (
	ErrNoTrainingExamples   = errors.New("training workflow has no training examples")
	ErrMissingClassifierSet = errors.New("grading workflow has no classifier set assigned")
)
