package api

import (
	"errors"
	"log/slog"
	"net/http"

	"assess-backend/internal/database"
	"assess-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *BackendService) GetStudentTraining(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.StudentTrainingQuery](r)
	if err != nil {
		return nil, err
	}
	if params.StudentId == "" || params.ProblemId == uuid.Nil {
		return nil, CodedErrorf(http.StatusBadRequest, "student_id and problem_id query params are required")
	}

	progress, err := s.engine.StudentTrainingStatus(r.Context(), params.StudentId, params.ProblemId)
	if err != nil {
		return nil, domainError(err)
	}

	status := api.StudentTrainingStatus{
		NumCompleted: progress.NumCompleted,
		NumExamples:  progress.NumExamples,
		Complete:     progress.Complete,
	}

	if progress.CurrentExample != nil {
		var rubric database.Rubric
		err := s.db.WithContext(r.Context()).
			Preload("Criteria", func(db *gorm.DB) *gorm.DB { return db.Order("order_num") }).
			Preload("Criteria.Options", func(db *gorm.DB) *gorm.DB { return db.Order("order_num") }).
			First(&rubric, "id = ?", params.ProblemId).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, CodedErrorf(http.StatusNotFound, "problem not found")
			}
			slog.Error("error getting problem", "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving problem")
		}

		// The learner scores the example against the rubric criteria; the
		// author's selections stay server side.
		status.Example = &api.TrainingExample{
			EssayText: progress.CurrentExample.EssayText,
			Criteria:  convertCriteria(rubric.Criteria),
		}
	}

	return status, nil
}

func (s *BackendService) AssessStudentTraining(r *http.Request) (any, error) {
	req, err := ParseRequest[api.TrainingAssessRequest](r)
	if err != nil {
		return nil, err
	}
	if req.StudentId == "" || req.ProblemId == uuid.Nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "missing required fields: student_id, problem_id")
	}
	if len(req.OptionsSelected) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "options_selected is required")
	}

	result, err := s.engine.AssessTrainingExample(r.Context(), req.StudentId, req.ProblemId, req.OptionsSelected)
	if err != nil {
		return nil, domainError(err)
	}

	return api.TrainingAssessResponse{
		Correct:      result.Correct,
		Corrections:  result.Corrections,
		NumCompleted: result.Progress.NumCompleted,
		NumExamples:  result.Progress.NumExamples,
		Complete:     result.Progress.Complete,
	}, nil
}
