package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"assess-backend/internal/assessment"
	"assess-backend/internal/database"
	"assess-backend/internal/messaging"
	"assess-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BackendService struct {
	db        *gorm.DB
	engine    *assessment.Engine
	publisher messaging.Publisher
}

func NewBackendService(db *gorm.DB, engine *assessment.Engine, publisher messaging.Publisher) *BackendService {
	return &BackendService{db: db, engine: engine, publisher: publisher}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/problems", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateProblem))
		r.Get("/", RestHandler(s.ListProblems))
		r.Get("/{problem_id}", RestHandler(s.GetProblem))
		r.Post("/{problem_id}/train", RestHandler(s.TrainProblem))
		r.Post("/{problem_id}/reschedule", RestHandler(s.RescheduleProblem))
	})
	r.Route("/training", func(r chi.Router) {
		r.Get("/{workflow_id}", RestHandler(s.GetTrainingWorkflow))
	})
	r.Route("/submissions", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitEssay))
		r.Get("/{workflow_id}", RestHandler(s.GetGradingWorkflow))
	})
	r.Route("/student-training", func(r chi.Router) {
		r.Get("/", RestHandler(s.GetStudentTraining))
		r.Post("/assess", RestHandler(s.AssessStudentTraining))
	})
}

// domainError translates assessment package sentinels into coded HTTP errors.
func domainError(err error) error {
	switch {
	case errors.Is(err, assessment.ErrRubricNotFound):
		return CodedError(http.StatusNotFound, err)
	case errors.Is(err, assessment.ErrWorkflowNotFound):
		return CodedError(http.StatusNotFound, err)
	case errors.Is(err, assessment.ErrNoTrainingExamples):
		return CodedError(http.StatusUnprocessableEntity, err)
	case errors.Is(err, assessment.ErrUnknownCriterion), errors.Is(err, assessment.ErrUnknownOption):
		return CodedError(http.StatusBadRequest, err)
	case errors.Is(err, assessment.ErrTrainingComplete):
		return CodedError(http.StatusUnprocessableEntity, err)
	default:
		return CodedError(http.StatusInternalServerError, err)
	}
}

func (s *BackendService) CreateProblem(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateProblemRequest](r)
	if err != nil {
		return nil, err
	}

	if req.CourseId == "" || req.ItemId == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "course_id and item_id are required")
	}
	if req.AlgorithmId == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "algorithm_id is required")
	}
	if len(req.Criteria) == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "rubric must have at least one criterion")
	}

	rubric := database.Rubric{
		Id:           uuid.New(),
		CourseId:     req.CourseId,
		ItemId:       req.ItemId,
		AlgorithmId:  req.AlgorithmId,
		CreationTime: time.Now().UTC(),
	}

	criterionOptions := make(map[string]map[string]int)
	for i, criterion := range req.Criteria {
		if criterion.Name == "" {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "criterion name is required")
		}
		if _, exists := criterionOptions[criterion.Name]; exists {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "duplicate criterion '%s'", criterion.Name)
		}
		if len(criterion.Options) == 0 {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "criterion '%s' must have at least one option", criterion.Name)
		}

		options := make(map[string]int)
		dbCriterion := database.Criterion{RubricId: rubric.Id, Name: criterion.Name, OrderNum: i}
		for j, option := range criterion.Options {
			if option.Name == "" {
				return nil, CodedErrorf(http.StatusUnprocessableEntity, "option name is required for criterion '%s'", criterion.Name)
			}
			if _, exists := options[option.Name]; exists {
				return nil, CodedErrorf(http.StatusUnprocessableEntity, "duplicate option '%s' for criterion '%s'", option.Name, criterion.Name)
			}
			options[option.Name] = option.Points
			dbCriterion.Options = append(dbCriterion.Options, database.CriterionOption{
				RubricId:      rubric.Id,
				CriterionName: criterion.Name,
				Name:          option.Name,
				OrderNum:      j,
				Points:        option.Points,
			})
		}
		criterionOptions[criterion.Name] = options
		rubric.Criteria = append(rubric.Criteria, dbCriterion)
	}

	for i, example := range req.TrainingExamples {
		if example.EssayText == "" {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "training example %d has no essay text", i)
		}

		dbExample := database.TrainingExample{
			Id:        uuid.New(),
			RubricId:  rubric.Id,
			OrderNum:  i,
			EssayText: example.EssayText,
		}

		// Every criterion needs an author-selected option so the example can
		// serve as both a training sample and a student training answer key.
		for name, options := range criterionOptions {
			selected, ok := example.OptionsSelected[name]
			if !ok {
				return nil, CodedErrorf(http.StatusUnprocessableEntity, "training example %d does not select an option for criterion '%s'", i, name)
			}
			points, ok := options[selected]
			if !ok {
				return nil, CodedErrorf(http.StatusUnprocessableEntity, "training example %d selects unknown option '%s' for criterion '%s'", i, selected, name)
			}
			dbExample.Options = append(dbExample.Options, database.ExampleOption{
				ExampleId:     dbExample.Id,
				CriterionName: name,
				OptionName:    selected,
				Points:        points,
			})
		}

		for name := range example.OptionsSelected {
			if _, ok := criterionOptions[name]; !ok {
				return nil, CodedErrorf(http.StatusUnprocessableEntity, "training example %d selects an option for unknown criterion '%s'", i, name)
			}
		}

		rubric.TrainingExamples = append(rubric.TrainingExamples, dbExample)
	}

	if err := s.db.WithContext(r.Context()).Create(&rubric).Error; err != nil {
		slog.Error("error creating problem", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create problem")
	}

	slog.Info("created problem", "problem_id", rubric.Id, "course_id", rubric.CourseId, "item_id", rubric.ItemId)
	return api.CreateProblemResponse{ProblemId: rubric.Id}, nil
}

func (s *BackendService) GetProblem(r *http.Request) (any, error) {
	problemId, err := URLParamUUID(r, "problem_id")
	if err != nil {
		return nil, err
	}

	var rubric database.Rubric
	err = s.db.WithContext(r.Context()).
		Preload("Criteria", func(db *gorm.DB) *gorm.DB { return db.Order("order_num") }).
		Preload("Criteria.Options", func(db *gorm.DB) *gorm.DB { return db.Order("order_num") }).
		Preload("TrainingExamples").
		First(&rubric, "id = ?", problemId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "problem not found")
		}
		slog.Error("error getting problem", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving problem")
	}

	return convertProblem(rubric), nil
}

func (s *BackendService) ListProblems(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListProblemsQuery](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).
		Preload("Criteria", func(db *gorm.DB) *gorm.DB { return db.Order("order_num") }).
		Preload("Criteria.Options", func(db *gorm.DB) *gorm.DB { return db.Order("order_num") }).
		Preload("TrainingExamples")
	if params.CourseId != "" {
		query = query.Where("course_id = ?", params.CourseId)
	}
	if params.ItemId != "" {
		query = query.Where("item_id = ?", params.ItemId)
	}

	var rubrics []database.Rubric
	if err := query.Order("creation_time").Find(&rubrics).Error; err != nil {
		slog.Error("error listing problems", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing problems")
	}

	problems := make([]api.Problem, len(rubrics))
	for i, rubric := range rubrics {
		problems[i] = convertProblem(rubric)
	}
	return problems, nil
}

func (s *BackendService) TrainProblem(r *http.Request) (any, error) {
	problemId, err := URLParamUUID(r, "problem_id")
	if err != nil {
		return nil, err
	}

	workflow, err := s.engine.CreateTrainingWorkflow(r.Context(), problemId)
	if err != nil {
		return nil, domainError(err)
	}

	return api.TrainResponse{WorkflowId: workflow.Id}, nil
}

func (s *BackendService) GetTrainingWorkflow(r *http.Request) (any, error) {
	workflowId, err := URLParamUUID(r, "workflow_id")
	if err != nil {
		return nil, err
	}

	var workflow database.TrainingWorkflow
	if err := s.db.WithContext(r.Context()).First(&workflow, "id = ?", workflowId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "training workflow not found")
		}
		slog.Error("error getting training workflow", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving training workflow")
	}

	return convertTrainingWorkflow(workflow), nil
}

func (s *BackendService) SubmitEssay(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SubmitEssayRequest](r)
	if err != nil {
		return nil, err
	}

	if req.ProblemId == uuid.Nil || req.EssayText == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "missing required fields: problem_id, essay_text")
	}

	submissionId := req.SubmissionId
	if submissionId == uuid.Nil {
		submissionId = uuid.New()
	}

	workflow, err := s.engine.CreateGradingWorkflow(r.Context(), submissionId, req.EssayText, req.ProblemId)
	if err != nil {
		return nil, domainError(err)
	}

	return api.SubmitEssayResponse{
		WorkflowId: workflow.Id,
		Status:     workflowStatus(workflow.ScheduledTime, workflow.CompletionTime),
	}, nil
}

func (s *BackendService) GetGradingWorkflow(r *http.Request) (any, error) {
	workflowId, err := URLParamUUID(r, "workflow_id")
	if err != nil {
		return nil, err
	}

	var workflow database.GradingWorkflow
	err = s.db.WithContext(r.Context()).Preload("Scores").First(&workflow, "id = ?", workflowId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "grading workflow not found")
		}
		slog.Error("error getting grading workflow", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving grading workflow")
	}

	return convertGradingWorkflow(workflow), nil
}

func (s *BackendService) RescheduleProblem(r *http.Request) (any, error) {
	problemId, err := URLParamUUID(r, "problem_id")
	if err != nil {
		return nil, err
	}

	var rubric database.Rubric
	if err := s.db.WithContext(r.Context()).First(&rubric, "id = ?", problemId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "problem not found")
		}
		slog.Error("error getting problem", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving problem")
	}

	scheduled, pending, err := s.engine.RescheduleGradingTasks(r.Context(), rubric.CourseId, rubric.ItemId)
	if err != nil {
		return nil, domainError(err)
	}

	trained, err := s.engine.RescheduleTrainingTasks(r.Context(), rubric.CourseId, rubric.ItemId)
	if err != nil {
		return nil, domainError(err)
	}

	return api.RescheduleResponse{
		GradingScheduled:  scheduled,
		GradingPending:    pending,
		TrainingScheduled: trained,
	}, nil
}
