package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"assess-backend/internal/api"
	"assess-backend/internal/assessment"
	"assess-backend/internal/database"
	"assess-backend/internal/messaging"
	"assess-backend/internal/scoring"
	"assess-backend/internal/storage"
	"assess-backend/internal/worker"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"gopkg.in/yaml.v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	Root         string `env:"ROOT" envDefault:"./assess-local"`
	Port         int    `env:"PORT" envDefault:"3001"`
	SeedFile     string `env:"SEED_FILE" envDefault:""`
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	OpenAIModel  string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
}

const classifierBucket = "classifiers"

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "assess.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var trainingWorkflows []database.TrainingWorkflow
	if err := db.Where("completion_time IS NULL").Find(&trainingWorkflows).Error; err != nil {
		log.Fatalf("Failed to fetch training workflows from database: %v", err)
	}

	var gradingWorkflows []database.GradingWorkflow
	if err := db.Where("completion_time IS NULL AND classifier_set_id IS NOT NULL").Find(&gradingWorkflows).Error; err != nil {
		log.Fatalf("Failed to fetch grading workflows from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, workflow := range trainingWorkflows {
		if err := queue.PublishTrainClassifiersTask(context.Background(), messaging.TrainClassifiersPayload{
			WorkflowId: workflow.Id,
		}); err != nil {
			log.Fatalf("Failed to publish training task: %v", err)
		}
	}

	for _, workflow := range gradingWorkflows {
		if err := queue.PublishGradeEssayTask(context.Background(), messaging.GradeEssayPayload{
			WorkflowId: workflow.Id,
		}); err != nil {
			log.Fatalf("Failed to publish grading task: %v", err)
		}
	}

	return queue
}

type seedOption struct {
	Name   string `yaml:"name"`
	Points int    `yaml:"points"`
}

type seedCriterion struct {
	Name    string       `yaml:"name"`
	Options []seedOption `yaml:"options"`
}

type seedExample struct {
	EssayText string            `yaml:"essay_text"`
	Selected  map[string]string `yaml:"selected"`
}

type seedProblem struct {
	CourseId    string          `yaml:"course_id"`
	ItemId      string          `yaml:"item_id"`
	AlgorithmId string          `yaml:"algorithm_id"`
	Criteria    []seedCriterion `yaml:"criteria"`
	Examples    []seedExample   `yaml:"examples"`
}

func seedProblems(db *gorm.DB, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read seed file: %v", err)
	}

	var problems []seedProblem
	if err := yaml.Unmarshal(data, &problems); err != nil {
		log.Fatalf("Failed to parse seed file: %v", err)
	}

	for _, problem := range problems {
		var existing int64
		if err := db.Model(&database.Rubric{}).Where("course_id = ? AND item_id = ?", problem.CourseId, problem.ItemId).Count(&existing).Error; err != nil {
			log.Fatalf("Failed to check for existing rubric: %v", err)
		}
		if existing > 0 {
			slog.Info("seed rubric already present, skipping", "course_id", problem.CourseId, "item_id", problem.ItemId)
			continue
		}

		rubric := database.Rubric{
			Id:           uuid.New(),
			CourseId:     problem.CourseId,
			ItemId:       problem.ItemId,
			AlgorithmId:  problem.AlgorithmId,
			CreationTime: time.Now().UTC(),
		}

		points := make(map[string]map[string]int)
		for i, criterion := range problem.Criteria {
			c := database.Criterion{RubricId: rubric.Id, Name: criterion.Name, OrderNum: i}
			points[criterion.Name] = make(map[string]int)
			for j, option := range criterion.Options {
				c.Options = append(c.Options, database.CriterionOption{
					RubricId:      rubric.Id,
					CriterionName: criterion.Name,
					Name:          option.Name,
					OrderNum:      j,
					Points:        option.Points,
				})
				points[criterion.Name][option.Name] = option.Points
			}
			rubric.Criteria = append(rubric.Criteria, c)
		}

		for i, example := range problem.Examples {
			e := database.TrainingExample{
				Id:        uuid.New(),
				RubricId:  rubric.Id,
				OrderNum:  i,
				EssayText: example.EssayText,
			}
			for criterion, option := range example.Selected {
				pts, ok := points[criterion][option]
				if !ok {
					log.Fatalf("Seed example selects unknown option '%s' for criterion '%s'", option, criterion)
				}
				e.Options = append(e.Options, database.ExampleOption{
					ExampleId:     e.Id,
					CriterionName: criterion,
					OptionName:    option,
					Points:        pts,
				})
			}
			rubric.TrainingExamples = append(rubric.TrainingExamples, e)
		}

		if err := db.Create(&rubric).Error; err != nil {
			log.Fatalf("Failed to create seed rubric: %v", err)
		}
		slog.Info("seeded rubric", "rubric_id", rubric.Id, "course_id", problem.CourseId, "item_id", problem.ItemId)
	}
}

func createServer(db *gorm.DB, engine *assessment.Engine, queue messaging.Publisher, port int) *http.Server {
	r := chi.NewRouter()

	// Middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, engine, queue)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port)

	db := createDatabase(cfg.Root)

	store := storage.NewLocalProvider(filepath.Join(cfg.Root, "storage"))
	if err := store.CreateBucket(context.Background(), classifierBucket); err != nil {
		log.Fatalf("Failed to create classifier bucket: %v", err)
	}

	if cfg.SeedFile != "" {
		seedProblems(db, cfg.SeedFile)
	}

	queue := createQueue(db)

	engine := assessment.NewEngine(db, store, queue, classifierBucket)

	algorithms := scoring.NewRegistry()
	algorithms.Register(scoring.CentroidAlgorithmId, scoring.NewCentroidAlgorithm())
	if cfg.OpenAIAPIKey != "" {
		llm, err := scoring.NewLLMAlgorithm(cfg.OpenAIModel, cfg.OpenAIAPIKey)
		if err != nil {
			log.Fatalf("Failed to create LLM scoring algorithm: %v", err)
		}
		algorithms.Register(scoring.LLMAlgorithmId, llm)
	}

	processor := worker.NewTaskProcessor(db, engine, queue, queue, algorithms)

	server := createServer(db, engine, queue, cfg.Port)

	slog.Info("starting worker")
	go processor.Start()

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	slog.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
