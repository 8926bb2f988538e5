package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"assess-backend/cmd"
	"assess-backend/internal/assessment"
	"assess-backend/internal/database"
	"assess-backend/internal/messaging"
	"assess-backend/internal/scoring"
	"assess-backend/internal/storage"
	"assess-backend/internal/worker"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	DatabaseURL          string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL          string `env:"RABBITMQ_URL,notEmpty,required"`
	S3EndpointURL        string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID        string `env:"AWS_ACCESS_KEY_ID,notEmpty,required"`
	S3SecretAccessKey    string `env:"AWS_SECRET_ACCESS_KEY,notEmpty,required"`
	S3Region             string `env:"AWS_REGION,notEmpty,required"`
	ClassifierBucketName string `env:"CLASSIFIER_BUCKET_NAME" envDefault:"classifiers"`
	OpenAIAPIKey         string `env:"OPENAI_API_KEY"`
	OpenAIModel          string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
}

func main() {
	log.Println("Starting Worker...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewS3Provider(&storage.S3ProviderConfig{
		S3EndpointURL:     cfg.S3EndpointURL,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		S3Region:          cfg.S3Region,
	})
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}

	if err := store.CreateBucket(context.Background(), cfg.ClassifierBucketName); err != nil {
		log.Fatalf("Failed to create classifier bucket: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ publisher: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ receiver: %v", err)
	}

	engine := assessment.NewEngine(db, store, publisher, cfg.ClassifierBucketName)

	algorithms := scoring.NewRegistry()
	algorithms.Register(scoring.CentroidAlgorithmId, scoring.NewCentroidAlgorithm())
	if cfg.OpenAIAPIKey != "" {
		llm, err := scoring.NewLLMAlgorithm(cfg.OpenAIModel, cfg.OpenAIAPIKey)
		if err != nil {
			log.Fatalf("Failed to create LLM scoring algorithm: %v", err)
		}
		algorithms.Register(scoring.LLMAlgorithmId, llm)
	} else {
		slog.Info("OPENAI_API_KEY not set, llm scoring algorithm disabled")
	}

	processor := worker.NewTaskProcessor(db, engine, receiver, publisher, algorithms)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down worker...")
		processor.Stop()
	}()

	processor.Start()

	log.Println("Worker stopped.")
}
