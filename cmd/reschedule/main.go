package main

import (
	"context"
	"fmt"
	"log"

	"assess-backend/cmd"
	"assess-backend/internal/assessment"
	"assess-backend/internal/database"
	"assess-backend/internal/messaging"
	"assess-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/schollz/progressbar/v3"
)

// Sweeps every problem and reschedules stalled training and grading
// workflows. Intended to be run by an operator after an outage or a
// dropped-task incident.

type RescheduleConfig struct {
	DatabaseURL          string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL          string `env:"RABBITMQ_URL,notEmpty,required"`
	S3EndpointURL        string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID        string `env:"AWS_ACCESS_KEY_ID,notEmpty,required"`
	S3SecretAccessKey    string `env:"AWS_SECRET_ACCESS_KEY,notEmpty,required"`
	S3Region             string `env:"AWS_REGION,notEmpty,required"`
	ClassifierBucketName string `env:"CLASSIFIER_BUCKET_NAME" envDefault:"classifiers"`
}

func main() {
	cmd.LoadEnvFile()

	var cfg RescheduleConfig
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

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	engine := assessment.NewEngine(db, store, publisher, cfg.ClassifierBucketName)

	var problems []struct {
		CourseId string
		ItemId   string
	}
	if err := db.Model(&database.Rubric{}).Distinct("course_id", "item_id").Find(&problems).Error; err != nil {
		log.Fatalf("Failed to list problems: %v", err)
	}

	bar := progressbar.NewOptions(len(problems),
		progressbar.OptionSetDescription("rescheduling"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	ctx := context.Background()

	var totalTraining, totalGrading, totalPending int
	for _, problem := range problems {
		trained, err := engine.RescheduleTrainingTasks(ctx, problem.CourseId, problem.ItemId)
		if err != nil {
			log.Fatalf("Failed to reschedule training for course '%s' item '%s': %v", problem.CourseId, problem.ItemId, err)
		}
		totalTraining += trained

		scheduled, pending, err := engine.RescheduleGradingTasks(ctx, problem.CourseId, problem.ItemId)
		if err != nil {
			log.Fatalf("Failed to reschedule grading for course '%s' item '%s': %v", problem.CourseId, problem.ItemId, err)
		}
		totalGrading += scheduled
		totalPending += pending

		_ = bar.Add(1)
	}

	fmt.Printf("rescheduled %d training and %d grading workflows across %d problems (%d grading workflows still waiting for classifiers)\n",
		totalTraining, totalGrading, len(problems), totalPending)
}
