package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	DatabaseBusyTimeout       time.Duration
	DatabaseConnectRetryCount int
	DatabaseConnectRetryDelay time.Duration
	DatabaseDebug             bool
	DatabaseFilePath          string
	DatabaseMaxRetries        int
	EnrichIntervalMinutes     int
	EnrichPacingDelay         time.Duration
	GoogleBooksBaseURL        string
	Hostname                  string
	JobStateFilePath          string
	OpenLibraryBaseURL        string
	ReconcileIntervalMinutes  int
	WorkerPollInterval        time.Duration
}

const environmentENV = "ENVIRONMENT"

func New() (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 5,
		DatabaseConnectRetryDelay: 2 * time.Second,
		DatabaseMaxRetries:        5,
		EnrichIntervalMinutes:     24 * 60,
		EnrichPacingDelay:         time.Second,
		GoogleBooksBaseURL:        "https://www.googleapis.com/books/v1",
		Hostname:                  hostname,
		OpenLibraryBaseURL:        "https://openlibrary.org",
		ReconcileIntervalMinutes:  60,
		WorkerPollInterval:        5 * time.Second,
	}

	switch os.Getenv(environmentENV) {
	case "development", "":
		loadDevelopmentConfig(cfg)
	case "test":
		loadTestConfig(cfg)
	case "production":
		loadProductionConfig(cfg)
	}

	return cfg, nil
}
