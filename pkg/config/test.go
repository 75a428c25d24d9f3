package config

import "time"

func loadTestConfig(cfg *Config) {
	cfg.DatabaseFilePath = ":memory:"
	cfg.EnrichPacingDelay = 0
	cfg.JobStateFilePath = "./tmp/jobs-test.json"
	cfg.WorkerPollInterval = 10 * time.Millisecond
}
