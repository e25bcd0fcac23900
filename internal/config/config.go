// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// AnalyzerLimits holds context-management limits for the error analyzer.
// The analyzer results are consumed by an LLM agent, so every section of
// a report is capped to keep the response inside the agent context window.
type AnalyzerLimits struct {
	// MaxLogEvents is the maximum number of log events per search
	MaxLogEvents int
	// MaxLogGroups is the maximum number of log groups searched per run
	MaxLogGroups int
	// MaxEventsPerLogGroup caps events kept per log group in a report
	MaxEventsPerLogGroup int
	// MaxLogMessageLength truncates individual log messages
	MaxLogMessageLength int
	// MaxTimelineEvents caps the Step Functions timeline in a report
	MaxTimelineEvents int
	// MaxErrorLength truncates Step Functions error and cause strings
	MaxErrorLength int
}

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string
	AWSRegion   string

	// IDP stack wiring
	StackName     string
	TrackingTable string
	EventBusName  string

	// Test set deployment
	TestSetBucket string
	SourceBucket  string
	SourcePrefix  string

	// Agent tool server
	HTTPAddr string

	// Logging
	LogLevel string

	// Analyzer limits
	Analyzer AnalyzerLimits
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		AWSRegion:   getEnv("AWS_REGION", "us-east-1"),

		StackName:     getEnv("AWS_STACK_NAME", ""),
		TrackingTable: getEnv("TRACKING_TABLE_NAME", getEnv("TRACKING_TABLE", "")),
		EventBusName:  getEnv("EVENT_BUS_NAME", ""),

		TestSetBucket: getEnv("TESTSET_BUCKET", ""),
		SourceBucket:  getEnv("DATASET_SOURCE_BUCKET", ""),
		SourcePrefix:  getEnv("DATASET_SOURCE_PREFIX", ""),

		HTTPAddr: getEnv("HTTP_ADDR", "localhost:8081"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		Analyzer: AnalyzerLimits{
			MaxLogEvents:         getEnvInt("MAX_LOG_EVENTS", 10),
			MaxLogGroups:         getEnvInt("MAX_LOG_GROUPS", 20),
			MaxEventsPerLogGroup: getEnvInt("MAX_EVENTS_PER_LOG_GROUP", 3),
			MaxLogMessageLength:  getEnvInt("MAX_LOG_MESSAGE_LENGTH", 400),
			MaxTimelineEvents:    getEnvInt("MAX_STEPFUNCTION_TIMELINE_EVENTS", 3),
			MaxErrorLength:       getEnvInt("MAX_STEPFUNCTION_ERROR_LENGTH", 400),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if c.Environment == "production" {
		if c.StackName == "" {
			return fmt.Errorf("AWS_STACK_NAME is required in production")
		}
	}
	if c.Analyzer.MaxLogEvents <= 0 || c.Analyzer.MaxLogGroups <= 0 {
		return fmt.Errorf("analyzer limits must be positive")
	}
	return nil
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
