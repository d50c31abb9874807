package config

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/dvloznov/statement-analytics/internal/logger"
	"gopkg.in/yaml.v3"
)

// Default values used when neither the YAML file nor the environment sets a field.
const (
	defaultProjectID              = "studious-union-470122-v7"
	defaultDataset                = "finance"
	defaultMongoURI               = "mongodb://localhost:27017"
	defaultMongoDatabase          = "bank_statements"
	defaultMongoCollection        = "statements"
	defaultGeminiModel            = "gemini-2.5-flash"
	defaultPort                   = "8080"
	defaultLogLevel               = "info"
	defaultArtifactDir            = "models"
	defaultConfidenceThreshold    = 0.7
	defaultAssumedStartingBalance = 10000
	defaultUnusualMultiplier      = 2.0
	defaultMonthlyWindowMonths    = 6
	defaultVelocityWindowDays     = 30
)

// Environment variables that override the YAML file.
const (
	envConfigFile          = "CONFIG_FILE"
	envProjectID           = "GCP_PROJECT"
	envDataset             = "BQ_DATASET"
	envBucket              = "GCS_BUCKET"
	envMongoURI            = "MONGO_URI"
	envMongoDatabase       = "MONGO_DATABASE"
	envMongoCollection     = "MONGO_COLLECTION"
	envNotionToken         = "NOTION_TOKEN"
	envNotionDatabaseID    = "NOTION_DB_ID"
	envGeminiModel         = "GEMINI_MODEL"
	envPort                = "PORT"
	envLogLevel            = "LOG_LEVEL"
	envArtifactDir         = "MODEL_DIR"
	envArtifactBucket      = "MODEL_BUCKET"
	envConfidenceThreshold = "CONFIDENCE_THRESHOLD"
	envStartingBalance     = "ASSUMED_STARTING_BALANCE"
	envDecimalComma        = "DECIMAL_COMMA"
)

// Config holds the application configuration.
type Config struct {
	GCP        GCPConfig        `yaml:"gcp"`
	Mongo      MongoConfig      `yaml:"mongo"`
	Notion     NotionConfig     `yaml:"notion"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	API        APIConfig        `yaml:"api"`
	Log        LogConfig        `yaml:"log"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Normalize  NormalizeConfig  `yaml:"normalize"`
}

type GCPConfig struct {
	ProjectID string `yaml:"project_id"`
	Dataset   string `yaml:"dataset"`
	Bucket    string `yaml:"bucket"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type NotionConfig struct {
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
}

type GeminiConfig struct {
	Model string `yaml:"model"`
}

type APIConfig struct {
	Port string `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// ClassifierConfig controls the keyword rules and the trained model.
type ClassifierConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// ArtifactDir is used when ArtifactBucket is empty.
	ArtifactDir    string `yaml:"artifact_dir"`
	ArtifactBucket string `yaml:"artifact_bucket"`
	// RulesFile optionally replaces the built-in keyword table.
	RulesFile string `yaml:"rules_file"`
}

// AnalyticsConfig holds the tunables of the analytics engine.
type AnalyticsConfig struct {
	AssumedStartingBalance float64 `yaml:"assumed_starting_balance"`
	UnusualMultiplier      float64 `yaml:"unusual_multiplier"`
	MonthlyWindowMonths    int     `yaml:"monthly_window_months"`
	VelocityWindowDays     int     `yaml:"velocity_window_days"`
}

// NormalizeConfig onboards new statement formats without code changes.
type NormalizeConfig struct {
	// DecimalComma treats ',' as the decimal separator and '.' as thousands.
	DecimalComma bool `yaml:"decimal_comma"`
	// ColumnSynonyms maps an observed header onto a canonical column name.
	ColumnSynonyms map[string]string `yaml:"column_synonyms"`
	// SummaryMarkers are extra descriptions that identify non-transaction rows.
	SummaryMarkers []string `yaml:"summary_markers"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		GCP: GCPConfig{
			ProjectID: defaultProjectID,
			Dataset:   defaultDataset,
		},
		Mongo: MongoConfig{
			URI:        defaultMongoURI,
			Database:   defaultMongoDatabase,
			Collection: defaultMongoCollection,
		},
		Gemini: GeminiConfig{Model: defaultGeminiModel},
		API:    APIConfig{Port: defaultPort},
		Log:    LogConfig{Level: defaultLogLevel},
		Classifier: ClassifierConfig{
			ConfidenceThreshold: defaultConfidenceThreshold,
			ArtifactDir:         defaultArtifactDir,
		},
		Analytics: AnalyticsConfig{
			AssumedStartingBalance: defaultAssumedStartingBalance,
			UnusualMultiplier:      defaultUnusualMultiplier,
			MonthlyWindowMonths:    defaultMonthlyWindowMonths,
			VelocityWindowDays:     defaultVelocityWindowDays,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $CONFIG_FILE when path is empty), then environment variables.
// A missing file is not an error.
func Load(ctx context.Context, path string) (*Config, error) {
	log := logger.FromContext(ctx)
	cfg := Default()

	if path == "" {
		path = os.Getenv(envConfigFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			log.Debug().Str("path", path).Msg("Config file not found, using defaults")
		case err != nil:
			return nil, fmt.Errorf("Load: reading %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("Load: parsing %s: %w", path, err)
			}
			log.Debug().Str("path", path).Msg("Loaded config file")
		}
	}

	applyEnv(ctx, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges that would make the pipeline misbehave.
func (c *Config) Validate() error {
	if c.Classifier.ConfidenceThreshold < 0 || c.Classifier.ConfidenceThreshold > 1 {
		return fmt.Errorf("classifier.confidence_threshold must be within [0,1], got %v", c.Classifier.ConfidenceThreshold)
	}
	if c.Analytics.UnusualMultiplier < 0 {
		return fmt.Errorf("analytics.unusual_multiplier must not be negative, got %v", c.Analytics.UnusualMultiplier)
	}
	if c.Analytics.MonthlyWindowMonths <= 0 {
		return fmt.Errorf("analytics.monthly_window_months must be positive, got %d", c.Analytics.MonthlyWindowMonths)
	}
	if c.Analytics.VelocityWindowDays <= 0 {
		return fmt.Errorf("analytics.velocity_window_days must be positive, got %d", c.Analytics.VelocityWindowDays)
	}
	return nil
}

func applyEnv(ctx context.Context, cfg *Config) {
	setString(&cfg.GCP.ProjectID, envProjectID)
	setString(&cfg.GCP.Dataset, envDataset)
	setString(&cfg.GCP.Bucket, envBucket)
	setString(&cfg.Mongo.URI, envMongoURI)
	setString(&cfg.Mongo.Database, envMongoDatabase)
	setString(&cfg.Mongo.Collection, envMongoCollection)
	setString(&cfg.Notion.Token, envNotionToken)
	setString(&cfg.Notion.DatabaseID, envNotionDatabaseID)
	setString(&cfg.Gemini.Model, envGeminiModel)
	setString(&cfg.API.Port, envPort)
	setString(&cfg.Log.Level, envLogLevel)
	setString(&cfg.Classifier.ArtifactDir, envArtifactDir)
	setString(&cfg.Classifier.ArtifactBucket, envArtifactBucket)
	setFloat(ctx, &cfg.Classifier.ConfidenceThreshold, envConfidenceThreshold)
	setFloat(ctx, &cfg.Analytics.AssumedStartingBalance, envStartingBalance)
	setBool(ctx, &cfg.Normalize.DecimalComma, envDecimalComma)
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setFloat(ctx context.Context, dst *float64, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("env", env).Str("value", v).Msg("Invalid number in environment, keeping default")
		return
	}
	*dst = f
}

func setBool(ctx context.Context, dst *bool, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("env", env).Str("value", v).Msg("Invalid boolean in environment, keeping default")
		return
	}
	*dst = b
}
