package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dvloznov/statement-analytics/internal/logger"
)

func testContext() context.Context {
	return logger.WithContext(context.Background(), logger.Nop())
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(testContext(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Classifier.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v, want 0.7", cfg.Classifier.ConfidenceThreshold)
	}
	if cfg.Analytics.AssumedStartingBalance != 10000 {
		t.Errorf("AssumedStartingBalance = %v, want 10000", cfg.Analytics.AssumedStartingBalance)
	}
	if cfg.Analytics.VelocityWindowDays != 30 {
		t.Errorf("VelocityWindowDays = %d, want 30", cfg.Analytics.VelocityWindowDays)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
mongo:
  database: statements_test
classifier:
  confidence_threshold: 0.55
normalize:
  decimal_comma: true
  column_synonyms:
    Buchungstag: date
  summary_markers:
    - Saldo anterior
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MONGO_DATABASE", "from_env")
	t.Setenv("ASSUMED_STARTING_BALANCE", "2500")

	cfg, err := Load(testContext(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mongo.Database != "from_env" {
		t.Errorf("Mongo.Database = %q, want env override", cfg.Mongo.Database)
	}
	if cfg.Mongo.Collection != "statements" {
		t.Errorf("Mongo.Collection = %q, want default kept", cfg.Mongo.Collection)
	}
	if cfg.Classifier.ConfidenceThreshold != 0.55 {
		t.Errorf("ConfidenceThreshold = %v, want 0.55", cfg.Classifier.ConfidenceThreshold)
	}
	if cfg.Analytics.AssumedStartingBalance != 2500 {
		t.Errorf("AssumedStartingBalance = %v, want 2500", cfg.Analytics.AssumedStartingBalance)
	}
	if !cfg.Normalize.DecimalComma {
		t.Error("DecimalComma = false, want true")
	}
	if cfg.Normalize.ColumnSynonyms["Buchungstag"] != "date" {
		t.Errorf("ColumnSynonyms = %v", cfg.Normalize.ColumnSynonyms)
	}
	if len(cfg.Normalize.SummaryMarkers) != 1 {
		t.Errorf("SummaryMarkers = %v", cfg.Normalize.SummaryMarkers)
	}
}

func TestLoad_InvalidEnvKeepsDefault(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "high")
	cfg, err := Load(testContext(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Classifier.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v, want default", cfg.Classifier.ConfidenceThreshold)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"threshold above one", func(c *Config) { c.Classifier.ConfidenceThreshold = 1.2 }, true},
		{"negative multiplier", func(c *Config) { c.Analytics.UnusualMultiplier = -1 }, true},
		{"zero month window", func(c *Config) { c.Analytics.MonthlyWindowMonths = 0 }, true},
		{"zero velocity window", func(c *Config) { c.Analytics.VelocityWindowDays = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
