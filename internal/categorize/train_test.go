package categorize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/google/go-cmp/cmp"
)

var trainingRows = []struct {
	description string
	category    string
}{
	{"coffee shop latte", "Coffee"},
	{"coffee shop espresso", "Coffee"},
	{"latte coffee house", "Coffee"},
	{"espresso coffee bar", "Coffee"},
	{"coffee latte cafe", "Coffee"},
	{"cafe coffee espresso", "Coffee"},
	{"gym membership fitness", "Gym"},
	{"fitness gym club", "Gym"},
	{"gym club monthly", "Gym"},
	{"fitness club membership", "Gym"},
	{"gym membership club", "Gym"},
	{"fitness membership gym", "Gym"},
}

func trainingSet() []domain.Transaction {
	txs := make([]domain.Transaction, len(trainingRows))
	for i, r := range trainingRows {
		txs[i] = domain.Transaction{Description: r.description, Category: r.category}
	}
	return txs
}

var fixedNow = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestTrain(t *testing.T) {
	txs := append(trainingSet(), domain.Transaction{Description: "mystery", Category: domain.Uncategorized})

	model, report, err := Train(context.Background(), txs, TrainOptions{Now: fixedNow})
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	if report.Samples != 12 {
		t.Errorf("Samples = %d, want 12 (Uncategorized rows excluded)", report.Samples)
	}
	if report.ValidationSize != 2 || report.TrainSize != 10 {
		t.Errorf("split = %d/%d, want 10/2", report.TrainSize, report.ValidationSize)
	}
	if !report.TrainedAt.Equal(fixedNow()) {
		t.Errorf("TrainedAt = %v", report.TrainedAt)
	}
	if len(report.Classes) != 2 {
		t.Fatalf("Classes = %v", report.Classes)
	}
	support := report.Classes[0].Support + report.Classes[1].Support
	if support != 2 {
		t.Errorf("total support = %d, want 2", support)
	}

	tests := []struct {
		description string
		want        string
	}{
		{"COFFEE LATTE", "Coffee"},
		{"gym membership", "Gym"},
	}
	for _, tt := range tests {
		p, err := model.Predict(tt.description)
		if err != nil {
			t.Fatalf("Predict(%q) error = %v", tt.description, err)
		}
		if p.Category != tt.want {
			t.Errorf("Predict(%q) = %q, want %q", tt.description, p.Category, tt.want)
		}
		if p.Probability < 0.5 || p.Probability > 1 {
			t.Errorf("Predict(%q) probability = %v", tt.description, p.Probability)
		}
	}

	p, err := model.Predict("completely unrelated words")
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if p.Probability != 0 {
		t.Errorf("Predict() without known terms = %+v, want zero probability", p)
	}
}

func TestTrainDeterministicSplit(t *testing.T) {
	_, a, err := Train(context.Background(), trainingSet(), TrainOptions{Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}
	_, b, err := Train(context.Background(), trainingSet(), TrainOptions{Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a.Classes, b.Classes); diff != "" {
		t.Errorf("reports differ for the same seed (-a +b):\n%s", diff)
	}
}

func TestTrainInsufficientData(t *testing.T) {
	tests := []struct {
		name string
		txs  []domain.Transaction
	}{
		{"too few rows", trainingSet()[:9]},
		{"single class", trainingSet()[:6]},
		{"all uncategorized", []domain.Transaction{{Description: "x", Category: domain.Uncategorized}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := TrainOptions{}
			if tt.name == "single class" {
				opts.MinSamples = 5
			}
			_, _, err := Train(context.Background(), tt.txs, opts)
			if !errors.Is(err, ErrInsufficientData) {
				t.Fatalf("Train() error = %v, want ErrInsufficientData", err)
			}
			var ide *InsufficientDataError
			if !errors.As(err, &ide) {
				t.Fatalf("error %T is not *InsufficientDataError", err)
			}
		})
	}
}

func TestTrainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Train(ctx, trainingSet(), TrainOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Train() error = %v, want context.Canceled", err)
	}
}

func TestModelArtifactsRoundTrip(t *testing.T) {
	ctx := context.Background()
	model, _, err := Train(ctx, trainingSet(), TrainOptions{Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}
	bundle, err := model.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	store := NewFileArtifactStore(t.TempDir())
	if err := store.Save(ctx, bundle); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	decoded, err := DecodeModel(loaded)
	if err != nil {
		t.Fatalf("DecodeModel() error = %v", err)
	}

	if decoded.Version() != model.Version() {
		t.Errorf("Version() = %q, want %q", decoded.Version(), model.Version())
	}
	for _, desc := range []string{"coffee latte", "fitness club"} {
		want, _ := model.Predict(desc)
		got, err := decoded.Predict(desc)
		if err != nil {
			t.Fatalf("Predict() error = %v", err)
		}
		if got.Category != want.Category {
			t.Errorf("Predict(%q) = %q after reload, want %q", desc, got.Category, want.Category)
		}
	}
}

func TestArtifactsPartial(t *testing.T) {
	ctx := context.Background()
	model, _, err := Train(ctx, trainingSet(), TrainOptions{Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}
	bundle, _ := model.Encode()

	dir := t.TempDir()
	store := NewFileArtifactStore(dir)
	if err := store.Save(ctx, bundle); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, WeightsArtifact)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNotTrained) {
		t.Errorf("Load() error = %v, want ErrNotTrained", err)
	}

	other, _, err := Train(ctx, trainingSet(), TrainOptions{Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}
	otherBundle, _ := other.Encode()
	mixed := &Bundle{Vectorizer: bundle.Vectorizer, Labels: bundle.Labels, Weights: otherBundle.Weights}
	if _, err := DecodeModel(mixed); !errors.Is(err, ErrNotTrained) {
		t.Errorf("DecodeModel() of mixed versions error = %v, want ErrNotTrained", err)
	}
}
