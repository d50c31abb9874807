package suggest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/google/go-cmp/cmp"
)

type mockGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	prompts      []string
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	return m.GenerateFunc(ctx, prompt)
}

var _ Generator = (*mockGenerator)(nil)

func testContext() context.Context {
	return logger.WithContext(context.Background(), logger.Nop())
}

func TestSuggest(t *testing.T) {
	gen := &mockGenerator{GenerateFunc: func(context.Context, string) (string, error) {
		return "```json\n[" +
			`{"description":"VIRGIN ACTIVE","term":"virgin active","category":"Fitness","category_type":"discretionary expenses"},` +
			`{"description":"NETFLIX.COM","term":"streaming","category":"entertainment","category_type":"Discretionary Expenses"},` +
			`{"description":"SALARY ACME","term":"salary","category":"Uncategorized","category_type":"Income"},` +
			`{"description":"NOT ASKED","term":"x","category":"Other","category_type":"Special"},` +
			`{"description":"MYSTERY","term":"mystery","category":"Misc","category_type":"Whatever"}` +
			"]\n```", nil
	}}

	got, err := NewSuggester(gen).Suggest(testContext(),
		[]string{"VIRGIN ACTIVE", "NETFLIX.COM", "virgin active", "SALARY ACME", "MYSTERY", " "},
		[]string{"Groceries", "Entertainment"})
	if err != nil {
		t.Fatalf("Suggest() error = %v", err)
	}

	want := []Suggestion{
		{Description: "VIRGIN ACTIVE", Term: "virgin active", Category: "Fitness", CategoryType: domain.DiscretionaryExpenses},
		{Description: "NETFLIX.COM", Term: "netflix.com", Category: "Entertainment", CategoryType: domain.DiscretionaryExpenses, Existing: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Suggest mismatch (-want +got):\n%s", diff)
	}

	if len(gen.prompts) != 1 {
		t.Fatalf("got %d prompts, want 1", len(gen.prompts))
	}
	for _, s := range []string{"- Entertainment", "- Necessary Expenses", "- VIRGIN ACTIVE", "- MYSTERY"} {
		if !strings.Contains(gen.prompts[0], s) {
			t.Errorf("prompt missing %q", s)
		}
	}
	if strings.Count(gen.prompts[0], "VIRGIN ACTIVE") != 1 {
		t.Error("duplicate description sent twice")
	}

	if err := got[0].Mapping().Validate(); err != nil {
		t.Errorf("suggested mapping invalid: %v", err)
	}
}

func TestSuggestBatches(t *testing.T) {
	var descs []string
	for i := 0; i < MaxBatch+3; i++ {
		descs = append(descs, "SHOP "+strings.Repeat("A", i+1))
	}
	gen := &mockGenerator{GenerateFunc: func(context.Context, string) (string, error) { return "[]", nil }}

	if _, err := NewSuggester(gen).Suggest(testContext(), descs, nil); err != nil {
		t.Fatalf("Suggest() error = %v", err)
	}
	if len(gen.prompts) != 2 {
		t.Errorf("got %d prompts, want 2", len(gen.prompts))
	}
}

func TestSuggestErrors(t *testing.T) {
	tests := []struct {
		name string
		gen  func(context.Context, string) (string, error)
	}{
		{"generator error", func(context.Context, string) (string, error) { return "", errors.New("quota") }},
		{"not json", func(context.Context, string) (string, error) { return "I cannot help with that", nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSuggester(&mockGenerator{GenerateFunc: tt.gen}).Suggest(testContext(), []string{"X"}, nil)
			if err == nil {
				t.Error("Suggest() error = nil")
			}
		})
	}
}

func TestUncategorized(t *testing.T) {
	txs := []domain.Transaction{
		{Description: "NETFLIX", Category: domain.Uncategorized},
		{Description: "WOOLWORTHS", Category: "Groceries"},
		{Description: "SALARY", Category: domain.Uncategorized},
		{Description: "SALARY", Category: domain.Uncategorized},
		{Description: "GYM"},
	}
	want := []string{"SALARY", "NETFLIX", "GYM"}
	if diff := cmp.Diff(want, Uncategorized(txs)); diff != "" {
		t.Errorf("Uncategorized mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`[{"a":1}]`, `[{"a":1}]`},
		{"```json\n[1,2]\n```", "[1,2]"},
		{"Here you go: [1] thanks", "[1]"},
	}
	for _, tt := range tests {
		if got := cleanModelJSON(tt.in); got != tt.want {
			t.Errorf("cleanModelJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
