// Package categorize assigns spending categories to ledger transactions:
// keyword rules first, then an optional trained classifier.
package categorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"gopkg.in/yaml.v3"
)

// Rule is the keyword set of one category.
type Rule struct {
	Category string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Rules is an ordered keyword table. The first category with a keyword
// contained in the description wins.
type Rules struct {
	rules []Rule
}

type rulesFile struct {
	Categories []Rule `yaml:"categories"`
}

// DefaultRules returns the built-in table in its fixed precedence order.
func DefaultRules() *Rules {
	return NewRules([]Rule{
		{"Groceries", []string{"woolworths", "checkers", "pick n pay", "pnp", "spar", "shoprite", "food lover", "tesco", "sainsbury", "grocer", "supermarket"}},
		{"Transport", []string{"uber", "bolt", "taxi", "gautrain", "engen", "shell", "caltex", "sasol", "bp ", "petrol", "fuel", "parking", "toll"}},
		{"Utilities", []string{"eskom", "electricity", "prepaid elec", "water", "municipal", "city of", "rates", "vodacom", "mtn", "telkom", "cell c", "fibre", "council tax"}},
		{"Banking", []string{"bank charge", "service fee", "monthly fee", "admin fee", "interest", "atm withdrawal", "cash withdrawal"}},
		{"Entertainment", []string{"cinema", "ster-kinekor", "nu metro", "showmax", "dstv", "spotify", "steam", "playstation", "xbox"}},
		{"Insurance", []string{"insurance", "assurance", "discovery", "momentum", "old mutual", "sanlam", "outsurance", "hollard"}},
		{"Shopping", []string{"takealot", "amazon", "mr price", "edgars", "game ", "makro", "clicks", "h&m", "zara"}},
		{"Medical", []string{"pharmacy", "dis-chem", "dischem", "doctor", "hospital", "clinic", "dentist", "medical"}},
		{"Investment", []string{"easy equities", "unit trust", "invest", "satrix", "allan gray", "coronation"}},
		{"Transfer", []string{"transfer", "payment to", "payment from", "eft to", "immediate payment"}},
	})
}

// NewRules builds a table from rules in order. Keywords are lower-cased and
// blank ones dropped.
func NewRules(rules []Rule) *Rules {
	r := &Rules{}
	for _, rule := range rules {
		r.add(rule.Category, rule.Keywords...)
	}
	return r
}

// LoadRulesFile reads a YAML keyword table:
//
//	categories:
//	  - name: Groceries
//	    keywords: [woolworths, checkers]
func LoadRulesFile(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRulesFile: reading %s: %w", path, err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("LoadRulesFile: parsing %s: %w", path, err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("LoadRulesFile: %s defines no categories", path)
	}
	return NewRules(f.Categories), nil
}

// WithMappings returns a copy of r extended by user mappings. A term for an
// existing category joins that category's keywords; a new category is
// appended after all existing ones, in mapping order.
func (r *Rules) WithMappings(mappings []domain.CategoryMapping) *Rules {
	out := r.clone()
	for _, m := range mappings {
		out.add(m.Category, m.Term)
	}
	return out
}

// Match returns the first category whose keyword occurs in description,
// ignoring case.
func (r *Rules) Match(description string) (string, bool) {
	lc := strings.ToLower(description)
	for _, rule := range r.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lc, kw) {
				return rule.Category, true
			}
		}
	}
	return "", false
}

// Categories lists category names in precedence order.
func (r *Rules) Categories() []string {
	out := make([]string, len(r.rules))
	for i, rule := range r.rules {
		out[i] = rule.Category
	}
	return out
}

// Keywords returns the keywords of a category.
func (r *Rules) Keywords(category string) []string {
	for _, rule := range r.rules {
		if rule.Category == category {
			return append([]string(nil), rule.Keywords...)
		}
	}
	return nil
}

func (r *Rules) add(category string, keywords ...string) {
	category = strings.TrimSpace(category)
	if category == "" {
		return
	}
	idx := -1
	for i, rule := range r.rules {
		if rule.Category == category {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.rules = append(r.rules, Rule{Category: category})
		idx = len(r.rules) - 1
	}
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if strings.TrimSpace(kw) == "" {
			continue
		}
		r.rules[idx].Keywords = append(r.rules[idx].Keywords, kw)
	}
}

func (r *Rules) clone() *Rules {
	out := &Rules{rules: make([]Rule, len(r.rules))}
	for i, rule := range r.rules {
		out.rules[i] = Rule{Category: rule.Category, Keywords: append([]string(nil), rule.Keywords...)}
	}
	return out
}
