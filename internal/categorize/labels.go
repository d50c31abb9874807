package categorize

import (
	"encoding/json"
	"fmt"
	"sort"
)

// LabelEncoder maps category names onto dense class indices.
type LabelEncoder struct {
	Version string   `json:"version"`
	Classes []string `json:"classes"`
}

// NewLabelEncoder builds an encoder over the sorted unique labels.
func NewLabelEncoder(labels []string) *LabelEncoder {
	seen := make(map[string]struct{}, len(labels))
	var classes []string
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		classes = append(classes, l)
	}
	sort.Strings(classes)
	return &LabelEncoder{Classes: classes}
}

// Index returns the class index of label.
func (e *LabelEncoder) Index(label string) (int, bool) {
	i := sort.SearchStrings(e.Classes, label)
	if i < len(e.Classes) && e.Classes[i] == label {
		return i, true
	}
	return 0, false
}

// Label returns the category of class index i.
func (e *LabelEncoder) Label(i int) (string, error) {
	if i < 0 || i >= len(e.Classes) {
		return "", fmt.Errorf("Label: class index %d out of range [0,%d)", i, len(e.Classes))
	}
	return e.Classes[i], nil
}

// Len returns the number of classes.
func (e *LabelEncoder) Len() int {
	return len(e.Classes)
}

func (e *LabelEncoder) marshal() ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalLabels(data []byte) (*LabelEncoder, error) {
	var e LabelEncoder
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshalLabels: %w", err)
	}
	if !sort.StringsAreSorted(e.Classes) {
		return nil, fmt.Errorf("unmarshalLabels: classes are not sorted")
	}
	return &e, nil
}
