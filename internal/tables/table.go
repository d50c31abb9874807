// Package tables turns the HTML table fragments emitted by the OCR service
// into one raw tabular structure.
package tables

import (
	"errors"
	"fmt"
)

// ErrNoTables is returned when a document has no usable transaction table.
var ErrNoTables = errors.New("no transaction tables found")

// Table is an ordered set of string rows under flattened column names.
// Every row has exactly len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Cell returns the value at row r of the named column, or "" when the
// column does not exist.
func (t *Table) Cell(r int, column string) string {
	i := t.ColumnIndex(column)
	if i < 0 {
		return ""
	}
	return t.Rows[r][i]
}

// Vocabulary decides whether a flattened column name looks like part of a
// transaction table.
type Vocabulary interface {
	Known(column string) bool
}

// VocabularyFunc adapts a function to Vocabulary.
type VocabularyFunc func(column string) bool

// Known implements Vocabulary.
func (f VocabularyFunc) Known(column string) bool { return f(column) }

// Warning describes a fragment that was skipped.
type Warning struct {
	Index int
	Page  int
	Err   error
}

func (w Warning) Error() string {
	return fmt.Sprintf("fragment %d (page %d): %v", w.Index, w.Page, w.Err)
}

func (w Warning) Unwrap() error { return w.Err }
