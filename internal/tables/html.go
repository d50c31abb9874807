package tables

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	errNoTableElement = errors.New("no <table> element")
	errEmptyTable     = errors.New("table has no data rows")
)

type rawCell struct {
	text    string
	header  bool
	colspan int
	rowspan int
}

type rawRow struct {
	cells   []rawCell
	inThead bool
}

// parseFragment parses one HTML fragment into a Table with flattened headers.
func parseFragment(fragment string) (*Table, error) {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("parseFragment: %w", err)
	}

	tbl := findFirst(doc, atom.Table)
	if tbl == nil {
		return nil, errNoTableElement
	}

	var rows []rawRow
	collectRows(tbl, false, &rows)
	grid := expandSpans(rows)
	if len(grid) == 0 {
		return nil, errEmptyTable
	}

	headerCount := countHeaderRows(rows)
	if headerCount >= len(grid) {
		return nil, errEmptyTable
	}

	width := 0
	for _, r := range grid {
		if len(r) > width {
			width = len(r)
		}
	}
	headerWidth := 0
	for _, r := range grid[:headerCount] {
		if len(r) > headerWidth {
			headerWidth = len(r)
		}
	}
	if headerWidth > 0 {
		width = headerWidth
	}

	t := &Table{Columns: flattenHeaders(grid[:headerCount], width)}
	for _, r := range grid[headerCount:] {
		row := make([]string, width)
		copy(row, r)
		if blank(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	if len(t.Rows) == 0 {
		return nil, errEmptyTable
	}
	return t, nil
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

// collectRows walks the table in document order, skipping nested tables.
func collectRows(n *html.Node, inThead bool, rows *[]rawRow) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Table:
			continue
		case atom.Thead:
			collectRows(c, true, rows)
		case atom.Tr:
			*rows = append(*rows, rawRow{cells: collectCells(c), inThead: inThead})
		default:
			collectRows(c, inThead, rows)
		}
	}
}

func collectCells(tr *html.Node) []rawCell {
	var cells []rawCell
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		cells = append(cells, rawCell{
			text:    cellText(c),
			header:  c.DataAtom == atom.Th,
			colspan: spanAttr(c, "colspan"),
			rowspan: spanAttr(c, "rowspan"),
		})
	}
	return cells
}

// cellText joins the text of a cell, treating <br> and block boundaries as
// whitespace so that OCR-merged values stay separable.
func cellText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.P || n.DataAtom == atom.Div) {
			b.WriteByte(' ')
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func spanAttr(n *html.Node, name string) int {
	for _, a := range n.Attr {
		if a.Key != name {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(a.Val))
		if err != nil || v < 1 {
			return 1
		}
		if v > 64 {
			return 64
		}
		return v
	}
	return 1
}

// expandSpans lays cells out on a grid, repeating colspan and rowspan cells.
func expandSpans(rows []rawRow) [][]string {
	type carry struct {
		text string
		left int
	}
	pending := map[int]*carry{}
	grid := make([][]string, 0, len(rows))

	for _, r := range rows {
		var out []string
		col := 0
		fill := func() {
			for {
				p, ok := pending[col]
				if !ok {
					return
				}
				out = append(out, p.text)
				p.left--
				if p.left == 0 {
					delete(pending, col)
				}
				col++
			}
		}
		for _, c := range r.cells {
			fill()
			for i := 0; i < c.colspan; i++ {
				out = append(out, c.text)
				if c.rowspan > 1 {
					pending[col] = &carry{text: c.text, left: c.rowspan - 1}
				}
				col++
			}
		}
		fill()
		grid = append(grid, out)
	}
	return grid
}

// countHeaderRows prefers <thead>, then a leading run of all-<th> rows, then
// falls back to the first row.
func countHeaderRows(rows []rawRow) int {
	n := 0
	for _, r := range rows {
		if !r.inThead {
			break
		}
		n++
	}
	if n > 0 {
		return n
	}
	for _, r := range rows {
		if len(r.cells) == 0 || !allHeaders(r.cells) {
			break
		}
		n++
	}
	if n > 0 {
		return n
	}
	return 1
}

func allHeaders(cells []rawCell) bool {
	for _, c := range cells {
		if !c.header {
			return false
		}
	}
	return true
}

// flattenHeaders joins the header segments of each column with "_".
// Empty segments and segments repeated from the level above are dropped, so a
// rowspan header such as "Date" stays "Date" rather than "Date_Date".
func flattenHeaders(headers [][]string, width int) []string {
	cols := make([]string, width)
	seen := map[string]int{}
	for i := 0; i < width; i++ {
		var parts []string
		for _, h := range headers {
			if i >= len(h) {
				continue
			}
			seg := strings.TrimSpace(h[i])
			if seg == "" || (len(parts) > 0 && parts[len(parts)-1] == seg) {
				continue
			}
			parts = append(parts, seg)
		}
		name := strings.Join(parts, "_")
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n+1)
		} else {
			seen[name] = 0
		}
		cols[i] = name
	}
	return cols
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
