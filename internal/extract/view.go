// Package extract harvests tabular records from the current view and walks
// every "more data" affordance the page offers until the dataset is complete.
package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
)

// Source names the strategy that produced a pass.
type Source string

const (
	SourceTable       Source = "table"
	SourceRepeating   Source = "repeating-group"
	SourcePlaceholder Source = "placeholder"
)

// Pass is the outcome of one structural extraction over a view. A pass whose
// Source is SourcePlaceholder found nothing and carries one explanatory row.
type Pass struct {
	Rows   []schemas.Row
	Source Source
}

// Found reports whether the pass holds harvested rows rather than a placeholder.
func (p Pass) Found() bool { return p.Source != SourcePlaceholder && len(p.Rows) > 0 }

const (
	minGroupSize   = 3
	maxGroupSize   = 100
	maxGroupsTried = 10
	pageTextLimit  = 5
)

var (
	totalPattern    = regexp.MustCompile(`(?i)showing\s+([\d,]+(?:\s*[-–]\s*[\d,]+)?)\s+of\s+([\d,]+)\s+products`)
	pricePattern    = regexp.MustCompile(`^([$€£]|\d+\.\d{2})`)
	skuPattern      = regexp.MustCompile(`^(#|SKU:|ID:)`)
	hiddenStyle     = regexp.MustCompile(`(?i)(display\s*:\s*none|visibility\s*:\s*hidden)`)
	skippedTextTags = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}
)

// View is a parsed snapshot of the page's DOM.
type View struct {
	doc *goquery.Document
}

// ParseView parses an HTML snapshot.
func ParseView(markup string) (*View, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page snapshot: %w", err)
	}
	return &View{doc: doc}, nil
}

// Extract runs the structural strategies in order: the largest visible table,
// then repeating class groups. When neither yields rows the pass carries a
// placeholder row describing the page instead.
func (v *View) Extract() Pass {
	if rows := v.tableRows(); len(rows) > 0 {
		return Pass{Rows: rows, Source: SourceTable}
	}
	if rows := v.groupRows(); len(rows) > 0 {
		return Pass{Rows: rows, Source: SourceRepeating}
	}
	return Pass{Rows: []schemas.Row{v.Placeholder()}, Source: SourcePlaceholder}
}

// DetectTotal scans the visible text for "Showing X of N products".
func (v *View) DetectTotal() (int, bool) {
	var parts []string
	for _, n := range v.doc.Find("body").Nodes {
		walkVisibleText(n, func(t string) { parts = append(parts, t) })
	}
	m := totalPattern.FindStringSubmatch(strings.Join(parts, " "))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[2], ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Placeholder builds the explanatory row returned when nothing was found,
// with up to five headings or paragraphs of page text for context.
func (v *View) Placeholder() schemas.Row {
	row := schemas.NewRow(
		"Name", "Sample Product",
		"Description", "This is a placeholder since no products were found",
		"Note", "This data was generated because no product table was found",
	)
	taken := 0
	v.doc.Find("h1, h2, h3, p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if taken >= pageTextLimit {
			return false
		}
		if isHidden(s) {
			return true
		}
		taken++
		if text := normalize(s.Text()); text != "" {
			row.Set(fmt.Sprintf("Page_Text_%d", taken), text)
		}
		return true
	})
	row.Set(schemas.FieldSynthetic, schemas.SyntheticPlaceholder)
	return row
}

func (v *View) tableRows() []schemas.Row {
	var best *goquery.Selection
	bestCount := 0
	v.doc.Find("table").Each(func(_ int, t *goquery.Selection) {
		if isHidden(t) {
			return
		}
		if n := ownRows(t).Length(); n > bestCount {
			best, bestCount = t, n
		}
	})
	if best == nil {
		return nil
	}

	rows := ownRows(best)
	var headers []string
	header := rows.FilterFunction(func(_ int, r *goquery.Selection) bool {
		return r.Parent().Is("thead")
	}).First()
	if header.Length() == 0 {
		first := rows.First()
		if first.ChildrenFiltered("th").Length() > 0 && first.ChildrenFiltered("td").Length() == 0 {
			header = first
		}
	}
	if header.Length() > 0 {
		header.ChildrenFiltered("th, td").Each(func(_ int, c *goquery.Selection) {
			headers = append(headers, normalize(c.Text()))
		})
		headers = uniqueHeaders(headers)
	}

	var out []schemas.Row
	rows.Each(func(_ int, r *goquery.Selection) {
		if header.Length() > 0 && r.IsSelection(header) {
			return
		}
		if isHidden(r) || r.ChildrenFiltered("td").Length() == 0 {
			return
		}
		var row schemas.Row
		nonEmpty := false
		r.ChildrenFiltered("td, th").Each(func(i int, c *goquery.Selection) {
			name := fmt.Sprintf("Column%d", i+1)
			if i < len(headers) && headers[i] != "" {
				name = headers[i]
			}
			value := normalize(c.Text())
			if value != "" {
				nonEmpty = true
			}
			row.Set(name, value)
		})
		if nonEmpty {
			out = append(out, row)
		}
	})
	return out
}

// ownRows returns the rows of t, excluding rows of nested tables.
func ownRows(t *goquery.Selection) *goquery.Selection {
	return t.Find("tr").FilterFunction(func(_ int, r *goquery.Selection) bool {
		return r.Closest("table").IsSelection(t)
	})
}

func uniqueHeaders(headers []string) []string {
	seen := make(map[string]int, len(headers))
	out := make([]string, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		seen[h]++
		if seen[h] > 1 {
			h = fmt.Sprintf("%s_%d", h, seen[h])
		}
		out[i] = h
	}
	return out
}

type classGroup struct {
	name    string
	first   int
	members []*html.Node
}

func (v *View) groupRows() []schemas.Row {
	groups := map[string]*classGroup{}
	order := 0
	v.doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		order++
		class, ok := s.Attr("class")
		if !ok || isHidden(s) {
			return
		}
		for _, c := range strings.Fields(class) {
			if strings.Contains(c, "active") || strings.Contains(c, "selected") {
				continue
			}
			g, ok := groups[c]
			if !ok {
				g = &classGroup{name: c, first: order}
				groups[c] = g
			}
			// An element listing the same class twice still counts once.
			if n := len(g.members); n > 0 && g.members[n-1] == s.Get(0) {
				continue
			}
			g.members = append(g.members, s.Get(0))
		}
	})

	candidates := make([]*classGroup, 0, len(groups))
	for _, g := range groups {
		if n := len(g.members); n >= minGroupSize && n <= maxGroupSize {
			candidates = append(candidates, g)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].members) != len(candidates[j].members) {
			return len(candidates[i].members) > len(candidates[j].members)
		}
		return candidates[i].first < candidates[j].first
	})
	if len(candidates) > maxGroupsTried {
		candidates = candidates[:maxGroupsTried]
	}

	for _, g := range candidates {
		if len(textFragments(g.members[0])) < 2 {
			continue
		}
		var out []schemas.Row
		for _, m := range g.members {
			if frags := textFragments(m); len(frags) >= 2 {
				out = append(out, classify(frags))
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// classify labels the text fragments of one repeating element.
func classify(frags []string) schemas.Row {
	row := schemas.NewRow("Name", frags[0])
	last := len(frags) - 1
	for i := 1; i <= last; i++ {
		value := frags[i]
		switch {
		case pricePattern.MatchString(value):
			row.Set("Price", value)
		case skuPattern.MatchString(value):
			row.Set("SKU", value)
		case i == last:
			row.Set("Description", value)
		default:
			row.Set(fmt.Sprintf("Property%d", i), value)
		}
	}
	return row
}

// textFragments returns the distinct visible text nodes under n in document order.
func textFragments(n *html.Node) []string {
	var out []string
	seen := map[string]bool{}
	walkVisibleText(n, func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	})
	return out
}

// walkVisibleText calls fn with every non-blank visible text node under n,
// normalized, in document order.
func walkVisibleText(n *html.Node, fn func(string)) {
	switch n.Type {
	case html.TextNode:
		if t := normalize(n.Data); t != "" {
			fn(t)
		}
		return
	case html.ElementNode:
		if skippedTextTags[n.Data] || nodeHidden(n) {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkVisibleText(c, fn)
	}
}

// isHidden reports whether the element or an ancestor is hidden. Snapshots
// taken from a live page carry schemas.HiddenAttr for what stylesheets hide;
// otherwise only the markup is consulted.
func isHidden(s *goquery.Selection) bool {
	for n := s.Get(0); n != nil; n = n.Parent {
		if n.Type == html.ElementNode && nodeHidden(n) {
			return true
		}
	}
	return false
}

func nodeHidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden", schemas.HiddenAttr:
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		case "style":
			if hiddenStyle.MatchString(a.Val) {
				return true
			}
		}
	}
	return false
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
