// Package locator describes UI elements independently of the engine that finds
// them, and resolves a logical role ("email field", "next button") to the
// first candidate that is actually visible.
package locator

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

// Locator is one strategy for finding an element. Candidates renders a
// JavaScript expression that evaluates to an Array of elements in document
// order; Pick selects which visible match is the target.
type Locator interface {
	Candidates() string
	Pick() int
	String() string
}

// CSS matches an exact CSS selector.
type CSS struct {
	Selector string
}

func (l CSS) Candidates() string {
	return fmt.Sprintf("Array.from(document.querySelectorAll(%s))", quote(l.Selector))
}
func (l CSS) Pick() int      { return 0 }
func (l CSS) String() string { return "css=" + l.Selector }

// Role matches an ARIA role (explicit or implied by the tag) with an optional
// accessible name, compared case-insensitively as a substring.
type Role struct {
	Role string
	Name string
}

var impliedRoles = map[string]string{
	"button":   "button, input[type=button], input[type=submit], [role=button]",
	"link":     "a[href], [role=link]",
	"textbox":  "input:not([type]), input[type=text], input[type=email], input[type=search], textarea, [role=textbox]",
	"checkbox": "input[type=checkbox], [role=checkbox]",
	"tab":      "[role=tab]",
}

func (l Role) Candidates() string {
	sel, ok := impliedRoles[l.Role]
	if !ok {
		sel = fmt.Sprintf("[role=%s]", l.Role)
	}
	base := fmt.Sprintf("Array.from(document.querySelectorAll(%s))", quote(sel))
	if l.Name == "" {
		return base
	}
	return fmt.Sprintf(`%s.filter(el => {
  const n = (el.getAttribute('aria-label') || el.innerText || el.value || '').trim().toLowerCase();
  return n.includes(%s);
})`, base, quote(strings.ToLower(l.Name)))
}
func (l Role) Pick() int { return 0 }
func (l Role) String() string {
	if l.Name == "" {
		return "role=" + l.Role
	}
	return fmt.Sprintf("role=%s[name=%q]", l.Role, l.Name)
}

// Text matches elements by their rendered text. Without Tags the deepest
// matching element wins, so a wrapper div never shadows the label inside it.
type Text struct {
	Text  string
	Tags  []string
	Exact bool
}

func (l Text) Candidates() string {
	scope := "*"
	if len(l.Tags) > 0 {
		scope = strings.Join(l.Tags, ", ")
	}
	want := strings.ToLower(strings.TrimSpace(l.Text))
	match := fmt.Sprintf("t => t.includes(%s)", quote(want))
	if l.Exact {
		match = fmt.Sprintf("t => t === %s", quote(want))
	}
	expr := fmt.Sprintf(`(() => {
  const m = %s;
  const txt = el => (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim().toLowerCase();
  return Array.from(document.querySelectorAll(%s)).filter(el => m(txt(el)))`, match, quote(scope))
	if len(l.Tags) == 0 {
		expr += `.filter(el => !Array.from(el.children).some(c => m(txt(c))))`
	}
	return expr + ";\n})()"
}
func (l Text) Pick() int { return 0 }
func (l Text) String() string {
	if len(l.Tags) > 0 {
		return fmt.Sprintf("text=%q in %s", l.Text, strings.Join(l.Tags, ","))
	}
	return fmt.Sprintf("text=%q", l.Text)
}

// Class matches a single CSS class name.
type Class struct {
	Name string
}

func (l Class) Candidates() string {
	return fmt.Sprintf("Array.from(document.getElementsByClassName(%s))", quote(l.Name))
}
func (l Class) Pick() int      { return 0 }
func (l Class) String() string { return "class=" + l.Name }

// Nth is the generic positional strategy: the Index-th visible match of a
// broad selector. It backs the degraded fallbacks ("first visible input").
type Nth struct {
	Selector string
	Index    int
}

func (l Nth) Candidates() string { return CSS{Selector: l.Selector}.Candidates() }
func (l Nth) Pick() int          { return l.Index }
func (l Nth) String() string     { return fmt.Sprintf("nth=%s[%d]", l.Selector, l.Index) }

// visibleJS is the visibility predicate shared by every locator.
const visibleJS = `el => {
  if (!el || !el.isConnected) return false;
  const s = window.getComputedStyle(el);
  if (s.display === 'none' || s.visibility === 'hidden' || parseFloat(s.opacity || '1') === 0) return false;
  const r = el.getBoundingClientRect();
  return r.width > 0 && r.height > 0;
}`

// Select renders an expression that evaluates to the target element of l, or
// null when no visible candidate exists.
func Select(l Locator) string {
	return fmt.Sprintf(`(() => {
  const visible = %s;
  const els = (%s).filter(visible);
  return els[%d] || null;
})()`, visibleJS, l.Candidates(), l.Pick())
}

func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
