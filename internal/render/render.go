// Package render turns a workflow template and caller-supplied variables into
// workflow text.
//
// Two constructs are understood. A placeholder ${{ variables.NAME }} is
// replaced by the literal text of the variable's value. A line that holds
// nothing but ${{ if variables.NAME }}, ${{ else }} or ${{ endif }} opens,
// splits or closes a conditional block; blocks nest. Anything the engine
// cannot resolve (an unknown variable, an expression such as
// ${{ matrix.os }}) is left in the output untouched.
//
// Nothing is escaped. Template bodies must come from a trusted catalog since
// the output is committed as an executable CI definition.
package render

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/valyala/fasttemplate"

	"workflow-provisioner/pkg/models"
)

const (
	startTag       = "${{"
	endTag         = "}}"
	variablePrefix = "variables."
)

// ValidationError lists every variable problem found for one template.
type ValidationError struct {
	TemplateID string
	Problems   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid variables for template %s: %s", e.TemplateID, strings.Join(e.Problems, "; "))
}

// Render validates supplied against the template schema and renders the body.
func Render(tpl models.WorkflowTemplate, supplied map[string]any) (string, error) {
	values, err := Resolve(tpl, supplied)
	if err != nil {
		return "", err
	}
	return Substitute(tpl.Body, values), nil
}

// Resolve computes the effective value of every declared variable. Supplied
// values win over defaults and must match the declared kind. A required
// variable with neither a non-empty supplied value nor a default is an error.
// Supplied names the template does not declare are ignored.
func Resolve(tpl models.WorkflowTemplate, supplied map[string]any) (map[string]models.Value, error) {
	values := make(map[string]models.Value, len(tpl.Variables))
	var problems []string

	for _, decl := range tpl.Variables {
		raw, ok := supplied[decl.Name]
		if ok && !blank(raw) {
			val, err := models.CoerceValue(decl.Kind, raw)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", decl.Name, err))
				continue
			}
			values[decl.Name] = val
			continue
		}
		if decl.Default != nil {
			values[decl.Name] = *decl.Default
			continue
		}
		if decl.Required {
			problems = append(problems, fmt.Sprintf("%s: required", decl.Name))
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{TemplateID: tpl.ID, Problems: problems}
	}
	return values, nil
}

func blank(raw any) bool {
	if raw == nil {
		return true
	}
	s, ok := raw.(string)
	return ok && strings.TrimSpace(s) == ""
}

// Substitute resolves conditional blocks and then placeholders in body.
// It is a pure function of its inputs.
func Substitute(body string, values map[string]models.Value) string {
	lines := strings.SplitAfter(body, "\n")
	segs, _, _ := parseSegments(lines, 0, false, false)

	var b strings.Builder
	b.Grow(len(body))
	emit(&b, segs, values)

	return fasttemplate.ExecuteFuncString(b.String(), startTag, endTag, func(w io.Writer, tag string) (int, error) {
		expr := strings.TrimSpace(tag)
		if name, ok := strings.CutPrefix(expr, variablePrefix); ok {
			if v, found := values[name]; found {
				return w.Write([]byte(v.String()))
			}
		}
		return w.Write([]byte(startTag + tag + endTag))
	})
}

var directiveRe = regexp.MustCompile(`^\$\{\{\s*(?:if\s+variables\.([A-Za-z_][A-Za-z0-9_-]*)|(else)|(endif))\s*\}\}$`)

type directive int

const (
	noDirective directive = iota
	ifDirective
	elseDirective
	endifDirective
)

func parseDirective(line string) (directive, string) {
	m := directiveRe.FindStringSubmatch(strings.TrimSpace(line))
	switch {
	case m == nil:
		return noDirective, ""
	case m[1] != "":
		return ifDirective, m[1]
	case m[2] != "":
		return elseDirective, ""
	default:
		return endifDirective, ""
	}
}

type segment struct {
	text  string
	block *conditional
}

type conditional struct {
	variable  string
	ifLine    string
	elseLine  string
	endLine   string
	then      []segment
	otherwise []segment
	hasElse   bool
}

// parseSegments reads lines from i until EOF or, when nested, until an
// else/endif that belongs to the enclosing block. It returns the directive
// it stopped on.
func parseSegments(lines []string, i int, nested, stopOnElse bool) ([]segment, int, directive) {
	var out []segment
	for i < len(lines) {
		line := lines[i]
		d, name := parseDirective(line)
		switch d {
		case ifDirective:
			c := &conditional{variable: name, ifLine: line}
			var stop directive
			c.then, i, stop = parseSegments(lines, i+1, true, true)
			if stop == elseDirective {
				c.hasElse = true
				c.elseLine = lines[i]
				c.otherwise, i, stop = parseSegments(lines, i+1, true, false)
			}
			if stop != endifDirective {
				// unterminated block: keep it verbatim
				out = append(out, c.verbatim()...)
				continue
			}
			c.endLine = lines[i]
			i++
			out = append(out, segment{block: c})
		case elseDirective:
			if nested && stopOnElse {
				return out, i, elseDirective
			}
			out = append(out, segment{text: line})
			i++
		case endifDirective:
			if nested {
				return out, i, endifDirective
			}
			out = append(out, segment{text: line})
			i++
		default:
			out = append(out, segment{text: line})
			i++
		}
	}
	return out, i, noDirective
}

func (c *conditional) verbatim() []segment {
	out := []segment{{text: c.ifLine}}
	out = append(out, c.then...)
	if c.hasElse {
		out = append(out, segment{text: c.elseLine})
		out = append(out, c.otherwise...)
	}
	return out
}

func emit(b *strings.Builder, segs []segment, values map[string]models.Value) {
	for _, seg := range segs {
		if seg.block == nil {
			b.WriteString(seg.text)
			continue
		}
		c := seg.block
		v, ok := values[c.variable]
		if !ok {
			b.WriteString(c.ifLine)
			emit(b, c.then, values)
			if c.hasElse {
				b.WriteString(c.elseLine)
				emit(b, c.otherwise, values)
			}
			b.WriteString(c.endLine)
			continue
		}
		if v.Truthy() {
			emit(b, c.then, values)
		} else {
			emit(b, c.otherwise, values)
		}
	}
}
