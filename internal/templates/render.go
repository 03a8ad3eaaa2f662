package templates

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/osteele/liquid"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// File-reading tags are not available to templates.
var forbiddenTag = regexp.MustCompile(`\{%-?\s*(include|render)\b`)

var (
	outputVar = regexp.MustCompile(`\{\{-?\s*([a-zA-Z_][a-zA-Z0-9_]*)`)
	tagExpr   = regexp.MustCompile(`(?s)\{%-?\s*(if|elsif|unless|case|when|for|tablerow|assign|cycle)\b(.*?)-?%\}`)
	strLit    = regexp.MustCompile(`'[^']*'|"[^"]*"`)
	ident     = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
	localVar  = regexp.MustCompile(`\{%-?\s*(?:assign|capture|increment|decrement)\s+([a-zA-Z_][a-zA-Z0-9_]*)|\{%-?\s*(?:for|tablerow)\s+([a-zA-Z_][a-zA-Z0-9_]*)\s+in\b`)
)

// RenderOptions configures a Renderer.
type RenderOptions struct {
	// Strict fails renders that reference variables absent from the context.
	Strict bool
	// MaxBytes caps subject+html+text after rendering. Zero means
	// DefaultMaxBytes.
	MaxBytes int
	// DeriveText fills an empty text body from the rendered HTML.
	DeriveText bool
}

// Rendered is the final content of one render.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer renders stored templates with Liquid. It is safe for concurrent use.
type Renderer struct {
	engine *liquid.Engine
	opts   RenderOptions
}

// NewRenderer creates a Renderer.
func NewRenderer(opts RenderOptions) *Renderer {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	return &Renderer{engine: liquid.NewEngine(), opts: opts}
}

// Render checks the required variables and renders every part of t.
func (r *Renderer) Render(t *mq.Template, vars map[string]any) (*Rendered, error) {
	if missing := MissingVars(t.RequiredVars, vars); len(missing) > 0 {
		return nil, &mq.MissingVarsError{Template: t.Name, Vars: missing}
	}

	subject, err := r.renderPart(t.Name, "subject", t.SubjectTemplate, vars)
	if err != nil {
		return nil, err
	}
	if strings.ContainsAny(subject, "\r\n") {
		return nil, &mq.RenderError{
			Template: t.Name,
			Part:     "subject",
			Err:      &mq.ValidationError{Field: "subject", Reason: "header injection detected"},
		}
	}

	out := &Rendered{Subject: subject}
	if t.HTMLTemplate != "" {
		if out.HTML, err = r.renderPart(t.Name, "html", t.HTMLTemplate, vars); err != nil {
			return nil, err
		}
	}
	if t.TextTemplate != "" {
		if out.Text, err = r.renderPart(t.Name, "text", t.TextTemplate, vars); err != nil {
			return nil, err
		}
	}

	if t.HTMLMarkdown && out.HTML != "" {
		markdown := out.HTML
		if out.HTML, err = MarkdownToHTML(markdown); err != nil {
			return nil, &mq.RenderError{Template: t.Name, Part: "html", Err: err}
		}
		if out.Text == "" {
			out.Text = markdown
		}
	}
	if r.opts.DeriveText && out.Text == "" && out.HTML != "" {
		out.Text = HTMLToText(out.HTML)
	}

	if size := len(out.Subject) + len(out.HTML) + len(out.Text); size > r.opts.MaxBytes {
		return nil, &mq.RenderError{
			Template: t.Name,
			Err:      fmt.Errorf("rendered size %d exceeds limit of %d bytes", size, r.opts.MaxBytes),
		}
	}
	return out, nil
}

func (r *Renderer) renderPart(name, part, src string, vars map[string]any) (string, error) {
	if err := CheckSandbox(src); err != nil {
		return "", &mq.RenderError{Template: name, Part: part, Err: err}
	}
	if r.opts.Strict {
		if undefined := UndefinedVars(src, vars); len(undefined) > 0 {
			return "", &mq.RenderError{
				Template: name,
				Part:     part,
				Err:      fmt.Errorf("undefined variables: %s", strings.Join(undefined, ", ")),
			}
		}
	}
	out, err := r.engine.ParseAndRenderString(src, vars)
	if err != nil {
		return "", &mq.RenderError{Template: name, Part: part, Err: err}
	}
	return out, nil
}

// MissingVars returns the required names absent from vars, sorted. Only
// presence is checked; a nil or empty value counts as present.
func MissingVars(required []string, vars map[string]any) []string {
	var missing []string
	for _, name := range required {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	slices.Sort(missing)
	return slices.Compact(missing)
}

// CheckSandbox rejects tags that would read other files.
func CheckSandbox(src string) error {
	if m := forbiddenTag.FindStringSubmatch(src); m != nil {
		return errors.New("tag not allowed: " + m[1])
	}
	return nil
}

// UndefinedVars returns the root names referenced by output expressions and
// by if, unless, case, for and assign tags that are neither in vars nor bound
// inside the template, sorted. Filter arguments are not inspected.
func UndefinedVars(src string, vars map[string]any) []string {
	locals := map[string]bool{"forloop": true, "tablerowloop": true}
	for _, m := range localVar.FindAllStringSubmatch(src, -1) {
		for _, name := range m[1:] {
			if name != "" {
				locals[name] = true
			}
		}
	}

	var names []string
	for _, m := range outputVar.FindAllStringSubmatch(src, -1) {
		names = append(names, m[1])
	}
	for _, m := range tagExpr.FindAllStringSubmatch(src, -1) {
		names = append(names, tagRoots(m[1], m[2])...)
	}

	var undefined []string
	for _, name := range names {
		if locals[name] || isLiteral(name) {
			continue
		}
		if _, ok := vars[name]; !ok {
			undefined = append(undefined, name)
		}
	}
	slices.Sort(undefined)
	return slices.Compact(undefined)
}

// tagRoots returns the root variable names read by one tag expression.
func tagRoots(tag, expr string) []string {
	switch tag {
	case "for", "tablerow":
		_, after, ok := strings.Cut(expr, " in ")
		if !ok {
			return nil
		}
		expr = after
	case "assign":
		_, after, ok := strings.Cut(expr, "=")
		if !ok {
			return nil
		}
		expr = after
	}
	expr, _, _ = strings.Cut(expr, "|")
	expr = strLit.ReplaceAllString(expr, " ")

	var roots []string
	for _, loc := range ident.FindAllStringIndex(expr, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && (expr[start-1] == '.' || isDigit(expr[start-1])) {
			continue
		}
		if end < len(expr) && expr[end] == ':' {
			continue
		}
		if name := expr[start:end]; !isOperator(name) {
			roots = append(roots, name)
		}
	}
	return roots
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isOperator(name string) bool {
	switch name {
	case "and", "or", "contains", "reversed":
		return true
	}
	return false
}

func isLiteral(name string) bool {
	switch name {
	case "true", "false", "nil", "null", "empty", "blank":
		return true
	}
	return false
}
