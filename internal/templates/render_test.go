package templates

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

func welcomeTemplate() *mq.Template {
	return &mq.Template{
		Name:            "welcome",
		Revision:        1,
		SubjectTemplate: "Welcome {{ first_name }}",
		HTMLTemplate:    "<p>Hello {{ first_name }}</p>",
		TextTemplate:    "Hello {{ first_name }}",
		RequiredVars:    []string{"first_name"},
	}
}

func TestRender(t *testing.T) {
	r := NewRenderer(RenderOptions{})
	out, err := r.Render(welcomeTemplate(), map[string]any{"first_name": "Ana"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := &Rendered{Subject: "Welcome Ana", HTML: "<p>Hello Ana</p>", Text: "Hello Ana"}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("Render() = %+v, want %+v", out, want)
	}
}

func TestRenderMissingVars(t *testing.T) {
	tpl := welcomeTemplate()
	tpl.RequiredVars = []string{"plan", "first_name", "account"}

	_, err := NewRenderer(RenderOptions{}).Render(tpl, map[string]any{"plan": nil})
	var mve *mq.MissingVarsError
	if !errors.As(err, &mve) {
		t.Fatalf("Render() error = %v, want *MissingVarsError", err)
	}
	if want := []string{"account", "first_name"}; !reflect.DeepEqual(mve.Vars, want) {
		t.Errorf("MissingVarsError.Vars = %v, want %v", mve.Vars, want)
	}
}

func TestRenderEmptyContextNamesVariable(t *testing.T) {
	_, err := NewRenderer(RenderOptions{}).Render(welcomeTemplate(), map[string]any{})
	var mve *mq.MissingVarsError
	if !errors.As(err, &mve) || len(mve.Vars) != 1 || mve.Vars[0] != "first_name" {
		t.Errorf("Render() error = %v, want missing first_name", err)
	}
}

func TestRenderSubjectHeaderInjection(t *testing.T) {
	_, err := NewRenderer(RenderOptions{}).Render(welcomeTemplate(), map[string]any{"first_name": "Ana\nBcc: x"})

	var re *mq.RenderError
	if !errors.As(err, &re) {
		t.Fatalf("Render() error = %v, want *RenderError", err)
	}
	var ve *mq.ValidationError
	if !errors.As(err, &ve) || ve.Field != "subject" {
		t.Errorf("Render() error = %v, want ValidationError on subject", err)
	}
}

func TestRenderBodyMayContainNewlines(t *testing.T) {
	tpl := welcomeTemplate()
	tpl.TextTemplate = "Hello\n{{ first_name }}\n"
	out, err := NewRenderer(RenderOptions{}).Render(tpl, map[string]any{"first_name": "Ana"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if out.Text != "Hello\nAna\n" {
		t.Errorf("Text = %q", out.Text)
	}
}

func TestRenderSizeLimit(t *testing.T) {
	r := NewRenderer(RenderOptions{MaxBytes: 40})
	_, err := r.Render(welcomeTemplate(), map[string]any{"first_name": strings.Repeat("x", 20)})
	var re *mq.RenderError
	if !errors.As(err, &re) {
		t.Fatalf("Render() error = %v, want *RenderError", err)
	}
	if !strings.Contains(re.Error(), "exceeds limit") {
		t.Errorf("Render() error = %v", re)
	}
}

func TestRenderRejectsFileTags(t *testing.T) {
	for _, src := range []string{
		`{% include "secrets.txt" %}`,
		`{%- render 'partial' %}`,
	} {
		tpl := welcomeTemplate()
		tpl.HTMLTemplate = src
		_, err := NewRenderer(RenderOptions{}).Render(tpl, map[string]any{"first_name": "Ana"})
		var re *mq.RenderError
		if !errors.As(err, &re) || re.Part != "html" {
			t.Errorf("Render(%q) error = %v, want RenderError on html", src, err)
		}
	}
}

func TestRenderStrictVariables(t *testing.T) {
	tpl := welcomeTemplate()
	tpl.TextTemplate = "{% assign greeting = 'Hi' %}{{ greeting }} {{ first_name }} {% for item in items %}{{ item }}{{ forloop.index }}{% endfor %}{{ plan }}"

	lax := NewRenderer(RenderOptions{})
	if _, err := lax.Render(tpl, map[string]any{"first_name": "Ana", "items": []string{"a"}}); err != nil {
		t.Fatalf("lax Render() error = %v", err)
	}

	strict := NewRenderer(RenderOptions{Strict: true})
	_, err := strict.Render(tpl, map[string]any{"first_name": "Ana", "items": []string{"a"}})
	var re *mq.RenderError
	if !errors.As(err, &re) || !strings.Contains(re.Error(), "plan") {
		t.Errorf("strict Render() error = %v, want undefined plan", err)
	}

	if _, err := strict.Render(tpl, map[string]any{"first_name": "Ana", "items": []string{"a"}, "plan": "pro"}); err != nil {
		t.Errorf("strict Render() with all vars error = %v", err)
	}
}

func TestRenderMarkdown(t *testing.T) {
	tpl := &mq.Template{
		Name:            "digest",
		SubjectTemplate: "Digest",
		HTMLTemplate:    "# Hello {{ name }}\n\n<script>alert(1)</script>",
		HTMLMarkdown:    true,
	}
	out, err := NewRenderer(RenderOptions{}).Render(tpl, map[string]any{"name": "Ana"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out.HTML, "<h1>Hello Ana</h1>") {
		t.Errorf("HTML = %q, want heading", out.HTML)
	}
	if strings.Contains(out.HTML, "<script>") {
		t.Errorf("HTML = %q, script not removed", out.HTML)
	}
	if !strings.HasPrefix(out.Text, "# Hello Ana") {
		t.Errorf("Text = %q, want rendered markdown source", out.Text)
	}
}

func TestRenderDeriveText(t *testing.T) {
	tpl := welcomeTemplate()
	tpl.TextTemplate = ""
	tpl.HTMLTemplate = "<p>Hello <b>{{ first_name }}</b></p><p>Bye &amp; thanks</p>"

	out, err := NewRenderer(RenderOptions{DeriveText: true}).Render(tpl, map[string]any{"first_name": "Ana"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out.Text, "Hello Ana") || !strings.Contains(out.Text, "Bye & thanks") {
		t.Errorf("Text = %q", out.Text)
	}
	if strings.Contains(out.Text, "<") {
		t.Errorf("Text = %q still contains markup", out.Text)
	}

	out, _ = NewRenderer(RenderOptions{}).Render(tpl, map[string]any{"first_name": "Ana"})
	if out.Text != "" {
		t.Errorf("Text = %q, want empty without DeriveText", out.Text)
	}
}

func TestUndefinedVars(t *testing.T) {
	tests := []struct {
		name string
		src  string
		vars map[string]any
		want []string
	}{
		{
			name: "output expressions",
			src:  "{{ a }} {{b.c}} {{- d | upcase }} {{ true }} {{ a }}",
			vars: map[string]any{"d": 1},
			want: []string{"a", "b"},
		},
		{
			name: "if and unless conditions",
			src:  "{% if vip and plan.tier == 'gold' %}x{% elsif trial %}y{% endif %}{% unless muted %}z{% endunless %}",
			vars: map[string]any{"plan": map[string]any{}},
			want: []string{"muted", "trial", "vip"},
		},
		{
			name: "for collection and loop variable",
			src:  "{% for item in items limit:2 %}{{ item.name }}{{ forloop.index }}{% endfor %}",
			want: []string{"items"},
		},
		{
			name: "case and when",
			src:  "{% case status %}{% when 'paid' %}ok{% when other %}no{% endcase %}",
			vars: map[string]any{"status": "paid"},
			want: []string{"other"},
		},
		{
			name: "assign reads its source",
			src:  "{% assign total = price | times: qty %}{{ total }}",
			vars: map[string]any{},
			want: []string{"price"},
		},
		{
			name: "string literals and operators ignored",
			src:  `{% if name contains "vip and gold" or 'x' == blank %}{% endif %}`,
			vars: map[string]any{"name": "Ana"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UndefinedVars(tt.src, tt.vars)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("UndefinedVars() = %v, want %v", got, tt.want)
			}
		})
	}
}
