package templates

import (
	"reflect"
	"testing"

	"github.com/ahmetk3436/herald/internal/models"
	"github.com/ahmetk3436/herald/internal/variables"
)

func tpl(subject, content string) *models.EmailTemplate {
	return &models.EmailTemplate{Name: "t", Subject: subject, Content: content}
}

func TestRender_TitleEscapedContentRaw(t *testing.T) {
	r := NewRenderer(variables.New())
	vars := variables.Variables{
		"title":   `CPU > 80% <prod> & "db"`,
		"content": `<p><b>value</b>: 91</p>`,
	}

	msg := r.Render(tpl("Alert: {{title}}", "<h1>{{title}}</h1>{{{content}}}"), vars)

	if msg.Subject != `Alert: CPU > 80% <prod> & "db"` {
		t.Errorf("Subject: got %q", msg.Subject)
	}
	want := `<h1>CPU &gt; 80% &lt;prod&gt; &amp; &#34;db&#34;</h1><p><b>value</b>: 91</p>`
	if msg.HTML != want {
		t.Errorf("HTML:\n got %q\nwant %q", msg.HTML, want)
	}
}

func TestRender_MissingVariablesAreEmpty(t *testing.T) {
	r := NewRenderer(variables.New())
	msg := r.Render(tpl("[{{ severity }}] {{title}}", "a{{{content}}}b{{ other }}c"), variables.Variables{"title": "x"})

	if msg.Subject != "[] x" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "[] x")
	}
	if msg.HTML != "abc" {
		t.Errorf("HTML: got %q, want abc", msg.HTML)
	}
}

func TestRender_NonStringValues(t *testing.T) {
	r := NewRenderer(variables.New())
	vars := variables.Variables{"code": 503.0, "up": false, "extra": map[string]any{"k": "v"}}

	msg := r.Render(tpl("{{code}}", "{{up}} {{{extra}}}"), vars)
	if msg.Subject != "503" {
		t.Errorf("Subject: got %q, want 503", msg.Subject)
	}
	if msg.HTML != `false {"k":"v"}` {
		t.Errorf("HTML: got %q", msg.HTML)
	}
}

func TestRender_SubjectSingleLine(t *testing.T) {
	r := NewRenderer(variables.New())
	msg := r.Render(tpl("{{title}}", ""), variables.Variables{"title": "line1\r\nBcc: evil@example.com"})
	if msg.Subject != "line1 Bcc: evil@example.com" {
		t.Errorf("Subject: got %q", msg.Subject)
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders(tpl("{{title}} {{ host }}", "{{title}}{{{content}}}"))
	want := []string{"title", "host", "content"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Placeholders: got %v, want %v", got, want)
	}
}
