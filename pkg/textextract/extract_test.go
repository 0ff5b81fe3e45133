package textextract

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

const page = `<!DOCTYPE html>
<html><head><title> Animal   Facts </title>
<style>.x{color:red}</style>
<script>var damn = 1;</script>
</head>
<body>
<h1>Giraffes</h1><p>Tall animals.</p>
<img src="/a.png" alt="a giraffe"><img src=" https://cdn.example.com/b.jpg ">
<img alt="no source">
</body></html>`

func TestExtractHTML(t *testing.T) {
	doc, err := Extract([]byte(page), "text/html; charset=utf-8")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Kind != "html" || doc.Title != "Animal Facts" {
		t.Fatalf("doc = %+v", doc)
	}
	want := []string{"/a.png", "https://cdn.example.com/b.jpg"}
	if !reflect.DeepEqual(doc.Images, want) {
		t.Fatalf("images = %v", doc.Images)
	}
	if strings.Contains(doc.Text, "damn") || strings.Contains(doc.Text, "color") {
		t.Fatalf("script/style leaked into text: %q", doc.Text)
	}
	for _, w := range []string{"Giraffes Tall animals.", "a giraffe", "Animal Facts"} {
		if !strings.Contains(doc.Text, w) {
			t.Errorf("text %q missing %q", doc.Text, w)
		}
	}
}

func TestExtract_Plain(t *testing.T) {
	doc, err := Extract([]byte("  hello there \n"), "text/plain")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Text != "hello there" || doc.Kind != "text" {
		t.Fatalf("doc = %+v", doc)
	}
}

func TestExtract_Errors(t *testing.T) {
	if _, err := Extract([]byte{0xff, 0xd8}, "image/jpeg"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v", err)
	}
	if _, err := Extract([]byte("%PDF-1.4 garbage"), "application/pdf"); err == nil {
		t.Fatal("expected broken PDF to fail")
	}
	if _, err := Extract([]byte{0xff, 0xfe, 0xfd}, "text/plain"); err == nil {
		t.Fatal("expected invalid UTF-8 to fail")
	}
}

func TestMediaType(t *testing.T) {
	tests := []struct {
		header string
		body   string
		want   string
	}{
		{"Text/HTML; charset=UTF-8", "", "text/html"},
		{"", "<html></html>", "text/html"},
		{"", "%PDF-1.7", "application/pdf"},
		{"", "just words", "text/plain"},
	}
	for _, tt := range tests {
		if got := MediaType(tt.header, []byte(tt.body)); got != tt.want {
			t.Errorf("MediaType(%q, %q) = %q, want %q", tt.header, tt.body, got, tt.want)
		}
	}
}

func TestCensorHTML(t *testing.T) {
	in := `<html><head><title>damn title</title><script>var damn=1</script></head>` +
		`<body><p class="damn">well damn</p><img src="/bad.png" srcset="/bad2.png 2x" alt="damn pic"><img src="/ok.png"></body></html>`
	mask := func(s string) string { return strings.ReplaceAll(s, "damn", "****") }

	out, err := CensorHTML([]byte(in), mask, []string{"/bad.png"})
	if err != nil {
		t.Fatal(err)
	}
	got := string(out)
	for _, want := range []string{
		"<title>**** title</title>",
		"var damn=1",
		`class="damn"`,
		"well ****",
		`alt="**** pic"`,
		BlankImage,
		`data-safebrowse="blocked"`,
		`src="/ok.png"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "/bad.png") || strings.Contains(got, "srcset") {
		t.Errorf("blocked image still referenced:\n%s", got)
	}
}

func TestExtractHTML_InlineRuns(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"inline split", `<p>da<b>m</b>n it</p>`, "damn it"},
		{"nested inline", `<p><a href="/x">da<em>mn</em></a> ok</p>`, "damn ok"},
		{"block boundary", `<div>da</div><div>mn</div>`, "da mn"},
		{"line break", `<p>da<br>mn</p>`, "da mn"},
		{"list items", `<ul><li>one</li><li>two</li></ul>`, "one two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ExtractHTML([]byte("<html><body>" + tt.body + "</body></html>"))
			if err != nil {
				t.Fatal(err)
			}
			if doc.Text != tt.want {
				t.Fatalf("text = %q, want %q", doc.Text, tt.want)
			}
		})
	}
}

func TestCensorHTML_InlineSplit(t *testing.T) {
	mask := func(s string) string { return strings.ReplaceAll(s, "damn", "****") }
	in := `<html><body><p>well da<b>mn</b> it</p><div>da</div><div>mn</div></body></html>`

	out, err := CensorHTML([]byte(in), mask, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := string(out)
	if !strings.Contains(got, "<p>well **<b>**</b> it</p>") {
		t.Errorf("inline split not censored:\n%s", got)
	}
	if !strings.Contains(got, "<div>da</div><div>mn</div>") {
		t.Errorf("text across blocks was censored:\n%s", got)
	}
}

func TestCensorHTML_LengthChangingCensor(t *testing.T) {
	mask := func(s string) string { return strings.ReplaceAll(s, "damn", "[removed]") }
	in := `<html><body><p>oh damn <i>x</i></p></body></html>`

	out, err := CensorHTML([]byte(in), mask, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(out); !strings.Contains(got, "<p>oh [removed] <i>x</i></p>") {
		t.Errorf("output = %s", got)
	}
}
