package browsing

import (
	"bytes"
	"html/template"
	"net/url"

	"github.com/nikhilbhutani/safebrowse/internal/safety"
)

var noticeTmpl = template.Must(template.New("notice").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Page blocked</title>
<style>
body{font-family:sans-serif;background:#f4f7fb;color:#223;text-align:center;padding-top:12vh}
.box{display:inline-block;background:#fff;border-radius:16px;padding:32px 48px;box-shadow:0 2px 12px #0002}
h1{color:#d33}
</style>
</head>
<body>
<div class="box">
<h1>Access denied</h1>
<p>{{.Message}}</p>
{{if .Home}}<p><a href="{{.Home}}">Go back home</a></p>{{end}}
</div>
</body>
</html>
`))

// Messages shown to the child, by reason.
var noticeMessages = map[safety.Reason]string{
	safety.ReasonBlockedList:           "A grown-up has blocked this website.",
	safety.ReasonNotInAllowlist:        "This website is not on your list of allowed websites.",
	safety.ReasonPatternMatch:          "This page has content that is not suitable for you.",
	safety.ReasonClassifierFlag:        "This page has content that is not suitable for you.",
	safety.ReasonClassifierUnavailable: "We could not check this page right now, so it is blocked.",
	safety.ReasonMalformedURL:          "That web address does not look right.",
	safety.ReasonContentUnreadable:     "We could not check this page, so it is blocked.",
}

// NoticeMessage returns the child-facing explanation for a verdict.
func NoticeMessage(reason safety.Reason) string {
	if m, ok := noticeMessages[reason]; ok {
		return m
	}
	return "This page is blocked."
}

// BlockPage renders the fixed replacement document for a denied page.
func BlockPage(reason safety.Reason, home string) []byte {
	var buf bytes.Buffer
	_ = noticeTmpl.Execute(&buf, struct {
		Message string
		Home    string
	}{NoticeMessage(reason), home})
	return buf.Bytes()
}

// NoticeURL returns the address of the access-denied notice for reason.
// It never carries the denied URL.
func NoticeURL(base string, reason safety.Reason) string {
	return base + "?reason=" + url.QueryEscape(string(reason))
}
