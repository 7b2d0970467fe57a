package delivery

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"NewsDigest/internal/domain"
)

const nothingNew = "Nothing new in your digest today."

// Rendered is a digest ready for a channel: an HTML document and its Markdown twin.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer turns a DigestMessage into channel-ready documents.
type Renderer struct {
	readerName string
	subject    string
	location   *time.Location
	tmpl       *template.Template
	converter  *md.Converter
}

// NewRenderer builds a renderer. subject may contain %s for the long-form date.
func NewRenderer(readerName, subject string, loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	if subject == "" {
		subject = "Your Daily AI Digest - %s"
	}
	return &Renderer{
		readerName: strings.TrimSpace(readerName),
		subject:    subject,
		location:   loc,
		tmpl:       template.Must(template.New("digest").Parse(digestTemplate)),
		converter:  md.NewConverter("", true, nil),
	}
}

type templateEntry struct {
	Title     string
	Summary   string
	Source    string
	URL       string
	Published string
}

type templateData struct {
	Intro      string
	Entries    []templateEntry
	NothingNew string
}

// Render produces the subject, HTML body and Markdown body.
func (r *Renderer) Render(message domain.DigestMessage) (Rendered, error) {
	date := LongDate(message.RunDate.Start(r.location))

	data := templateData{Intro: r.intro(date, len(message.Entries)), NothingNew: nothingNew}
	for _, e := range message.Entries {
		entry := templateEntry{
			Title:   e.Title,
			Summary: e.Summary,
			Source:  e.Source,
			URL:     e.URL,
		}
		if !e.PublishedAt.IsZero() {
			entry.Published = e.PublishedAt.In(r.location).Format("Jan 2, 15:04")
		}
		data.Entries = append(data.Entries, entry)
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return Rendered{}, fmt.Errorf("render digest html: %w", err)
	}

	text, err := r.converter.ConvertString(buf.String())
	if err != nil {
		return Rendered{}, fmt.Errorf("convert digest to markdown: %w", err)
	}

	subject := r.subject
	if strings.Contains(subject, "%s") {
		subject = fmt.Sprintf(subject, date)
	}

	return Rendered{Subject: subject, HTML: buf.String(), Text: strings.TrimSpace(text)}, nil
}

func (r *Renderer) intro(date string, count int) string {
	greeting := "Hi there"
	if r.readerName != "" {
		greeting = "Hi " + r.readerName
	}
	switch count {
	case 0:
		return fmt.Sprintf("%s, your daily digest is here for %s. There's nothing new today, check back tomorrow.", greeting, date)
	case 1:
		return fmt.Sprintf("%s, your daily digest is here for %s, with one story picked for your interests. Have a good day!", greeting, date)
	default:
		return fmt.Sprintf("%s, your daily digest is here for %s, with %d stories picked for your interests. Have a good day!", greeting, date, count)
	}
}

// LongDate formats t as "8th November 2025".
func LongDate(t time.Time) string {
	day := t.Day()
	return fmt.Sprintf("%d%s %s", day, ordinalSuffix(day), t.Format("January 2006"))
}

func ordinalSuffix(n int) string {
	if n%100 >= 11 && n%100 <= 13 {
		return "th"
	}
	switch n % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

const digestTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Your Daily Digest</title>
</head>
<body style="margin:0;padding:0;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Arial,sans-serif;background-color:#f9fafb;color:#111827;">
  <div style="max-width:600px;margin:0 auto;padding:40px 24px;">
    <p style="font-size:16px;color:#374151;line-height:1.6;">{{.Intro}}</p>
    {{- if .Entries}}
    {{- range .Entries}}
    <div style="margin-bottom:28px;padding-bottom:24px;border-bottom:1px solid #e5e7eb;">
      <h2 style="margin:0 0 8px 0;font-size:18px;"><a href="{{.URL}}" style="color:#111827;text-decoration:none;">{{.Title}}</a></h2>
      <p style="margin:0 0 8px 0;font-size:12px;color:#6b7280;">{{.Source}}{{if .Published}} &middot; {{.Published}}{{end}}</p>
      <p style="margin:0 0 12px 0;font-size:15px;color:#374151;line-height:1.6;">{{.Summary}}</p>
      <a href="{{.URL}}" style="font-size:14px;color:#2563eb;text-decoration:none;">Read more</a>
    </div>
    {{- end}}
    {{- else}}
    <p style="color:#6b7280;">{{.NothingNew}}</p>
    {{- end}}
    <p style="margin-top:40px;font-size:13px;color:#9ca3af;">You're receiving this because you're subscribed to the AI News Digest.</p>
  </div>
</body>
</html>
`
