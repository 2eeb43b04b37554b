package taskcore

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
)

// DefaultSummaryPromptTemplate is the prompt used to summarize the oldest history segment. It is a
// text/template receiving SummaryTemplateData.
const DefaultSummaryPromptTemplate = `You are summarizing the earlier part of an autonomous agent's working log so that it can continue the mission without the original messages.

Preserve:
- the mission and any answers the user gave
- which tasks were completed and the key data their tools returned
- failures, their errors and any replanning decisions
- any constraints or commitments that still apply

Be concise. Output only the summary text.

Log ({{.MessageCount}} messages):
{{range .Messages}}[{{.Role}}{{if .Name}}:{{.Name}}{{end}}] {{.Content}}
{{end}}`

// SummaryTemplateData is passed to the summary prompt template.
type SummaryTemplateData struct {
	Messages     []Message
	MessageCount int
}

var errNoSummarizer = goerr.New("summarizer is not configured")

func renderSummaryPrompt(tmpl string, msgs []Message) (string, error) {
	t, err := template.New("summary").Parse(tmpl)
	if err != nil {
		return "", goerr.Wrap(err, "failed to parse summary prompt template")
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, SummaryTemplateData{Messages: msgs, MessageCount: len(msgs)}); err != nil {
		return "", goerr.Wrap(err, "failed to render summary prompt template")
	}
	return buf.String(), nil
}

func summarize(ctx context.Context, g TextGenerator, tmpl string, msgs []Message) (string, error) {
	if g == nil {
		return "", errNoSummarizer
	}

	prompt, err := renderSummaryPrompt(tmpl, msgs)
	if err != nil {
		return "", err
	}

	summary, err := g.GenerateText(ctx, prompt)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate summary")
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", goerr.New("summarizer returned empty text")
	}
	return summary, nil
}
