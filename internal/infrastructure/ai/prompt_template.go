package ai

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/doeshing/shai-remote/internal/domain"
)

// renderPromptMessages expands model prompt templates with context data and
// ensures a user message exists.
//
// Template variables: {{.Query}}, {{.Prompt}} (query plus context snippet),
// {{.WorkingDir}}, {{.Shell}}, {{.OS}}, {{.User}}, {{.Host}},
// {{.AvailableTools}}.
func renderPromptMessages(model domain.ModelDefinition, query string, ctx domain.ContextSnapshot) ([]domain.PromptMessage, error) {
	data := buildTemplateData(query, ctx)
	messages := model.Prompt
	if len(messages) == 0 {
		messages = defaultTemplateMessages()
	}

	rendered := make([]domain.PromptMessage, 0, len(messages))
	for _, msg := range messages {
		content, err := executeTemplate(msg.Content, data)
		if err != nil {
			return nil, err
		}
		rendered = append(rendered, domain.PromptMessage{
			Role:    msg.Role,
			Content: strings.TrimSpace(content),
		})
	}

	if !hasUserMessage(rendered) {
		rendered = append(rendered, domain.PromptMessage{
			Role:    "user",
			Content: strings.TrimSpace(data.Prompt),
		})
	}
	return rendered, nil
}

type templateData struct {
	Query          string
	Prompt         string
	WorkingDir     string
	Shell          string
	OS             string
	User           string
	Host           string
	AvailableTools string
}

func buildTemplateData(query string, ctx domain.ContextSnapshot) templateData {
	query = strings.TrimSpace(query)
	return templateData{
		Query:          query,
		Prompt:         fmt.Sprintf("%s\n\n%s", query, contextSnippet(ctx)),
		WorkingDir:     ctx.WorkingDir,
		Shell:          ctx.Shell,
		OS:             ctx.OS,
		User:           ctx.User,
		Host:           ctx.Host,
		AvailableTools: strings.Join(ctx.AvailableTools, ", "),
	}
}

func contextSnippet(ctx domain.ContextSnapshot) string {
	lines := []string{fmt.Sprintf("Directory: %s", ctx.WorkingDir)}
	if ctx.Shell != "" {
		lines = append(lines, fmt.Sprintf("Shell: %s", ctx.Shell))
	}
	if ctx.OS != "" {
		lines = append(lines, fmt.Sprintf("OS: %s", ctx.OS))
	}
	if ctx.User != "" && ctx.Host != "" {
		lines = append(lines, fmt.Sprintf("Remote: %s@%s", ctx.User, ctx.Host))
	}
	if tools := strings.Join(ctx.AvailableTools, ", "); tools != "" {
		lines = append(lines, fmt.Sprintf("Available tools: %s", tools))
	}
	return strings.Join(lines, "\n")
}

func executeTemplate(raw string, data templateData) (string, error) {
	tmpl, err := template.New("prompt").Parse(raw)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func hasUserMessage(messages []domain.PromptMessage) bool {
	for _, msg := range messages {
		if strings.EqualFold(msg.Role, "user") {
			return true
		}
	}
	return false
}

func defaultTemplateMessages() []domain.PromptMessage {
	return []domain.PromptMessage{
		{
			Role: "system",
			Content: `You are a cautious assistant that turns requests into one shell command for a remote host.
Reply with a single JSON object and nothing else:
{"command": "...", "confidence": 0.0-1.0, "explanation": "...", "alternatives": ["..."],
 "risk": {"level": "safe|low|medium|high|critical", "score": 0.0-1.0, "factors": ["..."], "warnings": ["..."], "requiresConfirmation": true|false}}
Remote environment:
- Directory: {{.WorkingDir}}
- Shell: {{.Shell}}
- OS: {{.OS}}
{{if .AvailableTools}}- Tools: {{.AvailableTools}}{{end}}`,
		},
		{
			Role:    "user",
			Content: "{{.Prompt}}",
		},
	}
}
