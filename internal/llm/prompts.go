package llm

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"github.com/rennixue/question-app/internal/question"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").Option("missingkey=error").ParseFS(promptFS, "prompts/*.tmpl"))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name+".tmpl", data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

type generateData struct {
	question.GeneratePrompt
	TypeNatural string
	Known       []string
}

func generateMessage(p question.GeneratePrompt) (string, error) {
	data := generateData{GeneratePrompt: p, TypeNatural: p.Type.Natural()}
	name := "generate"
	if len(p.Known) > 0 {
		name = "generate_second"
		data.Known = make([]string, len(p.Known))
		for i, q := range p.Known {
			data.Known[i] = q.Content
		}
	}
	return render(name, data)
}
