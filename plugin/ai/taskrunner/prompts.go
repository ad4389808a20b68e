package taskrunner

import (
	"fmt"
	"strings"
	"text/template"
)

var promptTemplates = map[TaskType]*template.Template{
	TaskMemoryRetrieval: template.Must(template.New("memory").Parse(`TASK: {{.Type}}
You are the associative memory of a conversational companion.
Given the message below, recall what is worth remembering about this person.
{{- with .Context.history}}
Recent conversation:
{{.}}
{{- end}}

Message from user {{.UserID}}:
"""
{{.Input}}
"""

Respond with ONLY a JSON object:
{"type":"memory_retrieval","memories":[{"content":"...","relevance":0.0,"kind":"preference|teaching|fact|event"}]}`)),

	TaskEmotionClassification: template.Must(template.New("emotion").Parse(`TASK: {{.Type}}
Classify the dominant emotion of this message.
Allowed emotions: neutral, sad, frustrated, anxious, positive, confused.

Message:
"""
{{.Input}}
"""

Respond with ONLY a JSON object:
{"type":"emotion_classification","emotion":"neutral","intensity":0.0,"confidence":0.0}`)),

	TaskIntentRecognition: template.Must(template.New("intent").Parse(`TASK: {{.Type}}
Recognize what the person wants from this message.
Allowed intents: question, venting, sharing, request, greeting, continuation.
{{- with .Context.history}}
Recent conversation:
{{.}}
{{- end}}

Message:
"""
{{.Input}}
"""

Respond with ONLY a JSON object:
{"type":"intent_recognition","intent":"sharing","confidence":0.0,"needs":["..."]}`)),

	TaskInsightGeneration: template.Must(template.New("insight").Parse(`TASK: {{.Type}}
Offer up to three short, non-obvious observations that could help respond well.
{{- with .Context.history}}
Recent conversation:
{{.}}
{{- end}}

Message:
"""
{{.Input}}
"""

Respond with ONLY a JSON object:
{"type":"insight_generation","insights":["..."]}`)),
}

// BuildPrompt renders the instruction text for task.
func BuildPrompt(task Task) (string, error) {
	tmpl, ok := promptTemplates[task.Type]
	if !ok {
		return "", fmt.Errorf("unknown task type %q", task.Type)
	}
	if task.Context == nil {
		task.Context = map[string]string{}
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, task); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", task.Type, err)
	}
	return sb.String(), nil
}
