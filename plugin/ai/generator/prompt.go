package generator

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/mindloop/plugin/ai/mindstate"
)

// SystemPrompt renders the mindstate as the system message.
func SystemPrompt(ms *mindstate.Mindstate) string {
	if ms == nil {
		return mindstate.DefaultIdentityKernel
	}

	var sb strings.Builder
	sb.WriteString(ms.IdentityKernel)

	wm := ms.WorkingMemory
	var carried []string
	if wm.LastTopic != "" {
		carried = append(carried, fmt.Sprintf("Last time they said: %q.", wm.LastTopic))
	}
	if wm.ContinuityAnchor != "" {
		carried = append(carried, fmt.Sprintf("You last replied: %q.", wm.ContinuityAnchor))
	}
	if len(wm.OpenLoops) > 0 {
		carried = append(carried, "Still open from last time: "+strings.Join(wm.OpenLoops, " "))
	}
	if len(carried) > 0 {
		sb.WriteString("\n\n## Working memory\n")
		sb.WriteString(strings.Join(carried, "\n"))
	}

	if len(ms.Associations) > 0 {
		sb.WriteString("\n\n## What comes to mind\n")
		for _, a := range ms.Associations {
			fmt.Fprintf(&sb, "- (%s, %s) %s\n", a.Type, a.Intensity, a.Text)
		}
	}

	if ms.SituationSnapshot != "" {
		sb.WriteString("\n\n## Right now\n")
		sb.WriteString(ms.SituationSnapshot)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// BuildMessages returns the chat messages for one turn.
func BuildMessages(ms *mindstate.Mindstate, message string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(ms)},
		{Role: openai.ChatMessageRoleUser, Content: message},
	}
}
