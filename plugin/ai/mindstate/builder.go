package mindstate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultIdentityKernel is used when no kernel is configured.
const DefaultIdentityKernel = "You are a steady, curious companion. You remember what people share, " +
	"you notice how they feel, and you answer as yourself rather than as a tool."

const (
	maxTopicRunes  = 60
	maxAnchorRunes = 80
)

// intentSentences maps an intent to the sentence placed in the snapshot.
var intentSentences = map[Intent]string{
	IntentQuestion:     "They are asking you something directly.",
	IntentVenting:      "They need to be heard more than fixed.",
	IntentSharing:      "They are sharing something with you.",
	IntentRequest:      "They want your help with something specific.",
	IntentGreeting:     "They are saying hello.",
	IntentContinuation: "They are continuing the conversation you were having.",
}

// Builder merges identity, working memory and the context brief into a Mindstate.
// It is pure: the same inputs always yield the same Mindstate.
type Builder struct {
	identityKernel string
}

// NewBuilder creates a Builder with the given identity kernel.
func NewBuilder(identityKernel string) *Builder {
	if strings.TrimSpace(identityKernel) == "" {
		identityKernel = DefaultIdentityKernel
	}
	return &Builder{identityKernel: identityKernel}
}

// Build creates the Mindstate for the next turn. brief may be nil.
func (b *Builder) Build(previous []Turn, brief *ContextBrief) *Mindstate {
	ms := &Mindstate{
		IdentityKernel: b.identityKernel,
		WorkingMemory:  buildWorkingMemory(previous, brief),
		Associations:   []Association{},
	}
	if brief != nil {
		ms.Associations = append(ms.Associations, brief.Associations...)
		ms.SituationSnapshot = Snapshot(brief)
	}
	return ms
}

// Build is a convenience wrapper using the default identity kernel.
func Build(previous []Turn, brief *ContextBrief) *Mindstate {
	return NewBuilder("").Build(previous, brief)
}

func buildWorkingMemory(previous []Turn, brief *ContextBrief) WorkingMemory {
	wm := WorkingMemory{EmotionalBaseline: EmotionNeutral}
	if brief != nil && brief.DetectedEmotion != "" {
		wm.EmotionalBaseline = brief.DetectedEmotion
	}
	if len(previous) == 0 {
		return wm
	}

	last := previous[len(previous)-1]
	wm.LastTopic = truncateRunes(strings.TrimSpace(last.UserMessage), maxTopicRunes)
	wm.OpenLoops = openQuestions(last.UserMessage)
	wm.ContinuityAnchor = truncateRunes(strings.TrimSpace(last.Response), maxAnchorRunes)
	return wm
}

// Snapshot synthesizes the situation text from a brief. Parts are emitted in a
// fixed order and empty parts are dropped.
func Snapshot(brief *ContextBrief) string {
	if brief == nil {
		return ""
	}

	parts := []string{
		emotionSentence(brief),
		deref(brief.RelationshipHistory),
		intentSentences[brief.PrimaryIntent],
		brief.SuggestedApproach,
		listSentence("You remember they", brief.UserPreferences, "; "),
		listSentence("Worth exploring", brief.TopicsToExplore, ", "),
	}
	if brief.ToneGuidance != "" {
		parts = append(parts, fmt.Sprintf("Tone: %s.", brief.ToneGuidance))
	}

	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func emotionSentence(brief *ContextBrief) string {
	var sb strings.Builder
	if brief.DetectedEmotion != "" && brief.DetectedEmotion != EmotionNeutral {
		fmt.Fprintf(&sb, "They seem %s.", brief.DetectedEmotion)
	}
	if brief.EmotionalGuidance != "" {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(brief.EmotionalGuidance)
	}
	return sb.String()
}

func listSentence(prefix string, items []string, sep string) string {
	if len(items) == 0 {
		return ""
	}
	return fmt.Sprintf("%s: %s.", prefix, strings.Join(items, sep))
}

func openQuestions(message string) []string {
	var loops []string
	start := 0
	for i, r := range message {
		switch r {
		case '?':
			if q := strings.TrimSpace(message[start : i+1]); len(q) > 1 {
				loops = append(loops, q)
			}
			start = i + 1
		case '.', '!', '\n':
			start = i + 1
		}
	}
	return loops
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
