// Package mindstate defines the per-turn data model (turns, associations,
// context briefs) and builds the situational snapshot consumed by generation.
package mindstate

import (
	"maps"
	"slices"
	"time"
)

// AssociationType is the kind of memory fragment.
type AssociationType string

const (
	AssociationRecollection AssociationType = "recollection"
	AssociationHunch        AssociationType = "hunch"
	AssociationPull         AssociationType = "pull"
	AssociationSignal       AssociationType = "signal"
)

// Intensity grades how strongly an association surfaced.
type Intensity string

const (
	IntensityFaint  Intensity = "faint"
	IntensityMedium Intensity = "medium"
	IntensityStrong Intensity = "strong"
)

// Provenance records where an association came from.
type Provenance string

const (
	ProvenanceMemoryService   Provenance = "memory-service"
	ProvenancePatternFallback Provenance = "pattern-fallback"
	ProvenanceInference       Provenance = "inference"
)

// Association is an immutable retrieved or inferred memory fragment.
type Association struct {
	Type       AssociationType `json:"type"`
	Intensity  Intensity       `json:"intensity"`
	Text       string          `json:"text"`
	Provenance Provenance      `json:"provenance"`
	Tags       []string        `json:"tags,omitempty"` // e.g. "preference", "teaching"
}

// HasTag reports whether the association carries tag.
func (a Association) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Emotion is the detected emotional tone of a message.
type Emotion string

const (
	EmotionNeutral    Emotion = "neutral"
	EmotionSad        Emotion = "sad"
	EmotionFrustrated Emotion = "frustrated"
	EmotionAnxious    Emotion = "anxious"
	EmotionPositive   Emotion = "positive"
	EmotionConfused   Emotion = "confused"
)

// IsNegative reports whether the emotion counts as distress.
func (e Emotion) IsNegative() bool {
	switch e {
	case EmotionSad, EmotionFrustrated, EmotionAnxious:
		return true
	default:
		return false
	}
}

// Intent is the classified primary purpose of a message.
type Intent string

const (
	IntentQuestion     Intent = "question"
	IntentVenting      Intent = "venting"
	IntentSharing      Intent = "sharing"
	IntentRequest      Intent = "request"
	IntentGreeting     Intent = "greeting"
	IntentContinuation Intent = "continuation"
)

// Depth is the suggested response depth.
type Depth string

const (
	DepthBrief    Depth = "brief"
	DepthModerate Depth = "moderate"
	DepthDeep     Depth = "deep"
)

// ContextBrief is the transient output of context assembly for one turn.
type ContextBrief struct {
	Associations        []Association `json:"associations"`
	UserPreferences     []string      `json:"user_preferences"`
	RelationshipHistory *string       `json:"relationship_history"`
	DetectedEmotion     Emotion       `json:"detected_emotion"`
	EmotionalGuidance   string        `json:"emotional_guidance"`
	PrimaryIntent       Intent        `json:"primary_intent"`
	SuggestedApproach   string        `json:"suggested_approach"`
	ToneGuidance        string        `json:"tone_guidance"`
	DepthGuidance       Depth         `json:"depth_guidance"`
	TopicsToExplore     []string      `json:"topics_to_explore"`
	ProcessingTimeMs    int64         `json:"processing_time_ms"`
	MemoryQueries       int           `json:"memory_queries"`
}

// WorkingMemory is carried from the previous turn. All fields are optional.
type WorkingMemory struct {
	LastTopic         string   `json:"last_topic,omitempty"`
	EmotionalBaseline Emotion  `json:"emotional_baseline"`
	OpenLoops         []string `json:"open_loops,omitempty"`
	ContinuityAnchor  string   `json:"continuity_anchor,omitempty"`
}

// Mindstate is the complete situational input of the generation phase.
type Mindstate struct {
	IdentityKernel    string        `json:"identity_kernel"`
	WorkingMemory     WorkingMemory `json:"working_memory"`
	Associations      []Association `json:"associations"`
	SituationSnapshot string        `json:"situation_snapshot"`
}

// TurnDebug holds optional per-turn metrics.
type TurnDebug struct {
	PhaseLatencyMs   map[string]int64 `json:"phase_latency_ms"`
	PromptTokens     int              `json:"prompt_tokens"`
	CompletionTokens int              `json:"completion_tokens"`
	MemoryQueries    int              `json:"memory_queries"`
	Model            string           `json:"model,omitempty"`
}

// Turn is one request/response exchange. It is never mutated after it is
// appended to a session.
type Turn struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Timestamp   time.Time  `json:"timestamp"`
	UserMessage string     `json:"user_message"`
	Response    string     `json:"response"`
	Mindstate   *Mindstate `json:"mindstate"`
	Debug       *TurnDebug `json:"debug,omitempty"`
}

// Clone returns a deep copy of m.
func (m *Mindstate) Clone() *Mindstate {
	if m == nil {
		return nil
	}
	c := *m
	c.WorkingMemory.OpenLoops = slices.Clone(m.WorkingMemory.OpenLoops)
	if m.Associations != nil {
		c.Associations = make([]Association, len(m.Associations))
		for i, a := range m.Associations {
			a.Tags = slices.Clone(a.Tags)
			c.Associations[i] = a
		}
	}
	return &c
}

// Clone returns a deep copy of d.
func (d *TurnDebug) Clone() *TurnDebug {
	if d == nil {
		return nil
	}
	c := *d
	c.PhaseLatencyMs = maps.Clone(d.PhaseLatencyMs)
	return &c
}

// Clone returns a copy of t that shares no memory with it.
func (t Turn) Clone() Turn {
	t.Mindstate = t.Mindstate.Clone()
	t.Debug = t.Debug.Clone()
	return t
}
