package welayer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hrygo/mindloop/plugin/ai/mindstate"
)

// emotionFamilies are checked in order; the first family with a hit wins.
var emotionFamilies = []struct {
	emotion mindstate.Emotion
	re      *regexp.Regexp
}{
	{mindstate.EmotionSad, regexp.MustCompile(`(?i)\b(sad|down|depressed|lonely|alone|miss(ing)?|grief|griev\w*|heartbroken|cry(ing)?|hurt(s|ing)?|lost)\b`)},
	{mindstate.EmotionFrustrated, regexp.MustCompile(`(?i)\b(frustrat\w*|annoy\w*|angry|mad|fed up|sick of|irritat\w*|pissed|ugh)\b`)},
	{mindstate.EmotionAnxious, regexp.MustCompile(`(?i)\b(anxious|anxiety|worried|worry(ing)?|nervous|scared|afraid|stress(ed)?|panic\w*|overwhelm\w*)\b`)},
	{mindstate.EmotionPositive, regexp.MustCompile(`(?i)\b(happy|excited|great|amazing|awesome|glad|love|thrilled|proud|wonderful|yay)\b`)},
	{mindstate.EmotionConfused, regexp.MustCompile(`(?i)\b(confus\w*|don'?t understand|lost track|unclear|not sure|makes no sense|puzzled)\b`)},
}

var emotionGuidance = map[mindstate.Emotion]string{
	mindstate.EmotionSad:        "Be gentle and present; do not rush to fix anything.",
	mindstate.EmotionFrustrated: "Acknowledge the frustration before any problem-solving.",
	mindstate.EmotionAnxious:    "Be calm and grounding; slow the pace down.",
	mindstate.EmotionPositive:   "Share in their good mood.",
	mindstate.EmotionConfused:   "Be clear and patient; untangle one thing at a time.",
}

var (
	questionLead = regexp.MustCompile(`(?i)^(what|why|how|when|where|who|whom|whose|which|is|are|am|was|were|can|could|would|should|will|shall|may|might|must|do|does|did)\b`)
	greetingLead = regexp.MustCompile(`(?i)^(hi|hello|hey|heya|hiya|howdy|greetings|yo|good (morning|afternoon|evening))\b`)
	requestMark  = regexp.MustCompile(`(?i)\b(please|help me|could you|can you|would you mind|i need|i'd like|i would like|show me|tell me)\b`)
)

// detectEmotion classifies the message by keyword family, else neutral.
func detectEmotion(message string) mindstate.Emotion {
	for _, f := range emotionFamilies {
		if f.re.MatchString(message) {
			return f.emotion
		}
	}
	return mindstate.EmotionNeutral
}

// detectIntent applies the intent priority chain.
func detectIntent(message string, emotion mindstate.Emotion, firstTurn bool) mindstate.Intent {
	trimmed := strings.TrimSpace(message)
	switch {
	case strings.HasSuffix(trimmed, "?") || questionLead.MatchString(trimmed):
		return mindstate.IntentQuestion
	case greetingLead.MatchString(trimmed):
		return mindstate.IntentGreeting
	case requestMark.MatchString(trimmed):
		return mindstate.IntentRequest
	case emotion.IsNegative():
		return mindstate.IntentVenting
	case !firstTurn:
		return mindstate.IntentContinuation
	default:
		return mindstate.IntentSharing
	}
}

// preferences returns the text of up to three preference or teaching associations.
func preferences(associations []mindstate.Association) []string {
	out := []string{}
	for _, a := range associations {
		if len(out) == maxPreferences {
			break
		}
		if a.HasTag(TagPreference) || a.HasTag(TagTeaching) {
			out = append(out, a.Text)
		}
	}
	return out
}

// relationship summarizes how well we know the user from the turn count.
func relationship(turns int) string {
	switch {
	case turns == 0:
		return "This is a new person; you are meeting them for the first time."
	case turns <= 10:
		return fmt.Sprintf("You are getting to know them; you have talked %d %s.", turns, plural(turns, "time", "times"))
	default:
		return "You know them well from many conversations."
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

type approach struct {
	suggestion string
	tone       string
	depth      mindstate.Depth
	topics     []string
}

var approaches = map[mindstate.Intent]approach{
	mindstate.IntentQuestion: {
		suggestion: "Answer honestly from your own perspective, then turn it back to them.",
		tone:       "curious",
		depth:      mindstate.DepthModerate,
		topics:     []string{"what prompted the question"},
	},
	mindstate.IntentVenting: {
		suggestion: "Listen first and reflect what they feel before offering anything.",
		tone:       "warm",
		depth:      mindstate.DepthDeep,
		topics:     []string{"what happened", "how long it has felt this way"},
	},
	mindstate.IntentSharing: {
		suggestion: "Show real interest and ask what it means to them.",
		tone:       "engaged",
		depth:      mindstate.DepthModerate,
		topics:     []string{"why it matters to them"},
	},
	mindstate.IntentRequest: {
		suggestion: "Help directly and concretely, then check that it fits.",
		tone:       "focused",
		depth:      mindstate.DepthModerate,
		topics:     []string{"what they have already tried"},
	},
	mindstate.IntentGreeting: {
		suggestion: "Greet them back warmly and keep it light.",
		tone:       "friendly",
		depth:      mindstate.DepthBrief,
		topics:     []string{},
	},
	mindstate.IntentContinuation: {
		suggestion: "Pick up the thread where it left off.",
		tone:       "natural",
		depth:      mindstate.DepthModerate,
		topics:     []string{"the thread from last time"},
	},
}

// approachFor maps intent to an approach and escalates it by emotion.
func approachFor(intent mindstate.Intent, emotion mindstate.Emotion) approach {
	a, ok := approaches[intent]
	if !ok {
		a = approaches[mindstate.IntentSharing]
	}
	a.topics = append([]string{}, a.topics...)

	switch emotion {
	case mindstate.EmotionSad, mindstate.EmotionAnxious:
		a.tone = "gentle"
		a.depth = mindstate.DepthDeep
	case mindstate.EmotionPositive:
		a.tone = "matching energy"
	}
	return a
}
