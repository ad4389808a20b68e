package welayer

import (
	"github.com/hrygo/mindloop/plugin/ai/mindstate"
	"github.com/hrygo/mindloop/plugin/ai/taskrunner"
)

var knownEmotions = map[string]mindstate.Emotion{
	"neutral":    mindstate.EmotionNeutral,
	"sad":        mindstate.EmotionSad,
	"frustrated": mindstate.EmotionFrustrated,
	"anxious":    mindstate.EmotionAnxious,
	"positive":   mindstate.EmotionPositive,
	"confused":   mindstate.EmotionConfused,
}

var knownIntents = map[string]mindstate.Intent{
	"question":     mindstate.IntentQuestion,
	"venting":      mindstate.IntentVenting,
	"sharing":      mindstate.IntentSharing,
	"request":      mindstate.IntentRequest,
	"greeting":     mindstate.IntentGreeting,
	"continuation": mindstate.IntentContinuation,
}

// inferredAssociations maps sweep memories to associations with provenance
// "inference".
func inferredAssociations(sweep *taskrunner.SweepResult) []mindstate.Association {
	if sweep == nil || sweep.Memory == nil {
		return nil
	}
	var out []mindstate.Association
	for _, m := range sweep.Memory.Memories {
		if m.Content == "" {
			continue
		}
		assoc := mindstate.Association{
			Type:       mindstate.AssociationHunch,
			Intensity:  intensityByRelevance(m.Relevance),
			Text:       m.Content,
			Provenance: mindstate.ProvenanceInference,
		}
		if m.Kind == TagPreference || m.Kind == TagTeaching {
			assoc.Tags = []string{m.Kind}
		}
		out = append(out, assoc)
	}
	return out
}

func intensityByRelevance(r float64) mindstate.Intensity {
	switch {
	case r >= 0.7:
		return mindstate.IntensityStrong
	case r >= 0.4:
		return mindstate.IntensityMedium
	default:
		return mindstate.IntensityFaint
	}
}

// applySweep overrides keyword analysis with confident, well-formed sweep output.
func (a *Assembler) applySweep(sweep *taskrunner.SweepResult, emotion mindstate.Emotion, intent mindstate.Intent) (mindstate.Emotion, mindstate.Intent) {
	if sweep == nil {
		return emotion, intent
	}
	if e := sweep.Emotion; e != nil && e.Confidence >= a.cfg.MinConfidence {
		if v, ok := knownEmotions[e.Emotion]; ok {
			emotion = v
		}
	}
	if i := sweep.Intent; i != nil && i.Confidence >= a.cfg.MinConfidence {
		if v, ok := knownIntents[i.Intent]; ok {
			intent = v
		}
	}
	return emotion, intent
}
