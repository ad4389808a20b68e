package welayer

import (
	"fmt"
	"regexp"

	"github.com/hrygo/mindloop/plugin/ai/mindstate"
)

// patternFamily produces at most one association when its expression matches.
type patternFamily struct {
	name string
	re   *regexp.Regexp
	make func(match []string) mindstate.Association
}

// patternFamilies are checked in order; each is independent of the others.
var patternFamilies = []patternFamily{
	{
		name: "meaning",
		re:   regexp.MustCompile(`(?i)\b(meaning|purpose|point of (it|life|all)|what matters|why (am i|do i|bother))\b`),
		make: func([]string) mindstate.Association {
			return fallback(mindstate.AssociationHunch, mindstate.IntensityMedium,
				"They are reaching for meaning or purpose.")
		},
	},
	{
		name: "project",
		re:   regexp.MustCompile(`(?i)\b(building|working on|my (project|app|startup|book|game)|creating|side project|launch(ed|ing)?)\b`),
		make: func([]string) mindstate.Association {
			return fallback(mindstate.AssociationRecollection, mindstate.IntensityMedium,
				"They are making something of their own.")
		},
	},
	{
		name: "identity",
		re:   regexp.MustCompile(`\b(?:[Mm]y name is|I am|I'm|[Cc]all me)\s+([A-Z][a-z]+)\b`),
		make: func(m []string) mindstate.Association {
			return fallback(mindstate.AssociationRecollection, mindstate.IntensityStrong,
				fmt.Sprintf("They introduced themselves as %s.", m[1]))
		},
	},
	{
		name: "struggle",
		re:   regexp.MustCompile(`(?i)\b(struggl\w*|stuck|frustrat\w*|overwhelm\w*|hard time|can'?t (figure|cope|handle)|giving up)\b`),
		make: func([]string) mindstate.Association {
			return fallback(mindstate.AssociationPull, mindstate.IntensityStrong,
				"Something is weighing on them right now.")
		},
	},
	{
		name: "about-you",
		re:   regexp.MustCompile(`(?i)\b((do|are|have|can|would|did) you\b[^?]*\?|your (experience|feelings?|thoughts|life|memories))`),
		make: func([]string) mindstate.Association {
			return fallback(mindstate.AssociationSignal, mindstate.IntensityMedium,
				"They are curious about you and your own experience.")
		},
	},
}

func fallback(t mindstate.AssociationType, i mindstate.Intensity, text string) mindstate.Association {
	return mindstate.Association{
		Type:       t,
		Intensity:  i,
		Text:       text,
		Provenance: mindstate.ProvenancePatternFallback,
	}
}

// matchPatterns runs every family against message and returns the matches in
// family order.
func matchPatterns(message string) []mindstate.Association {
	var out []mindstate.Association
	for _, f := range patternFamilies {
		if m := f.re.FindStringSubmatch(message); m != nil {
			out = append(out, f.make(m))
		}
	}
	return out
}
