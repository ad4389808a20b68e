// Package welayer assembles the context brief of a turn: associations from
// the memory service or pattern fallback, message analysis and the suggested
// response approach.
package welayer

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/hrygo/mindloop/internal/observability"
	"github.com/hrygo/mindloop/plugin/ai/memory"
	"github.com/hrygo/mindloop/plugin/ai/mindstate"
	"github.com/hrygo/mindloop/plugin/ai/taskrunner"
)

// Association tags understood by the assembler.
const (
	TagPreference = "preference"
	TagTeaching   = "teaching"
)

const (
	maxAssociations = 3
	maxPreferences  = 3
	historyTurns    = 3

	// DefaultMaxFacts is how many facts are requested from the memory service.
	DefaultMaxFacts = 5
)

var (
	preferenceFact = regexp.MustCompile(`(?i)\b(prefer\w*|likes?|loves?|enjoys?|hates?|dislikes?|wants?|favou?rite)\b`)
	teachingFact   = regexp.MustCompile(`(?i)\b(taught|teach\w*|learn\w*|explained|showed|told (me|you) (to|that|how))\b`)
)

// Config configures an Assembler.
type Config struct {
	MaxFacts    int  // facts requested per search (default 5)
	DeepSweep   bool // run the external analysis sweep alongside memory search
	WithInsight bool // include the insight task in the sweep
	// MinConfidence is the sweep confidence needed to override keyword analysis.
	MinConfidence float64
}

// Assembler builds context briefs. Memory and Executor are optional.
type Assembler struct {
	memory   memory.Client
	executor taskrunner.Executor
	cfg      Config
	now      func() time.Time
}

// NewAssembler creates an Assembler. A nil memory client skips straight to the
// pattern fallback; a nil executor disables the deep sweep.
func NewAssembler(mem memory.Client, executor taskrunner.Executor, cfg Config) *Assembler {
	if cfg.MaxFacts <= 0 {
		cfg.MaxFacts = DefaultMaxFacts
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.5
	}
	return &Assembler{
		memory:   mem,
		executor: executor,
		cfg:      cfg,
		now:      time.Now,
	}
}

// AssembleContextBrief produces the brief for message. It never fails: memory
// and sweep errors degrade to the pattern fallback and keyword analysis.
func (a *Assembler) AssembleContextBrief(ctx context.Context, userID, message string, previous []mindstate.Turn) *mindstate.ContextBrief {
	start := a.now()

	var sweep *taskrunner.SweepResult
	var wg sync.WaitGroup
	if a.cfg.DeepSweep && a.executor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweep = taskrunner.RunSweep(ctx, a.executor, taskrunner.SweepRequest{
				UserID:      userID,
				SessionID:   userID,
				Message:     message,
				History:     history(previous),
				WithInsight: a.cfg.WithInsight,
			})
		}()
	}

	// Phase 1: memory retrieval.
	associations, queries := a.retrieve(ctx, userID, message)
	wg.Wait()

	inferred := inferredAssociations(sweep)
	if len(associations) == 0 {
		associations = append(inferred, matchPatterns(message)...)
	} else {
		associations = append(associations, inferred...)
	}
	if len(associations) > maxAssociations {
		associations = associations[:maxAssociations]
	}
	if associations == nil {
		associations = []mindstate.Association{}
	}

	// Phase 2: message analysis.
	emotion := detectEmotion(message)
	intent := detectIntent(message, emotion, len(previous) == 0)
	emotion, intent = a.applySweep(sweep, emotion, intent)

	// Phase 3: preferences and relationship.
	rel := relationship(len(previous))

	// Phase 4: approach.
	ap := approachFor(intent, emotion)
	if sweep != nil && sweep.Insight != nil {
		ap.topics = append(ap.topics, sweep.Insight.Insights...)
	}

	brief := &mindstate.ContextBrief{
		Associations:        associations,
		UserPreferences:     preferences(associations),
		RelationshipHistory: &rel,
		DetectedEmotion:     emotion,
		EmotionalGuidance:   emotionGuidance[emotion],
		PrimaryIntent:       intent,
		SuggestedApproach:   ap.suggestion,
		ToneGuidance:        ap.tone,
		DepthGuidance:       ap.depth,
		TopicsToExplore:     ap.topics,
		MemoryQueries:       queries,
	}
	brief.ProcessingTimeMs = a.now().Sub(start).Milliseconds()

	observability.LoggerFromContext(ctx).Debug("context brief assembled",
		"user_id", userID,
		"associations", len(associations),
		"emotion", emotion,
		"intent", intent,
		"deep_sweep", sweep != nil,
		"processing_time_ms", brief.ProcessingTimeMs)
	return brief
}

// retrieve maps memory-service facts to associations. It returns nil when the
// service is absent, fails, or has nothing.
func (a *Assembler) retrieve(ctx context.Context, userID, message string) ([]mindstate.Association, int) {
	if a.memory == nil {
		return nil, 0
	}
	facts, err := a.memory.Search(ctx, userID, message, a.cfg.MaxFacts)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("memory search failed, using pattern fallback",
			"user_id", userID,
			"error", err)
		return nil, 1
	}

	var out []mindstate.Association
	for i, f := range facts {
		out = append(out, mindstate.Association{
			Type:       mindstate.AssociationRecollection,
			Intensity:  intensityByRank(i),
			Text:       f.Text,
			Provenance: mindstate.ProvenanceMemoryService,
			Tags:       factTags(f.Text),
		})
	}
	return out, 1
}

func intensityByRank(i int) mindstate.Intensity {
	switch i {
	case 0:
		return mindstate.IntensityStrong
	case 1:
		return mindstate.IntensityMedium
	default:
		return mindstate.IntensityFaint
	}
}

func factTags(text string) []string {
	var tags []string
	if preferenceFact.MatchString(text) {
		tags = append(tags, TagPreference)
	}
	if teachingFact.MatchString(text) {
		tags = append(tags, TagTeaching)
	}
	return tags
}

func history(previous []mindstate.Turn) []string {
	if len(previous) > historyTurns {
		previous = previous[len(previous)-historyTurns:]
	}
	out := make([]string, 0, 2*len(previous))
	for _, t := range previous {
		out = append(out, fmt.Sprintf("user: %s", t.UserMessage), fmt.Sprintf("you: %s", t.Response))
	}
	return out
}
