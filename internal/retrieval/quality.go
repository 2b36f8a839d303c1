package retrieval

import (
	"strings"
	"unicode"

	"github.com/loomkit/loom/internal/graph"
)

// GatePolicy tunes the quality gate applied after retrieval. The zero value
// is usable: DefaultGatePolicy documents the defaults.
type GatePolicy struct {
	MinWords     int     // chunks shorter than this are expanded or dropped
	MinGrade     float64 // heuristic grade cutoff in [0,1]
	ExcludeStubs bool    // drop nodes flagged as stubs by the quality analyzer
	ExpandShort  bool    // replace short chunks with their parent document
	MaxPerSource int     // cap results per source type, 0 for no cap
}

// DefaultGatePolicy is the gate used by the API when the caller does not
// override it.
var DefaultGatePolicy = GatePolicy{
	MinWords:     20,
	MinGrade:     0.3,
	ExcludeStubs: true,
	ExpandShort:  true,
	MaxPerSource: 5,
}

// GradedResult is a retrieval result with its quality grade breakdown.
type GradedResult struct {
	Result
	Grade       float64 `json:"grade"`
	Specificity float64 `json:"specificity"`
	Coherence   float64 `json:"coherence"`
	Substance   float64 `json:"substance"`
	Expanded    bool    `json:"expanded,omitempty"`
}

// GateStats summarizes what the gate did, so callers can tell a quiet corpus
// from an aggressive policy.
type GateStats struct {
	Candidates    int            `json:"candidates"`
	Passed        int            `json:"passed"`
	Expanded      int            `json:"expanded"`
	TooShort      int            `json:"too_short"`
	BelowGrade    int            `json:"below_grade"`
	StubsExcluded int            `json:"stubs_excluded"`
	SourceCapped  int            `json:"source_capped"`
	BySource      map[string]int `json:"by_source"`
}

// GatedResults is the gate's output envelope.
type GatedResults struct {
	Results []GradedResult `json:"results"`
	Stats   GateStats      `json:"stats"`
}

// Gate filters retrieval results through the policy: stub exclusion, minimum
// length with optional parent expansion, a heuristic quality grade, and a
// per-source cap. Order of survivors follows the input ranking; expanded
// parents take their chunk's position.
func (r *Retriever) Gate(query string, results []Result, policy GatePolicy) (GatedResults, error) {
	stats := GateStats{Candidates: len(results), BySource: map[string]int{}}
	queryTerms := fieldSet(query)

	var out []GradedResult
	seen := map[string]bool{}
	perSource := map[string]int{}

	for _, res := range results {
		node := res.Node
		expanded := false

		if node.WordCount < policy.MinWords {
			if policy.ExpandShort && node.ParentNodeID != "" {
				parent, err := r.store.GetNode(node.ParentNodeID)
				if err != nil && err != graph.ErrNotFound {
					return GatedResults{}, err
				}
				if err == nil && parent.WordCount >= policy.MinWords {
					node = parent
					expanded = true
					stats.Expanded++
				}
			}
			if !expanded {
				stats.TooShort++
				continue
			}
		}

		if seen[node.ID] {
			continue
		}

		if policy.ExcludeStubs {
			q, err := r.store.GetQuality(node.ID)
			if err != nil && err != graph.ErrNotFound {
				return GatedResults{}, err
			}
			if err == nil && q.StubType != "" {
				stats.StubsExcluded++
				continue
			}
		}

		links, err := r.store.CountLinksTouching(node.ID)
		if err != nil {
			return GatedResults{}, err
		}
		graded := grade(node, queryTerms, links)
		if graded.Grade < policy.MinGrade {
			stats.BelowGrade++
			continue
		}

		if policy.MaxPerSource > 0 && perSource[node.SourceType] >= policy.MaxPerSource {
			stats.SourceCapped++
			continue
		}

		seen[node.ID] = true
		perSource[node.SourceType]++
		stats.BySource[node.SourceType]++
		stats.Passed++

		graded.Result = Result{Node: node, Score: res.Score}
		graded.Expanded = expanded
		out = append(out, graded)
	}

	return GatedResults{Results: out, Stats: stats}, nil
}

// grade scores a node on three cheap heuristics, each in [0,1]:
// specificity (vocabulary richness plus concrete tokens), coherence
// (sentence lengths inside a readable band), and substance (length plus
// graph connectivity). Query term overlap adds a small bonus.
func grade(node graph.ContentNode, queryTerms map[string]bool, linkCount int) GradedResult {
	words := strings.Fields(node.Text)
	if len(words) == 0 {
		return GradedResult{}
	}

	distinct := map[string]bool{}
	concrete := 0
	overlap := 0
	for _, w := range words {
		lw := strings.ToLower(strings.Trim(w, ".,;:!?\"'()"))
		if lw == "" {
			continue
		}
		distinct[lw] = true
		if queryTerms[lw] {
			overlap++
		}
		if hasDigit(w) || (len(w) > 1 && unicode.IsUpper(rune(w[0]))) {
			concrete++
		}
	}
	specificity := clamp(float64(len(distinct))/float64(len(words))*0.8 +
		float64(concrete)/float64(len(words))*0.6)

	coherence := sentenceCoherence(node.Text)

	substance := clamp(float64(len(words))/300.0 + float64(linkCount)*0.1)

	overlapBonus := 0.0
	if len(queryTerms) > 0 {
		overlapBonus = clamp(float64(overlap)/float64(len(queryTerms))) * 0.1
	}

	g := clamp(0.4*specificity + 0.3*coherence + 0.3*substance + overlapBonus)
	return GradedResult{
		Grade:       g,
		Specificity: specificity,
		Coherence:   coherence,
		Substance:   substance,
	}
}

// sentenceCoherence rewards sentence lengths in the 5..40 word band. Walls
// of unpunctuated text and staccato fragments both score low.
func sentenceCoherence(text string) float64 {
	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	if len(sentences) == 0 {
		return 0
	}
	inBand := 0
	counted := 0
	for _, s := range sentences {
		n := len(strings.Fields(s))
		if n == 0 {
			continue
		}
		counted++
		if n >= 5 && n <= 40 {
			inBand++
		}
	}
	if counted == 0 {
		return 0
	}
	return float64(inBand) / float64(counted)
}

func fieldSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(w, ".,;:!?\"'()")] = true
	}
	delete(set, "")
	return set
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
