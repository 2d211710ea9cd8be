package candidates

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// Hints carry what the caller could derive about the failing interaction
// from the script source, used by heuristic matching when no captured
// selector contains the failing locator verbatim.
type Hints struct {
	// Action is the interaction verb at the failure site (click, fill, ...).
	Action string
}

// Resolver ranks replacement candidates for a failing locator against the
// capture store. The store is an explicit dependency so sessions and tests
// can substitute fakes.
type Resolver struct {
	store schemas.CandidateStore
	log   *zap.Logger
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(store schemas.CandidateStore, logger *zap.Logger) *Resolver {
	return &Resolver{
		store: store,
		log:   logger.Named("resolver"),
	}
}

var (
	// tagHintRegex pulls a leading element tag out of a css-ish locator,
	// e.g. "button#old-id" or "input.field".
	tagHintRegex = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9-]*)(?:[#.\[:]|$)`)

	// textHintRegex pulls quoted display text out of expression locators,
	// e.g. getByRole('button', {name: 'Create'}) or text=Create.
	textHintRegex = regexp.MustCompile(`(?:name\s*:\s*['"\x60]([^'"\x60]+)|text\s*=\s*([^'"\x60\s)\]]+)|has-text\(['"\x60]([^'"\x60]+))`)
)

// NormalizeLocator strips surrounding quotes and escape sequences from a
// locator string extracted out of runner output.
func NormalizeLocator(locator string) string {
	s := strings.TrimSpace(locator)
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '\'' || first == '"' || first == '\x60') {
			s = s[1 : len(s)-1]
			continue
		}
		break
	}
	s = strings.ReplaceAll(s, `\'`, `'`)
	s = strings.ReplaceAll(s, `\"`, `"`)
	return s
}

// Resolve produces ranked alternative locators for the failing one. An
// empty result means the store holds nothing usable for this page; that is
// a valid "not healable" outcome, not an error.
func (r *Resolver) Resolve(ctx context.Context, failingLocator, pageContext string, hints Hints) ([]schemas.AlternativeCandidate, error) {
	normalized := NormalizeLocator(failingLocator)
	if normalized == "" {
		return nil, nil
	}

	records, err := r.store.RecordsForPage(ctx, pageContext)
	if err != nil {
		return nil, err
	}

	type scored struct {
		cand     schemas.AlternativeCandidate
		recorded int64
	}
	byselector := make(map[string]scored)

	for _, rec := range records {
		confidence, ok := r.matchRecord(rec, normalized, hints)
		if !ok {
			continue
		}
		for strategy, selector := range rec.Selectors {
			if selector == "" || selector == normalized {
				continue
			}
			prev, seen := byselector[selector]
			next := scored{
				cand: schemas.AlternativeCandidate{
					Selector:       selector,
					Strategy:       strategy,
					SourceRecordID: rec.ID,
					Confidence:     confidence,
				},
				recorded: rec.CapturedAt.UnixNano(),
			}
			// Deduplicate by selector, keeping the stronger or fresher hit.
			if !seen || betterThan(next.cand, next.recorded, prev.cand, prev.recorded) {
				byselector[selector] = next
			}
		}
	}

	out := make([]scored, 0, len(byselector))
	for _, s := range byselector {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return betterThan(out[i].cand, out[i].recorded, out[j].cand, out[j].recorded)
	})

	candidates := make([]schemas.AlternativeCandidate, len(out))
	for i, s := range out {
		candidates[i] = s.cand
	}

	r.log.Debug("Resolved locator candidates.",
		zap.String("failing_locator", normalized),
		zap.String("page_context", pageContext),
		zap.Int("candidates", len(candidates)))
	return candidates, nil
}

// matchRecord decides whether a captured record plausibly identifies the
// same element as the failing locator, and with what confidence.
func (r *Resolver) matchRecord(rec schemas.ElementRecord, normalized string, hints Hints) (schemas.Confidence, bool) {
	// Exact: the failing locator appears verbatim inside a captured variant.
	for _, selector := range rec.Selectors {
		if selector != "" && strings.Contains(selector, normalized) {
			return schemas.ConfidenceHigh, true
		}
	}

	// Heuristic: same interaction verb plus overlapping tag or visible text.
	if hints.Action == "" || !strings.EqualFold(rec.Action, hints.Action) {
		return "", false
	}
	if tag := extractTagHint(normalized); tag != "" && strings.EqualFold(rec.Tag, tag) {
		return schemas.ConfidenceMedium, true
	}
	if text := extractTextHint(normalized); text != "" && rec.VisibleText != "" {
		if strings.Contains(strings.ToLower(rec.VisibleText), strings.ToLower(text)) ||
			strings.Contains(strings.ToLower(text), strings.ToLower(rec.VisibleText)) {
			return schemas.ConfidenceMedium, true
		}
	}
	return "", false
}

// betterThan orders candidates by the fixed strategy priority table, then
// confidence, then recency of capture.
func betterThan(a schemas.AlternativeCandidate, aRecorded int64, b schemas.AlternativeCandidate, bRecorded int64) bool {
	ap, bp := strategyRank(a.Strategy), strategyRank(b.Strategy)
	if ap != bp {
		return ap < bp
	}
	if a.Confidence != b.Confidence {
		return a.Confidence == schemas.ConfidenceHigh
	}
	if aRecorded != bRecorded {
		return aRecorded > bRecorded
	}
	return a.Selector < b.Selector
}

func strategyRank(s schemas.StrategyType) int {
	if rank, ok := schemas.StrategyPriority[s]; ok {
		return rank
	}
	return len(schemas.StrategyPriority)
}

func extractTagHint(locator string) string {
	if m := tagHintRegex.FindStringSubmatch(locator); len(m) > 1 {
		return m[1]
	}
	return ""
}

func extractTextHint(locator string) string {
	m := textHintRegex.FindStringSubmatch(locator)
	if len(m) == 0 {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}
