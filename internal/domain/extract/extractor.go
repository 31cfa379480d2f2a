// Package extract turns free clinical text into ICD-O-3 annotation documents.
// Strategies run as a fallback chain: a code written verbatim in the text
// wins outright, otherwise an LLM proposes codes and phrases that are
// confirmed against the reference index, and finally a static term lookup
// table is consulted. LLM failures are soft and only move the chain along.
package extract

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/annotext/annotext/internal/domain/annotation"
	"github.com/annotext/annotext/internal/domain/refindex"
	"github.com/annotext/annotext/internal/platform/llm"
	"github.com/annotext/annotext/pkg/codes"
)

// Extractor runs the extraction fallback chain. Index, client and lookup are
// each optional; a nil index degrades extraction to direct code detection and
// the lookup table, and a nil client skips the LLM strategy.
type Extractor struct {
	index  *refindex.Index
	client llm.CompletionClient
	lookup *LookupTable
	logger zerolog.Logger
}

// NewExtractor creates an extractor over the given dependencies.
func NewExtractor(index *refindex.Index, client llm.CompletionClient, lookup *LookupTable, logger zerolog.Logger) *Extractor {
	return &Extractor{index: index, client: client, lookup: lookup, logger: logger}
}

const maxCandidates = 5

// Extract produces an annotation document for one prompt type over the given
// annotation text. noteText is the full clinical note and may be empty; it
// feeds the LLM step as additional context for site prompts. The returned
// document always has NoteID and PromptType set; when no strategy matches,
// Candidates is empty and MatchMethod is unset.
func (x *Extractor) Extract(ctx context.Context, noteID, promptType, text, noteText string) (*annotation.ExtractedCode, error) {
	doc := &annotation.ExtractedCode{NoteID: noteID, PromptType: promptType}

	if cands := x.directCandidates(promptType, text); len(cands) > 0 {
		finish(doc, cands)
		return doc, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cands := x.llmCandidates(ctx, promptType, text, noteText); len(cands) > 0 {
		finish(doc, cands)
		return doc, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cands := x.lookupCandidates(promptType, text); len(cands) > 0 {
		finish(doc, cands)
		return doc, nil
	}

	x.logger.Debug().Str("note_id", noteID).Str("prompt_type", promptType).Msg("no extraction strategy matched")
	return doc, nil
}

func finish(doc *annotation.ExtractedCode, cands []annotation.Candidate) {
	if len(cands) > maxCandidates {
		cands = cands[:maxCandidates]
	}
	for i := range cands {
		cands[i].Rank = i + 1
	}
	doc.Candidates = cands
	doc.ApplyCandidate(0)
}

// directCandidates handles codes written verbatim in the text. A resolvable
// full query code or a code of the prompt's kind yields a single exact
// candidate at full confidence. A joined code the loaded index does not know
// is not trusted; the chain falls through to the model instead.
func (x *Extractor) directCandidates(promptType, text string) []annotation.Candidate {
	if qc, ok := codes.FindQueryCode(text); ok {
		if x.index != nil {
			if e := x.index.GetByQueryCode(qc); e != nil {
				return []annotation.Candidate{entryCandidate(e, 1.0, annotation.MethodExact)}
			}
			return nil
		}
		// No index loaded: degraded mode keeps the literal code.
		m, t := codes.Split(qc)
		return []annotation.Candidate{{
			QueryCode: qc, MorphologyCode: m, TopographyCode: t,
			MatchScore: 1.0, MatchMethod: annotation.MethodExact,
		}}
	}

	switch promptType {
	case annotation.PromptHistology:
		if m, ok := codes.FindMorphology(text); ok {
			if x.index != nil && !x.index.IsValidMorphology(m) {
				return nil
			}
			return []annotation.Candidate{{
				MorphologyCode: m, MatchScore: 1.0, MatchMethod: annotation.MethodExact,
			}}
		}
	case annotation.PromptSite:
		if t, ok := codes.FindTopography(text); ok {
			if x.index != nil && !x.index.IsValidTopography(t) {
				return nil
			}
			return []annotation.Candidate{{
				TopographyCode: t, MatchScore: 1.0, MatchMethod: annotation.MethodExact,
			}}
		}
	}
	return nil
}

// llmCandidates asks the model for hints and confirms them against the
// reference index. Every failure is logged and reported as no candidates so
// the chain can continue.
func (x *Extractor) llmCandidates(ctx context.Context, promptType, text, noteText string) []annotation.Candidate {
	if x.client == nil || x.index == nil {
		return nil
	}

	raw, err := x.client.Complete(ctx, buildPrompt(promptType, text, noteText))
	if err != nil {
		x.logger.Warn().Err(err).Msg("llm extraction failed, falling through")
		return nil
	}

	hints := parseCompletion(raw)
	if hints.empty() {
		x.logger.Warn().Msg("llm completion produced no usable hints")
		return nil
	}

	ranked := x.index.TopCandidates(refindex.CandidateHints{
		HistologyText:  hints.HistologyText,
		TopographyText: hints.TopographyText,
		MorphologyCode: hints.MorphologyCode,
		TopographyCode: hints.TopographyCode,
	}, maxCandidates)

	cands := make([]annotation.Candidate, 0, len(ranked))
	for _, r := range ranked {
		cands = append(cands, rankedCandidate(r))
	}
	return cands
}

// lookupCandidates consults the static term table and, when possible,
// enriches the hit with reference entries for the matched code.
func (x *Extractor) lookupCandidates(promptType, text string) []annotation.Candidate {
	term, code, ok := x.lookup.Match(text, promptType)
	if !ok {
		return nil
	}
	x.logger.Debug().Str("term", term).Str("code", code).Msg("lookup table match")

	// Fixed conservative score for a static table hit.
	direct := annotation.Candidate{MatchScore: 0.5, MatchMethod: annotation.MethodPatternLookup}
	hints := refindex.CandidateHints{}
	if codes.IsMorphology(code) {
		direct.MorphologyCode = code
		hints.MorphologyCode = code
	} else {
		direct.TopographyCode = code
		hints.TopographyCode = code
	}

	cands := []annotation.Candidate{direct}
	if x.index != nil {
		for _, r := range x.index.TopCandidates(hints, maxCandidates-1) {
			c := rankedCandidate(r)
			c.MatchMethod = annotation.MethodPatternLookup
			if c.MatchScore > direct.MatchScore {
				c.MatchScore = direct.MatchScore
			}
			cands = append(cands, c)
		}
	}
	return cands
}

func entryCandidate(e *refindex.ReferenceEntry, score float64, method annotation.MatchMethod) annotation.Candidate {
	return annotation.Candidate{
		QueryCode:      e.QueryCode,
		MorphologyCode: e.MorphologyCode,
		TopographyCode: e.TopographyCode,
		Name:           e.Name,
		MatchScore:     score,
		MatchMethod:    method,
	}
}

func rankedCandidate(r refindex.RankedEntry) annotation.Candidate {
	return entryCandidate(r.Entry, r.Score, methodForStrategy(r.Strategy))
}

// methodForStrategy maps index match strategies to the wire-level match
// methods recorded on annotations.
func methodForStrategy(s refindex.MatchStrategy) annotation.MatchMethod {
	switch s {
	case refindex.StrategyExact:
		return annotation.MethodLLMCSVExact
	case refindex.StrategyCombined:
		return annotation.MethodLLMCSVCombined
	case refindex.StrategyMorphology:
		return annotation.MethodLLMCSVMorphologyText
	default:
		return annotation.MethodLLMCSVText
	}
}
