package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const ItemMatcherPrompt = `
You are the ITEM MATCHER of a restaurant ordering bot.

You receive JSON:

{
  "phrase": "what the customer typed after 'add'",
  "candidates": [{"id": "...", "name": "..."}]
}

Pick the single candidate the customer most likely means. Allow for typos,
plurals, abbreviations and Tagalog or English variants of the dish name.
Never invent an id that is not in candidates.

If no candidate is a reasonable match, return an empty id.

Reply strictly as JSON:

{"id": "...", "confidence": 0.0}
`

// DefaultMinConfidence is the lowest model confidence accepted as a match.
const DefaultMinConfidence = 0.6

// Matcher resolves a free-text item phrase to a candidate id using an AI.
type Matcher struct {
	ai            AI
	minConfidence float64
}

func NewMatcher(client AI, minConfidence float64) *Matcher {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Matcher{ai: client, minConfidence: minConfidence}
}

type matchResult struct {
	ID         string  `json:"id"`
	Confidence float64 `json:"confidence"`
}

// MatchItem returns the chosen candidate id, or "" when the model is not
// confident or picks something outside candidates.
func (m *Matcher) MatchItem(ctx context.Context, phrase string, candidates []Candidate) (string, error) {
	if strings.TrimSpace(phrase) == "" || len(candidates) == 0 {
		return "", nil
	}

	input, err := json.Marshal(map[string]any{
		"phrase":     phrase,
		"candidates": candidates,
	})
	if err != nil {
		return "", err
	}

	raw, err := m.ai.GetReply(ctx, ItemMatcherPrompt, string(input))
	if err != nil {
		return "", fmt.Errorf("item matcher: %w", err)
	}

	var res matchResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &res); err != nil {
		return "", fmt.Errorf("item matcher: parse reply: %w", err)
	}

	if res.ID == "" || res.Confidence < m.minConfidence {
		return "", nil
	}
	for _, c := range candidates {
		if c.ID == res.ID {
			return res.ID, nil
		}
	}
	return "", nil
}
