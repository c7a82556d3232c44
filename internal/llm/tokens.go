package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens approximates the token cost of a piece of text for the
// pre-flight gate. Uses the cl100k_base encoding; if the encoding cannot
// be loaded (offline BPE fetch), falls back to the rough four characters
// per token heuristic. Estimates are advisory only, the ledger records
// the upstream's authoritative counts.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})

	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// EstimateConversation sums the estimated cost of every message plus a
// small per-message framing overhead.
func EstimateConversation(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content) + 4
	}
	return total
}
