package llm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/loopera/chatrelay/internal/session"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// perTurnOverhead approximates the per-message wrapping cost of the chat format.
const perTurnOverhead = 4

func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		// Llama-family models are not in the tiktoken registry; cl100k is a
		// close enough proxy for budget enforcement.
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			codec = c
		}
	})
	return codec
}

// CountTokens returns the BPE token count for text, falling back to a
// chars/4 estimate when the tokenizer is unavailable.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := getCodec(); enc != nil {
		if _, tokens, err := enc.Encode(text); err == nil {
			return len(tokens)
		}
	}
	return (len(text) + 3) / 4
}

// TrimToTokenBudget drops the oldest exchanges until the history fits within
// budget tokens. Turns are removed in user/assistant pairs so the surviving
// history keeps its alternation. A non-positive budget drops all history.
func TrimToTokenBudget(history []session.Turn, budget int) []session.Turn {
	if len(history) == 0 {
		return history
	}
	if budget <= 0 {
		return nil
	}

	total := 0
	for _, turn := range history {
		total += CountTokens(turn.Content) + perTurnOverhead
	}
	start := 0
	for total > budget && start < len(history) {
		// Drop one exchange (or a lone leading turn) at a time.
		drop := 1
		if start+1 < len(history) && history[start].Role == session.RoleUser {
			drop = 2
		}
		for i := 0; i < drop; i++ {
			total -= CountTokens(history[start+i].Content) + perTurnOverhead
		}
		start += drop
	}
	return history[start:]
}
