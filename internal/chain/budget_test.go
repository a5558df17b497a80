package chain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCounter counts one token per whitespace-delimited word, which makes
// budget arithmetic exact in tests.
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

func words(n int, word string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = word
	}
	return strings.Join(parts, " ")
}

const testTemplate = "{context}\n\n{question}"

func TestBuildPromptGreedyBoundary(t *testing.T) {
	t.Parallel()

	// Ranked chunks of 50, 80 and 200 tokens against a chunk budget of
	// 120: c1 fits (120 -> 70), c2 at 80 tokens overflows the remaining
	// 70 and stops the fill, so only c1 is accepted.
	c1 := words(50, "one")
	c2 := words(80, "two")
	c3 := words(200, "three")

	// remaining = maxCtx - template(0) - query(1) - reserved(0) = 120.
	prompt, err := BuildPrompt(wordCounter{}, testTemplate, "question", []string{c1, c2, c3}, 121, 0)
	require.NoError(t, err)

	assert.Contains(t, prompt, c1)
	assert.NotContains(t, prompt, c2)
	assert.NotContains(t, prompt, c3)
	assert.Contains(t, prompt, "question")
}

func TestBuildPromptAcceptsMultipleChunks(t *testing.T) {
	t.Parallel()

	c1 := words(50, "one")
	c2 := words(60, "two")

	// remaining = 121 - 0 - 1 - 0 = 120; both chunks fit (50 + 60 = 110).
	prompt, err := BuildPrompt(wordCounter{}, testTemplate, "question", []string{c1, c2}, 121, 0)
	require.NoError(t, err)

	assert.Contains(t, prompt, c1)
	assert.Contains(t, prompt, c2)
	assert.Contains(t, prompt, c1+"\n\n"+c2)
}

func TestBuildPromptNeverExceedsBudget(t *testing.T) {
	t.Parallel()

	counter := wordCounter{}
	chunks := []string{words(30, "a"), words(45, "b"), words(10, "c"), words(99, "d")}

	for _, maxCtx := range []int{40, 80, 120, 200, 500} {
		prompt, err := BuildPrompt(counter, testTemplate, words(5, "q"), chunks, maxCtx, 10)
		if err != nil {
			continue
		}
		assert.LessOrEqual(t, counter.CountTokens(prompt), maxCtx-10,
			"maxCtx %d: prompt must leave the reserved budget free", maxCtx)
	}
}

func TestBuildPromptTruncatesOversizedQuery(t *testing.T) {
	t.Parallel()

	query := words(25, "long")

	// remaining = 11 - 0 - 25 - 0 <= 0, so the query is pruned ten words
	// at a time: 25 -> 15 -> 5, which fits the budget of 11.
	prompt, err := BuildPrompt(wordCounter{}, testTemplate, query, []string{words(3, "ctx")}, 11, 0)
	require.NoError(t, err)

	assert.Equal(t, 5, wordCounter{}.CountTokens(prompt))
	// No chunks make it into a truncated-query prompt.
	assert.NotContains(t, prompt, "ctx")
}

func TestBuildPromptContextTooSmall(t *testing.T) {
	t.Parallel()

	// The template alone costs 3 tokens against a total budget of 2; no
	// amount of query dropping can help.
	_, err := BuildPrompt(wordCounter{}, "fixed template prefix {context}{question}", words(4, "q"), nil, 2, 0)
	assert.ErrorIs(t, err, ErrContextTooSmall)
}

func TestBuildPromptEmptyChunks(t *testing.T) {
	t.Parallel()

	prompt, err := BuildPrompt(wordCounter{}, testTemplate, "just the question", nil, 100, 10)
	require.NoError(t, err)
	assert.Equal(t, "\n\njust the question", prompt)
}
