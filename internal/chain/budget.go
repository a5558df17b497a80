package chain

import (
	"strings"

	"github.com/jskala/ragdex/internal/rag"
)

// queryPruneStep is how many trailing words are dropped from an oversized
// query per truncation round.
const queryPruneStep = 10

// BuildPrompt renders the template with the query and as many context
// chunks as fit the token budget. Token accounting uses the generation
// model's own counter.
//
// The remaining chunk budget is maxContextTokens minus the empty-rendered
// template, the query and the reserved generation tokens. If that is not
// positive the query itself is truncated, ten words at a time, until the
// template plus query fit; a query emptied before fitting returns
// ErrContextTooSmall. Otherwise chunks are consumed in rank order and the
// fill stops at the first chunk that would overflow the budget.
func BuildPrompt(counter rag.TokenCounter, template, query string, chunks []string, maxContextTokens, reservedTokens int) (string, error) {
	templateTokens := counter.CountTokens(render(template, "", ""))
	queryTokens := counter.CountTokens(query)

	remaining := maxContextTokens - templateTokens - queryTokens - reservedTokens

	if remaining <= 0 {
		budget := maxContextTokens - templateTokens - reservedTokens
		for query != "" && counter.CountTokens(query) > budget {
			words := strings.Fields(query)
			if len(words) <= queryPruneStep {
				query = ""
				break
			}
			query = strings.Join(words[:len(words)-queryPruneStep], " ")
		}
		if query == "" {
			return "", ErrContextTooSmall
		}
		return render(template, "", query), nil
	}

	var accepted []string
	for _, chunk := range chunks {
		cost := counter.CountTokens(chunk)
		if cost > remaining {
			break
		}
		accepted = append(accepted, chunk)
		remaining -= cost
	}

	return render(template, strings.Join(accepted, "\n\n"), query), nil
}

// render fills the {context} and {question} slots of a prompt template.
func render(template, context, question string) string {
	out := strings.ReplaceAll(template, "{context}", context)
	return strings.ReplaceAll(out, "{question}", question)
}
