// Package intent classifies raw user text into commands. Classification
// is a fixed, ordered prefix-rule table: deterministic, case-insensitive,
// first match wins. Anything that matches no rule is chat.
package intent

import (
	"strings"

	"hapied/pkg/types"
)

// prefixRule maps a leading token sequence to a command constructor.
type prefixRule struct {
	prefix string
	build  func(remainder string) types.Command
}

// rules are checked in order; earlier entries shadow later ones.
var rules = []prefixRule{
	{"/pull ", newPull},
	{"pull ", newPull},
	{"hapie pull ", newPull},
	{"/best ", newRecommend},
	{"/recommend ", newRecommend},
	{"best ", newRecommend},
	{"recommend ", newRecommend},
	{"hapie recommend ", newRecommend},
}

func newPull(q string) types.Command      { return types.PullCommand{Query: q} }
func newRecommend(q string) types.Command { return types.RecommendCommand{Query: q} }

// Classify parses text into a pull, recommend or chat command.
func Classify(text string) types.Command {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, r := range rules {
		if strings.HasPrefix(lower, r.prefix) {
			remainder := strings.TrimSpace(trimmed[len(r.prefix):])
			if remainder == "" {
				break
			}
			return r.build(remainder)
		}
	}
	return types.ChatCommand{Prompt: trimmed}
}
