package llmutil

import (
	"strings"

	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"
)

// Reply is a model response split by part kind.
type Reply struct {
	Text     string
	Thoughts string
	Calls    []*genai.FunctionCall
}

// WantsTools reports whether the model asked for tool calls.
func (r Reply) WantsTools() bool { return len(r.Calls) > 0 }

// Split walks the response parts once. A nil response or content yields a
// zero Reply.
func Split(resp *adkmodel.LLMResponse) Reply {
	var r Reply
	if resp == nil || resp.Content == nil {
		return r
	}
	var text, thoughts strings.Builder
	for _, p := range resp.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			r.Calls = append(r.Calls, p.FunctionCall)
		case p.Thought:
			thoughts.WriteString(p.Text)
		default:
			text.WriteString(p.Text)
		}
	}
	r.Text = text.String()
	r.Thoughts = thoughts.String()
	return r
}
