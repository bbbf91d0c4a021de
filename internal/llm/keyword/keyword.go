// Package keyword is a deterministic offline oracle. It answers the
// classify_intent tool with hand-written rules so the assistant runs
// without a hosted model.
package keyword

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	intentdomain "github.com/smallbiznis/shopassist/internal/intent/domain"
	"github.com/smallbiznis/shopassist/internal/llm"
)

var ErrNoUserMessage = errors.New("keyword oracle: no user message")

type Client struct{}

func New() *Client { return &Client{} }

// Chat classifies the last user message. Earlier non-system messages are
// used to resolve pronouns such as "add it".
func (c *Client) Chat(ctx context.Context, messages []llm.Message, _ []llm.ToolDefinition, _ *llm.SamplingOptions) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = i
			break
		}
	}
	if last < 0 {
		return nil, ErrNoUserMessage
	}

	args := Classify(messages[last].Content, messages[:last])
	return &llm.Response{
		ToolCalls: []llm.ToolCall{{ID: "keyword-1", Name: intentdomain.ToolName, Arguments: args}},
	}, nil
}

var (
	reCheckout = regexp.MustCompile(`\b(check ?out|place (my |the )?order|pay now|buy everything|complete (my |the )?(order|purchase))\b`)
	reRemove   = regexp.MustCompile(`^(?:please\s+)?(?:remove|delete|take out|drop)\s+(.+)$`)
	reUpdate   = regexp.MustCompile(`^(?:please\s+)?(?:change|update|set|make)\s+(?:the\s+)?(?:quantity\s+(?:of\s+)?)?(.+?)(?:\s+quantity)?\s+to\s+(\S+)$`)
	reAdd      = regexp.MustCompile(`^(?:please\s+)?(?:add|put|i'?ll take|i want to buy|buy|get me|order)\s+(.+)$`)
	reViewCart = regexp.MustCompile(`\b(cart|basket)\b`)
	reSearch   = regexp.MustCompile(`^(?:please\s+)?(?:show me|find me|find|search for|search|looking for|i'?m looking for|do you have|recommend|suggest)\s+(.+)$`)
	reQuestion = regexp.MustCompile(`^(what|which|how|is|are|does|do|can|should|why|where|tell me)\b`)
	reCategory = regexp.MustCompile(`\bin (apparel|footwear|accessories)\b`)
	reCartTail = regexp.MustCompile(`\s+(?:to|into|in|from|out of)\s+(?:my\s+|the\s+)?(?:cart|basket)$`)
	reLeadQty  = regexp.MustCompile(`^(\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten)\s+(.+)$`)

	reListed = regexp.MustCompile(`(?m)^\d+\.\s+(.+?)\s+\(`)
	reAcked  = regexp.MustCompile(`\b\d+ x (.+?)(?: to| from|\.|$)`)
)

var numberWords = map[string]int64{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "zero": 0, "none": 0,
}

var pronouns = map[string]int{
	"it": 0, "that": 0, "this": 0, "them": 0, "that one": 0, "this one": 0,
	"the first one": 0, "first one": 0, "the first": 0,
	"the second one": 1, "second one": 1, "the second": 1,
	"the third one": 2, "third one": 2, "the third": 2,
}

// Classify returns classify_intent tool arguments for text.
func Classify(text string, history []llm.Message) map[string]any {
	raw := strings.TrimSpace(text)
	t := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	isQuestion := strings.HasSuffix(t, "?")
	t = strings.TrimRight(t, ".!? ")

	args := map[string]any{}
	set := func(kind intentdomain.Kind, confidence float64) {
		args[intentdomain.ArgIntent] = string(kind)
		args[intentdomain.ArgConfidence] = confidence
	}

	switch {
	case t == "":
		set(intentdomain.KindUnknown, 0)
	case reCheckout.MatchString(t):
		set(intentdomain.KindCheckout, 0.95)
	case reRemove.MatchString(t):
		set(intentdomain.KindRemoveFromCart, 0.9)
		ref := cleanRef(reCartTail.ReplaceAllString(reRemove.FindStringSubmatch(t)[1], ""))
		setProduct(args, ref, history)
	case reUpdate.MatchString(t):
		m := reUpdate.FindStringSubmatch(t)
		set(intentdomain.KindUpdateQuantity, 0.9)
		setProduct(args, cleanRef(reCartTail.ReplaceAllString(m[1], "")), history)
		args[intentdomain.ArgQuantity] = quantityArg(m[2])
	case reAdd.MatchString(t):
		set(intentdomain.KindAddToCart, 0.9)
		rest := reCartTail.ReplaceAllString(reAdd.FindStringSubmatch(t)[1], "")
		if m := reLeadQty.FindStringSubmatch(rest); m != nil {
			args[intentdomain.ArgQuantity] = quantityArg(m[1])
			rest = m[2]
		}
		setProduct(args, cleanRef(rest), history)
	case reViewCart.MatchString(t):
		set(intentdomain.KindViewCart, 0.9)
	case reSearch.MatchString(t):
		set(intentdomain.KindSearchProduct, 0.85)
		args[intentdomain.ArgQuery] = cleanRef(reSearch.FindStringSubmatch(t)[1])
	case isQuestion || reQuestion.MatchString(t):
		set(intentdomain.KindAskQuestion, 0.8)
		args[intentdomain.ArgQuery] = t
	default:
		set(intentdomain.KindUnknown, 0.3)
	}

	if m := reCategory.FindStringSubmatch(t); m != nil {
		args[intentdomain.ArgCategory] = m[1]
		if q, ok := args[intentdomain.ArgQuery].(string); ok {
			args[intentdomain.ArgQuery] = strings.TrimSpace(reCategory.ReplaceAllString(q, ""))
		}
	}
	return args
}

func quantityArg(s string) any {
	if n, ok := numberWords[s]; ok {
		return n
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func setProduct(args map[string]any, ref string, history []llm.Message) {
	if idx, ok := pronouns[ref]; ok {
		if name := resolvePronoun(history, idx); name != "" {
			args[intentdomain.ArgProductName] = name
		}
		return
	}
	if ref != "" {
		args[intentdomain.ArgProductName] = ref
	}
}

// resolvePronoun finds the idx-th product named in the latest assistant
// message that names any.
func resolvePronoun(history []llm.Message, idx int) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != "assistant" {
			continue
		}
		var names []string
		for _, m := range reListed.FindAllStringSubmatch(history[i].Content, -1) {
			names = append(names, m[1])
		}
		if len(names) == 0 {
			for _, m := range reAcked.FindAllStringSubmatch(history[i].Content, -1) {
				names = append(names, m[1])
			}
		}
		if len(names) == 0 {
			continue
		}
		if idx < len(names) {
			return names[idx]
		}
		return ""
	}
	return ""
}

func cleanRef(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"of ", "the ", "some ", "a ", "an ", "my "} {
		s = strings.TrimPrefix(s, prefix)
	}
	for _, suffix := range []string{" please", " for me"} {
		s = strings.TrimSuffix(s, suffix)
	}
	return strings.TrimSpace(s)
}
