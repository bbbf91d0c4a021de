package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/shopassist/internal/config"
	"github.com/smallbiznis/shopassist/internal/intent/domain"
	"github.com/smallbiznis/shopassist/internal/llm"
	obsmetrics "github.com/smallbiznis/shopassist/internal/observability/metrics"
	"github.com/smallbiznis/shopassist/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrNoToolCall       = errors.New("no_tool_call")
	ErrMalformedPayload = errors.New("malformed_payload")
)

const systemPrompt = `You classify messages sent to an online store assistant.
Call classify_intent exactly once. Choose the intent that best matches the
latest user message and use the conversation only to resolve references such
as "it" or "the second one". Report how confident you are between 0 and 1.
Only fill entities that the user actually stated.`

type Params struct {
	fx.In

	Client   llm.Client
	Holder   *config.AssistantConfigHolder
	Log      *zap.Logger
	Sampling llm.SamplingOptions          `optional:"true"`
	Metrics  *obsmetrics.AssistantMetrics `optional:"true"`
}

type Classifier struct {
	client   llm.Client
	holder   *config.AssistantConfigHolder
	log      *zap.Logger
	sampling llm.SamplingOptions
	metrics  *obsmetrics.AssistantMetrics
}

func New(p Params) *Classifier {
	return &Classifier{
		client:   p.Client,
		holder:   p.Holder,
		log:      p.Log.Named("intent.classifier"),
		sampling: p.Sampling,
		metrics:  p.Metrics,
	}
}

func (c *Classifier) Classify(ctx context.Context, u domain.Utterance, history []domain.Turn) domain.Intent {
	cfg := c.holder.Get().Intent

	ctx, span := tracing.Start(ctx, "intent.classify", attribute.Int64("session_id", u.SessionID))
	intent, err := c.classify(ctx, cfg, u, history)
	tracing.End(span, err)

	if err != nil {
		c.log.Warn("intent oracle unavailable",
			zap.Int64("session_id", u.SessionID),
			zap.Error(err),
		)
		intent = domain.Intent{Kind: domain.KindUnknown, Fallback: domain.FallbackClassificationUnavailable}
	}
	c.metrics.IncIntent(string(intent.Kind), intent.Fallback)
	return intent
}

func (c *Classifier) classify(ctx context.Context, cfg config.IntentConfig, u domain.Utterance, history []domain.Turn) (domain.Intent, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	messages := buildMessages(u, history, cfg.HistoryWindow)
	start := time.Now()
	sampling := c.sampling
	resp, err := c.client.Chat(ctx, messages, []llm.ToolDefinition{ToolDefinition()}, &sampling)
	c.metrics.ObserveOracle(obsmetrics.OracleClassifier, time.Since(start), err)
	if err != nil {
		return domain.Intent{}, err
	}

	args, err := toolArguments(resp)
	if err != nil {
		return domain.Intent{}, err
	}
	return interpret(args, u.Text, cfg.ConfidenceThreshold)
}

func buildMessages(u domain.Utterance, history []domain.Turn, window int) []llm.Message {
	if window >= 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, t := range history {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}
	return append(messages, llm.Message{Role: "user", Content: u.Text})
}

func toolArguments(resp *llm.Response) (map[string]any, error) {
	if resp == nil {
		return nil, ErrNoToolCall
	}
	for _, call := range resp.ToolCalls {
		if call.Name == domain.ToolName {
			if call.Arguments == nil {
				return nil, ErrMalformedPayload
			}
			return call.Arguments, nil
		}
	}
	return nil, ErrNoToolCall
}

// interpret maps raw tool arguments onto the closed intent set. Only a
// missing or non-string label is treated as a malformed payload; every other
// oddity degrades to Unknown or to an invalid entity.
func interpret(args map[string]any, text string, threshold float64) (domain.Intent, error) {
	label, ok := args[domain.ArgIntent].(string)
	if !ok {
		return domain.Intent{}, fmt.Errorf("%w: intent label", ErrMalformedPayload)
	}

	confidence, ok := toFloat(args[domain.ArgConfidence])
	if !ok {
		return domain.Intent{}, fmt.Errorf("%w: confidence", ErrMalformedPayload)
	}
	confidence = math.Max(0, math.Min(1, confidence))

	intent := domain.Intent{RawLabel: label, Confidence: confidence}
	kind, known := domain.ParseKind(label)
	switch {
	case !known:
		intent.Kind = domain.KindUnknown
		intent.Fallback = domain.FallbackUnknownLabel
		return intent, nil
	case kind != domain.KindUnknown && confidence < threshold:
		intent.Kind = domain.KindUnknown
		intent.Fallback = domain.FallbackLowConfidence
		return intent, nil
	}

	intent.Kind = kind
	intent.Entities = entities(args)
	if intent.Entities.Query == "" && (kind == domain.KindSearchProduct || kind == domain.KindAskQuestion) {
		intent.Entities.Query = strings.TrimSpace(text)
	}
	return intent, nil
}

func entities(args map[string]any) domain.Entities {
	var e domain.Entities
	e.ProductName = stringArg(args, domain.ArgProductName)
	e.ProductID = stringArg(args, domain.ArgProductID)
	e.Category = strings.ToLower(stringArg(args, domain.ArgCategory))
	e.Query = stringArg(args, domain.ArgQuery)

	if raw, ok := args[domain.ArgQuantity]; ok && raw != nil {
		if q, ok := toQuantity(raw); ok {
			e.Quantity = &q
		} else {
			e.Invalid = append(e.Invalid, domain.EntityQuantity)
		}
	}
	return e
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

var quantityWords = map[string]int64{
	"zero": 0, "a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"a couple": 2, "couple": 2, "a dozen": 12, "dozen": 12,
}

// toQuantity coerces an oracle quantity. Values beyond MaxQuantity in
// either direction are invalid rather than clamped or wrapped.
func toQuantity(v any) (int64, bool) {
	switch q := v.(type) {
	case string:
		s := strings.ToLower(strings.TrimSpace(q))
		if n, ok := quantityWords[s]; ok {
			return n, true
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n > domain.MaxQuantity || n < -domain.MaxQuantity {
			return 0, false
		}
		return n, true
	}
	f, ok := toFloat(v)
	if !ok || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > float64(domain.MaxQuantity) {
		return 0, false
	}
	return int64(f), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}

// ToolDefinition describes classify_intent to the oracle.
func ToolDefinition() llm.ToolDefinition {
	labels := make([]string, 0, len(domain.Kinds))
	for _, k := range domain.Kinds {
		labels = append(labels, string(k))
	}
	return llm.ToolDefinition{
		Name:        domain.ToolName,
		Description: "Classify the latest user message of a shopping conversation.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				domain.ArgIntent:      map[string]any{"type": "string", "enum": labels},
				domain.ArgConfidence:  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				domain.ArgProductName: map[string]any{"type": "string", "description": "Product the user refers to, as written or resolved from context."},
				domain.ArgProductID:   map[string]any{"type": "string"},
				domain.ArgQuantity:    map[string]any{"type": "integer"},
				domain.ArgCategory:    map[string]any{"type": "string"},
				domain.ArgQuery:       map[string]any{"type": "string", "description": "Search text or question."},
			},
			"required": []string{domain.ArgIntent, domain.ArgConfidence},
		},
	}
}
