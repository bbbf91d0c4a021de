package classifier

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/smallbiznis/shopassist/internal/config"
	"github.com/smallbiznis/shopassist/internal/intent/domain"
	"github.com/smallbiznis/shopassist/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, options *llm.SamplingOptions) (*llm.Response, error) {
	args := m.Called(ctx, messages, tools, options)
	resp, _ := args.Get(0).(*llm.Response)
	return resp, args.Error(1)
}

func newClassifier(t *testing.T, client llm.Client, mutate func(*config.AssistantConfig)) *Classifier {
	t.Helper()
	cfg := config.DefaultAssistantConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return New(Params{
		Client: client,
		Holder: config.NewStaticAssistantConfigHolder(cfg),
		Log:    zap.NewNop(),
	})
}

func toolResponse(args map[string]any) *llm.Response {
	return &llm.Response{ToolCalls: []llm.ToolCall{{ID: "1", Name: domain.ToolName, Arguments: args}}}
}

func utterance(text string) domain.Utterance {
	return domain.Utterance{Text: text, SessionID: 1, At: time.Now()}
}

func TestClassifyAddToCart(t *testing.T) {
	client := &mockClient{}
	client.On("Chat", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(toolResponse(map[string]any{
			"intent":       "add_to_cart",
			"confidence":   0.93,
			"product_name": "blue t-shirt",
			"quantity":     float64(2),
		}), nil)

	got := newClassifier(t, client, nil).Classify(context.Background(), utterance("add 2 blue t-shirts"), nil)

	assert.Equal(t, domain.KindAddToCart, got.Kind)
	assert.InDelta(t, 0.93, got.Confidence, 1e-9)
	assert.Equal(t, "blue t-shirt", got.Entities.ProductName)
	require.NotNil(t, got.Entities.Quantity)
	assert.Equal(t, int64(2), *got.Entities.Quantity)
	assert.Empty(t, got.Fallback)
	client.AssertExpectations(t)
}

func TestClassifyOracleErrorFallsBackToUnknown(t *testing.T) {
	client := &mockClient{}
	client.On("Chat", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	got := newClassifier(t, client, nil).Classify(context.Background(), utterance("add it"), nil)

	assert.Equal(t, domain.KindUnknown, got.Kind)
	assert.Zero(t, got.Confidence)
	assert.Equal(t, domain.FallbackClassificationUnavailable, got.Fallback)
}

func TestClassifyMalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		resp *llm.Response
	}{
		{"no tool call", &llm.Response{Content: "add_to_cart"}},
		{"other tool", &llm.Response{ToolCalls: []llm.ToolCall{{Name: "lookup"}}}},
		{"label not a string", toolResponse(map[string]any{"intent": 3, "confidence": 0.9})},
		{"missing confidence", toolResponse(map[string]any{"intent": "view_cart"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{}
			client.On("Chat", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(tt.resp, nil)

			got := newClassifier(t, client, nil).Classify(context.Background(), utterance("hm"), nil)

			assert.Equal(t, domain.KindUnknown, got.Kind)
			assert.Equal(t, domain.FallbackClassificationUnavailable, got.Fallback)
		})
	}
}

func TestClassifyLowConfidence(t *testing.T) {
	client := &mockClient{}
	client.On("Chat", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(toolResponse(map[string]any{"intent": "checkout", "confidence": 0.59}), nil)

	got := newClassifier(t, client, nil).Classify(context.Background(), utterance("maybe done?"), nil)

	assert.Equal(t, domain.KindUnknown, got.Kind)
	assert.Equal(t, domain.FallbackLowConfidence, got.Fallback)
	assert.Equal(t, "checkout", got.RawLabel)
}

func TestClassifyThresholdIsInclusive(t *testing.T) {
	client := &mockClient{}
	client.On("Chat", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(toolResponse(map[string]any{"intent": "checkout", "confidence": 0.6}), nil)

	got := newClassifier(t, client, nil).Classify(context.Background(), utterance("checkout"), nil)
	assert.Equal(t, domain.KindCheckout, got.Kind)
}

func TestClassifyMapsLabels(t *testing.T) {
	tests := []struct {
		label    string
		want     domain.Kind
		fallback string
	}{
		{"AddToCart", domain.KindAddToCart, ""},
		{"view cart", domain.KindViewCart, ""},
		{"SEARCH_PRODUCT", domain.KindSearchProduct, ""},
		{"wishlist", domain.KindUnknown, domain.FallbackUnknownLabel},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			client := &mockClient{}
			client.On("Chat", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return(toolResponse(map[string]any{"intent": tt.label, "confidence": "0.9"}), nil)

			got := newClassifier(t, client, nil).Classify(context.Background(), utterance("x"), nil)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, tt.fallback, got.Fallback)
		})
	}
}

func TestClassifyCoercesQuantity(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    int64
		invalid bool
	}{
		{"number", float64(3), 3, false},
		{"numeric string", " 4 ", 4, false},
		{"word", "two", 2, false},
		{"zero", float64(0), 0, false},
		{"fraction", 1.5, 0, true},
		{"nonsense", "lots", 0, true},
		{"at limit", float64(domain.MaxQuantity), domain.MaxQuantity, false},
		{"above limit", float64(domain.MaxQuantity + 1), 0, true},
		{"beyond int64", 1e19, 0, true},
		{"negative beyond int64", -1e19, 0, true},
		{"huge numeric string", "9223372036854775806", 0, true},
		{"overflowing string", "99999999999999999999", 0, true},
		{"infinity", math.Inf(1), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{}
			client.On("Chat", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return(toolResponse(map[string]any{
					"intent":       "update_quantity",
					"confidence":   0.9,
					"product_name": "denim jacket",
					"quantity":     tt.raw,
				}), nil)

			got := newClassifier(t, client, nil).Classify(context.Background(), utterance("x"), nil)
			require.Equal(t, domain.KindUpdateQuantity, got.Kind)
			if tt.invalid {
				assert.Nil(t, got.Entities.Quantity)
				assert.True(t, got.Entities.IsInvalid(domain.EntityQuantity))
				return
			}
			require.NotNil(t, got.Entities.Quantity)
			assert.Equal(t, tt.want, *got.Entities.Quantity)
		})
	}
}

func TestClassifySearchDefaultsQueryToText(t *testing.T) {
	client := &mockClient{}
	client.On("Chat", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(toolResponse(map[string]any{"intent": "search_product", "confidence": 0.8}), nil)

	got := newClassifier(t, client, nil).Classify(context.Background(), utterance("  waterproof boots "), nil)
	assert.Equal(t, "waterproof boots", got.Entities.Query)
}

func TestClassifySendsWindowedHistory(t *testing.T) {
	client := &mockClient{}
	client.On("Chat", mock.Anything, mock.MatchedBy(func(msgs []llm.Message) bool {
		return len(msgs) == 4 &&
			msgs[0].Role == "system" &&
			msgs[1].Content == "turn 3" &&
			msgs[3].Content == "add it"
	}), mock.MatchedBy(func(tools []llm.ToolDefinition) bool {
		return len(tools) == 1 && tools[0].Name == domain.ToolName
	}), mock.Anything).Return(toolResponse(map[string]any{"intent": "add_to_cart", "confidence": 0.9}), nil)

	history := []domain.Turn{
		{Role: "user", Content: "turn 1"},
		{Role: "assistant", Content: "turn 2"},
		{Role: "user", Content: "turn 3"},
		{Role: "assistant", Content: "turn 4"},
	}
	c := newClassifier(t, client, func(cfg *config.AssistantConfig) { cfg.Intent.HistoryWindow = 2 })

	got := c.Classify(context.Background(), utterance("add it"), history)
	assert.Equal(t, domain.KindAddToCart, got.Kind)
	client.AssertExpectations(t)
}

type slowClient struct{}

func (slowClient) Chat(ctx context.Context, _ []llm.Message, _ []llm.ToolDefinition, _ *llm.SamplingOptions) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestClassifyTimeout(t *testing.T) {
	c := newClassifier(t, slowClient{}, func(cfg *config.AssistantConfig) { cfg.Intent.Timeout = 20 * time.Millisecond })

	start := time.Now()
	got := c.Classify(context.Background(), utterance("checkout"), nil)

	assert.Equal(t, domain.KindUnknown, got.Kind)
	assert.Equal(t, domain.FallbackClassificationUnavailable, got.Fallback)
	assert.Less(t, time.Since(start), 2*time.Second)
}
