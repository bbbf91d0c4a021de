package dispatch

import (
	"context"
	"testing"

	cartflowdomain "github.com/smallbiznis/shopassist/internal/cartflow/domain"
	"github.com/smallbiznis/shopassist/internal/config"
	"github.com/smallbiznis/shopassist/internal/embedding/tfidf"
	intentdomain "github.com/smallbiznis/shopassist/internal/intent/domain"
	"github.com/smallbiznis/shopassist/internal/knowledge"
	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
	retrievaldomain "github.com/smallbiznis/shopassist/internal/retrieval/domain"
	sessiondomain "github.com/smallbiznis/shopassist/internal/session/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockOrchestrator struct {
	mock.Mock
}

func (m *mockOrchestrator) AddToCart(ctx context.Context, req cartflowdomain.LineRequest) (*cartflowdomain.LineResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*cartflowdomain.LineResult)
	return res, args.Error(1)
}

func (m *mockOrchestrator) RemoveFromCart(ctx context.Context, sessionID int64, ref cartflowdomain.ProductRef) (*cartflowdomain.LineResult, error) {
	args := m.Called(ctx, sessionID, ref)
	res, _ := args.Get(0).(*cartflowdomain.LineResult)
	return res, args.Error(1)
}

func (m *mockOrchestrator) UpdateQuantity(ctx context.Context, req cartflowdomain.LineRequest) (*cartflowdomain.LineResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*cartflowdomain.LineResult)
	return res, args.Error(1)
}

func (m *mockOrchestrator) ViewCart(ctx context.Context, sessionID int64) (*cartflowdomain.Summary, error) {
	args := m.Called(ctx, sessionID)
	res, _ := args.Get(0).(*cartflowdomain.Summary)
	return res, args.Error(1)
}

func (m *mockOrchestrator) Checkout(ctx context.Context, sessionID int64) (*cartflowdomain.CheckoutResult, error) {
	args := m.Called(ctx, sessionID)
	res, _ := args.Get(0).(*cartflowdomain.CheckoutResult)
	return res, args.Error(1)
}

func (m *mockOrchestrator) Summary(ctx context.Context, sessionID int64) (*cartflowdomain.Summary, error) {
	args := m.Called(ctx, sessionID)
	res, _ := args.Get(0).(*cartflowdomain.Summary)
	return res, args.Error(1)
}

func (m *mockOrchestrator) Receipt(ctx context.Context, sessionID int64) (*cartflowdomain.Summary, error) {
	args := m.Called(ctx, sessionID)
	res, _ := args.Get(0).(*cartflowdomain.Summary)
	return res, args.Error(1)
}

func (m *mockOrchestrator) SweepCompleted(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

type stubRetrieval struct {
	result retrievaldomain.RetrievedContext
	calls  int
	last   retrievaldomain.Query
}

func (s *stubRetrieval) Retrieve(_ context.Context, q retrievaldomain.Query) retrievaldomain.RetrievedContext {
	s.calls++
	s.last = q
	return s.result
}

func newDispatcher(orch *mockOrchestrator, rag *stubRetrieval) *Service {
	return New(Params{
		Orchestrator: orch,
		Retrieval:    rag,
		Holder:       config.NewStaticAssistantConfigHolder(config.DefaultAssistantConfig()),
		Log:          zap.NewNop(),
	})
}

var activeSession = &sessiondomain.Session{ID: 7, UserID: "u1", Status: sessiondomain.StatusActive}

func qty(n int64) *int64 { return &n }

var blueShirt = productdomain.Product{ID: 4, Name: "Blue T-Shirt", Price: 1500, Currency: "USD", Score: 4.5, Description: "Soft cotton tee."}

func TestDispatchAddToCart(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("AddToCart", mock.Anything, cartflowdomain.LineRequest{
		SessionID: 7,
		Product:   cartflowdomain.ProductRef{Name: "blue t-shirt"},
		Quantity:  2,
	}).Return(&cartflowdomain.LineResult{Product: blueShirt, Quantity: 2, Added: 2}, nil)

	reply := newDispatcher(orch, &stubRetrieval{}).Dispatch(context.Background(), intentdomain.Intent{
		Kind:       intentdomain.KindAddToCart,
		Confidence: 0.9,
		Entities:   intentdomain.Entities{ProductName: "blue t-shirt", Quantity: qty(2)},
	}, activeSession)

	assert.True(t, reply.Success)
	assert.Equal(t, OutcomeOK, reply.Outcome)
	assert.Equal(t, intentdomain.KindAddToCart, reply.Intent)
	assert.Equal(t, "Added 2 x Blue T-Shirt to your cart.", reply.Text)
	orch.AssertExpectations(t)
}

func TestDispatchAddDefaultsQuantityToOne(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("AddToCart", mock.Anything, mock.MatchedBy(func(req cartflowdomain.LineRequest) bool {
		return req.Quantity == 1 && req.Product.ID == 4
	})).Return(&cartflowdomain.LineResult{Product: blueShirt, Quantity: 3, Added: 1}, nil)

	reply := newDispatcher(orch, &stubRetrieval{}).Dispatch(context.Background(), intentdomain.Intent{
		Kind:     intentdomain.KindAddToCart,
		Entities: intentdomain.Entities{ProductID: "4"},
	}, activeSession)

	assert.Equal(t, "Added 1 x Blue T-Shirt to your cart. You now have 3.", reply.Text)
}

func TestDispatchValidatesBeforeHandlers(t *testing.T) {
	tests := []struct {
		name    string
		intent  intentdomain.Intent
		outcome string
	}{
		{"add without product", intentdomain.Intent{Kind: intentdomain.KindAddToCart, Entities: intentdomain.Entities{Quantity: qty(1)}}, "missing_product"},
		{"remove without product", intentdomain.Intent{Kind: intentdomain.KindRemoveFromCart}, "missing_product"},
		{"update without quantity", intentdomain.Intent{Kind: intentdomain.KindUpdateQuantity, Entities: intentdomain.Entities{ProductName: "tee"}}, "missing_quantity"},
		{"add with bad quantity", intentdomain.Intent{Kind: intentdomain.KindAddToCart, Entities: intentdomain.Entities{ProductName: "tee", Invalid: []string{"quantity"}}}, "invalid_quantity"},
		{"update with bad quantity", intentdomain.Intent{Kind: intentdomain.KindUpdateQuantity, Entities: intentdomain.Entities{ProductName: "tee", Invalid: []string{"quantity"}}}, "invalid_quantity"},
		{"bad product id", intentdomain.Intent{Kind: intentdomain.KindRemoveFromCart, Entities: intentdomain.Entities{ProductID: "abc"}}, "invalid_product"},
		{"search without query", intentdomain.Intent{Kind: intentdomain.KindSearchProduct}, "missing_query"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &mockOrchestrator{}
			rag := &stubRetrieval{}

			reply := newDispatcher(orch, rag).Dispatch(context.Background(), tt.intent, activeSession)

			assert.False(t, reply.Success)
			assert.Equal(t, tt.outcome, reply.Outcome)
			assert.NotEmpty(t, reply.Text)
			orch.AssertNotCalled(t, "AddToCart", mock.Anything, mock.Anything)
			orch.AssertNotCalled(t, "RemoveFromCart", mock.Anything, mock.Anything, mock.Anything)
			orch.AssertNotCalled(t, "UpdateQuantity", mock.Anything, mock.Anything)
			assert.Zero(t, rag.calls)
		})
	}
}

func TestDispatchUnknownTouchesNothing(t *testing.T) {
	orch := &mockOrchestrator{}
	rag := &stubRetrieval{}

	for _, in := range []intentdomain.Intent{
		{Kind: intentdomain.KindUnknown, Fallback: intentdomain.FallbackClassificationUnavailable},
		{Kind: intentdomain.KindUnknown, Confidence: 0.4, Fallback: intentdomain.FallbackLowConfidence},
		{Kind: "wishlist"},
	} {
		reply := newDispatcher(orch, rag).Dispatch(context.Background(), in, activeSession)
		assert.Equal(t, replyClarify, reply.Text)
		assert.Equal(t, OutcomeClarification, reply.Outcome)
		assert.False(t, reply.Success)
	}
	assert.Empty(t, orch.Calls)
	assert.Zero(t, rag.calls)
}

func TestDispatchSearchListsAtMostThree(t *testing.T) {
	rag := &stubRetrieval{result: retrievaldomain.RetrievedContext{Items: []retrievaldomain.Item{
		{Product: productdomain.Product{ID: 1, Name: "Trail Runner", Price: 9900, Currency: "USD", Score: 4.7}, Similarity: 0.91},
		{Product: productdomain.Product{ID: 2, Name: "Road Runner", Price: 8900, Currency: "USD", Score: 4.2}, Similarity: 0.76},
		{Product: productdomain.Product{ID: 3, Name: "Court Sneaker", Price: 7000, Currency: "USD", Score: 4.0}, Similarity: 0.74},
		{Product: productdomain.Product{ID: 5, Name: "Slip On", Price: 4000, Currency: "USD", Score: 3.9}, Similarity: 0.72},
	}}}

	reply := newDispatcher(&mockOrchestrator{}, rag).Dispatch(context.Background(), intentdomain.Intent{
		Kind:     intentdomain.KindSearchProduct,
		Entities: intentdomain.Entities{Query: "comfortable running shoes", Category: "footwear"},
	}, activeSession)

	assert.True(t, reply.Success)
	assert.Equal(t, "Here is what I found:\n"+
		"1. Trail Runner ($99.00) - rated 4.7\n"+
		"2. Road Runner ($89.00) - rated 4.2\n"+
		"3. Court Sneaker ($70.00) - rated 4.0", reply.Text)
	assert.Equal(t, "footwear", rag.last.Category)
}

func TestDispatchEmptyContextSaysNoMatch(t *testing.T) {
	reply := newDispatcher(&mockOrchestrator{}, &stubRetrieval{}).Dispatch(context.Background(), intentdomain.Intent{
		Kind:     intentdomain.KindAskQuestion,
		Entities: intentdomain.Entities{Query: "do you sell kayaks"},
	}, activeSession)

	assert.Equal(t, `I couldn't find any product matching "do you sell kayaks" in our catalog.`, reply.Text)
	assert.Equal(t, OutcomeNoMatch, reply.Outcome)

	reply = newDispatcher(&mockOrchestrator{}, &stubRetrieval{result: retrievaldomain.RetrievedContext{Degraded: true, Reason: retrievaldomain.ReasonTimeout}}).
		Dispatch(context.Background(), intentdomain.Intent{
			Kind:     intentdomain.KindSearchProduct,
			Entities: intentdomain.Entities{Query: "boots"},
		}, activeSession)
	assert.False(t, reply.Success)
	assert.Equal(t, OutcomeDegraded, reply.Outcome)
}

func TestDispatchAskQuestionIsGrounded(t *testing.T) {
	rag := &stubRetrieval{result: retrievaldomain.RetrievedContext{Items: []retrievaldomain.Item{{Product: blueShirt, Similarity: 0.8}}}}

	reply := newDispatcher(&mockOrchestrator{}, rag).Dispatch(context.Background(), intentdomain.Intent{
		Kind:     intentdomain.KindAskQuestion,
		Entities: intentdomain.Entities{Query: "is the blue tee soft"},
	}, activeSession)

	assert.Equal(t, "Based on our catalog, these products are the closest match:\n1. Blue T-Shirt ($15.00) - rated 4.5: Soft cotton tee.", reply.Text)
}

func policyBase(t *testing.T) *knowledge.Base {
	t.Helper()
	kb := knowledge.New(tfidf.NewProvider(), zap.NewNop())
	require.NoError(t, kb.Load(context.Background(), "Return policy\nUnworn items can be returned within 30 days.\n\nShipping policy\nStandard shipping takes 3 to 5 business days."))
	return kb
}

func TestDispatchAskQuestionUsesPolicies(t *testing.T) {
	newWithPolicies := func(t *testing.T, rag *stubRetrieval) *Service {
		return New(Params{
			Orchestrator: &mockOrchestrator{},
			Retrieval:    rag,
			Knowledge:    policyBase(t),
			Holder:       config.NewStaticAssistantConfigHolder(config.DefaultAssistantConfig()),
			Log:          zap.NewNop(),
		})
	}
	ask := func(s *Service, q string) Reply {
		return s.Dispatch(context.Background(), intentdomain.Intent{
			Kind:     intentdomain.KindAskQuestion,
			Entities: intentdomain.Entities{Query: q},
		}, activeSession)
	}

	t.Run("policy only", func(t *testing.T) {
		reply := ask(newWithPolicies(t, &stubRetrieval{}), "what is your return policy")
		assert.True(t, reply.Success)
		assert.Equal(t, OutcomeOK, reply.Outcome)
		assert.Equal(t, "From our store policies:\n- Return policy: Unworn items can be returned within 30 days.", reply.Text)
	})

	t.Run("policy and products", func(t *testing.T) {
		rag := &stubRetrieval{result: retrievaldomain.RetrievedContext{Items: []retrievaldomain.Item{{Product: blueShirt, Similarity: 0.8}}}}
		reply := ask(newWithPolicies(t, rag), "return policy")
		assert.Equal(t, "From our store policies:\n- Return policy: Unworn items can be returned within 30 days.\n\n"+
			"Based on our catalog, these products are the closest match:\n1. Blue T-Shirt ($15.00) - rated 4.5: Soft cotton tee.", reply.Text)
	})

	t.Run("policy answers while catalog is degraded", func(t *testing.T) {
		rag := &stubRetrieval{result: retrievaldomain.RetrievedContext{Degraded: true, Reason: retrievaldomain.ReasonTimeout}}
		reply := ask(newWithPolicies(t, rag), "shipping policy")
		assert.Equal(t, OutcomeOK, reply.Outcome)
		assert.Contains(t, reply.Text, "- Shipping policy: Standard shipping")
	})

	t.Run("nothing above the cutoff", func(t *testing.T) {
		reply := ask(newWithPolicies(t, &stubRetrieval{}), "do you sell kayaks")
		assert.Equal(t, OutcomeNoMatch, reply.Outcome)
	})

	t.Run("unloaded base falls back to the catalog", func(t *testing.T) {
		s := New(Params{
			Orchestrator: &mockOrchestrator{},
			Retrieval:    &stubRetrieval{},
			Knowledge:    knowledge.New(tfidf.NewProvider(), zap.NewNop()),
			Holder:       config.NewStaticAssistantConfigHolder(config.DefaultAssistantConfig()),
			Log:          zap.NewNop(),
		})
		reply := ask(s, "return policy")
		assert.Equal(t, OutcomeNoMatch, reply.Outcome)
	})
}

func TestDispatchMapsOrchestratorErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome string
		text    string
	}{
		{"not found", cartflowdomain.ErrProductNotFound, "product_not_found", `I couldn't find a product matching "tee" in our catalog.`},
		{"closed", cartflowdomain.ErrSessionClosed, "session_closed", "This session has already been checked out. Please start a new session to keep shopping."},
		{"ambiguous", &cartflowdomain.AmbiguousError{Ref: "tee", Candidates: []productdomain.Product{{Name: "Blue T-Shirt"}, {Name: "Red T-Shirt"}}}, "ambiguous_entity",
			`I found several products matching "tee": Blue T-Shirt, Red T-Shirt. Which one did you mean?`},
		{"stock", &cartflowdomain.StockError{Product: "Denim Jacket", Available: 2}, "insufficient_stock", "Sorry, only 2 of Denim Jacket are in stock."},
		{"unavailable", cartflowdomain.ErrPartitionUnavailable, "partition_unavailable", "Our store is temporarily unavailable. Please try again in a moment."},
		{"race", cartflowdomain.ErrConcurrentModification, "concurrent_modification", "Your cart was being updated by another request. Please try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &mockOrchestrator{}
			orch.On("AddToCart", mock.Anything, mock.Anything).Return(nil, tt.err)

			reply := newDispatcher(orch, &stubRetrieval{}).Dispatch(context.Background(), intentdomain.Intent{
				Kind:     intentdomain.KindAddToCart,
				Entities: intentdomain.Entities{ProductName: "tee"},
			}, activeSession)

			assert.False(t, reply.Success)
			assert.Equal(t, tt.outcome, reply.Outcome)
			assert.Equal(t, tt.text, reply.Text)
		})
	}
}

func TestDispatchUpdateToZeroReportsRemoval(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("UpdateQuantity", mock.Anything, mock.Anything).
		Return(&cartflowdomain.LineResult{Product: blueShirt, Removed: true}, nil)

	reply := newDispatcher(orch, &stubRetrieval{}).Dispatch(context.Background(), intentdomain.Intent{
		Kind:     intentdomain.KindUpdateQuantity,
		Entities: intentdomain.Entities{ProductName: "blue t-shirt", Quantity: qty(0)},
	}, activeSession)

	assert.Equal(t, "Removed Blue T-Shirt from your cart.", reply.Text)
}

func TestDispatchViewCartAndCheckout(t *testing.T) {
	summary := &cartflowdomain.Summary{
		Lines:     []cartflowdomain.SummaryLine{{Name: "Blue T-Shirt", UnitPrice: 1500, Quantity: 2, Subtotal: 3000, Currency: "USD"}},
		ItemCount: 2,
		Total:     3000,
		Currency:  "USD",
	}
	orch := &mockOrchestrator{}
	orch.On("ViewCart", mock.Anything, int64(7)).Return(summary, nil)
	orch.On("Checkout", mock.Anything, int64(7)).Return(&cartflowdomain.CheckoutResult{Summary: summary}, nil)
	d := newDispatcher(orch, &stubRetrieval{})

	reply := d.Dispatch(context.Background(), intentdomain.Intent{Kind: intentdomain.KindViewCart}, activeSession)
	assert.Equal(t, "Your cart:\n1. Blue T-Shirt ($15.00) x 2 = $30.00\nTotal: $30.00 for 2 items.", reply.Text)

	reply = d.Dispatch(context.Background(), intentdomain.Intent{Kind: intentdomain.KindCheckout}, activeSession)
	assert.True(t, reply.Success)
	assert.Equal(t, "Your order is placed: 2 items, total $30.00. Thank you for shopping with us!", reply.Text)
}

type panickyRetrieval struct{}

func (panickyRetrieval) Retrieve(context.Context, retrievaldomain.Query) retrievaldomain.RetrievedContext {
	panic("index corrupted")
}

func TestDispatchRecoversFromPanics(t *testing.T) {
	d := New(Params{
		Orchestrator: &mockOrchestrator{},
		Retrieval:    panickyRetrieval{},
		Holder:       config.NewStaticAssistantConfigHolder(config.DefaultAssistantConfig()),
		Log:          zap.NewNop(),
	})

	reply := d.Dispatch(context.Background(), intentdomain.Intent{
		Kind:     intentdomain.KindSearchProduct,
		Entities: intentdomain.Entities{Query: "boots"},
	}, activeSession)

	assert.False(t, reply.Success)
	assert.Equal(t, OutcomeInternal, reply.Outcome)
	assert.Equal(t, intentdomain.KindSearchProduct, reply.Intent)
}
