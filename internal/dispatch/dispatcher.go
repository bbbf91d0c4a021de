package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	cartflowdomain "github.com/smallbiznis/shopassist/internal/cartflow/domain"
	"github.com/smallbiznis/shopassist/internal/config"
	intentdomain "github.com/smallbiznis/shopassist/internal/intent/domain"
	"github.com/smallbiznis/shopassist/internal/knowledge"
	"github.com/smallbiznis/shopassist/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/shopassist/internal/observability/metrics"
	"github.com/smallbiznis/shopassist/internal/observability/tracing"
	retrievaldomain "github.com/smallbiznis/shopassist/internal/retrieval/domain"
	sessiondomain "github.com/smallbiznis/shopassist/internal/session/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Reply is the normalized result of one dispatch.
type Reply struct {
	Text    string            `json:"reply"`
	Intent  intentdomain.Kind `json:"intent"`
	Success bool              `json:"success"`
	Outcome string            `json:"outcome"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, intent intentdomain.Intent, session *sessiondomain.Session) Reply
}

const (
	OutcomeOK            = "ok"
	OutcomeClarification = "clarification"
	OutcomeNoMatch       = "no_match"
	OutcomeDegraded      = "retrieval_degraded"
	OutcomeInternal      = "internal_error"
)

type handlerFunc func(ctx context.Context, intent intentdomain.Intent, session *sessiondomain.Session) Reply

// handler declares the entities that must be present and well-formed
// before run is called.
type handler struct {
	required []string
	optional []string
	run      handlerFunc
}

type Params struct {
	fx.In

	Orchestrator cartflowdomain.Orchestrator
	Retrieval    retrievaldomain.Engine
	Knowledge    knowledge.Searcher `optional:"true"`
	Holder       *config.AssistantConfigHolder
	Log          *zap.Logger
	Metrics      *obsmetrics.AssistantMetrics `optional:"true"`
}

type Service struct {
	orchestrator cartflowdomain.Orchestrator
	retrieval    retrievaldomain.Engine
	knowledge    knowledge.Searcher
	holder       *config.AssistantConfigHolder
	log          *zap.Logger
	metrics      *obsmetrics.AssistantMetrics
	table        map[intentdomain.Kind]handler
}

func New(p Params) *Service {
	s := &Service{
		orchestrator: p.Orchestrator,
		retrieval:    p.Retrieval,
		knowledge:    p.Knowledge,
		holder:       p.Holder,
		log:          p.Log.Named("dispatch"),
		metrics:      p.Metrics,
	}
	s.table = map[intentdomain.Kind]handler{
		intentdomain.KindAddToCart: {
			required: []string{intentdomain.EntityProduct},
			optional: []string{intentdomain.EntityQuantity},
			run:      s.addToCart,
		},
		intentdomain.KindRemoveFromCart: {
			required: []string{intentdomain.EntityProduct},
			run:      s.removeFromCart,
		},
		intentdomain.KindUpdateQuantity: {
			required: []string{intentdomain.EntityProduct, intentdomain.EntityQuantity},
			run:      s.updateQuantity,
		},
		intentdomain.KindViewCart:      {run: s.viewCart},
		intentdomain.KindSearchProduct: {required: []string{intentdomain.EntityQuery}, run: s.searchProduct},
		intentdomain.KindAskQuestion:   {required: []string{intentdomain.EntityQuery}, run: s.askQuestion},
		intentdomain.KindCheckout:      {run: s.checkout},
		intentdomain.KindUnknown:       {run: s.unknown},
	}
	return s
}

func (s *Service) Dispatch(ctx context.Context, intent intentdomain.Intent, session *sessiondomain.Session) (reply Reply) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "dispatch",
		attribute.String("intent", string(intent.Kind)),
		attribute.Float64("confidence", intent.Confidence),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("dispatch handler panicked",
				zap.String("intent", string(intent.Kind)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			reply = Reply{Text: replyInternal, Success: false, Outcome: OutcomeInternal}
		}
		reply.Intent = intent.Kind
		span.SetAttributes(attribute.String("outcome", reply.Outcome))
		tracing.End(span, nil)
		s.metrics.IncDispatch(string(intent.Kind), reply.Outcome)
		logger.FromContext(ctx).Info("dispatch decision",
			zap.String("intent", string(intent.Kind)),
			zap.Float64("confidence", intent.Confidence),
			zap.String("raw_label", intent.RawLabel),
			zap.String("fallback", intent.Fallback),
			zap.String("outcome", reply.Outcome),
			zap.Bool("success", reply.Success),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	h, ok := s.table[intent.Kind]
	if !ok {
		h = s.table[intentdomain.KindUnknown]
	}
	if r, ok := validate(h, intent.Entities); !ok {
		return r
	}
	return h.run(ctx, intent, session)
}

// validate short-circuits to a clarification when a required entity is
// missing or any declared entity could not be coerced.
func validate(h handler, e intentdomain.Entities) (Reply, bool) {
	for _, name := range append(append([]string(nil), h.required...), h.optional...) {
		if e.IsInvalid(name) {
			return Reply{Text: clarifyInvalid(name), Outcome: "invalid_" + name}, false
		}
	}
	for _, name := range h.required {
		if !e.Has(name) {
			return Reply{Text: clarifyMissing(name), Outcome: "missing_" + name}, false
		}
	}
	if e.ProductID != "" {
		if _, err := strconv.ParseInt(e.ProductID, 10, 64); err != nil {
			return Reply{Text: clarifyInvalid(intentdomain.EntityProduct), Outcome: "invalid_" + intentdomain.EntityProduct}, false
		}
	}
	return Reply{}, true
}

func productRef(e intentdomain.Entities) cartflowdomain.ProductRef {
	ref := cartflowdomain.ProductRef{Name: e.ProductName}
	if e.ProductID != "" {
		ref.ID, _ = strconv.ParseInt(e.ProductID, 10, 64)
	}
	return ref
}

func (s *Service) addToCart(ctx context.Context, intent intentdomain.Intent, session *sessiondomain.Session) Reply {
	qty := int64(1)
	if intent.Entities.Quantity != nil {
		qty = *intent.Entities.Quantity
	}
	res, err := s.orchestrator.AddToCart(ctx, cartflowdomain.LineRequest{
		SessionID: session.ID,
		Product:   productRef(intent.Entities),
		Quantity:  qty,
		Category:  intent.Entities.Category,
	})
	if err != nil {
		return s.failure(ctx, err, intent.Entities.ProductRef())
	}
	text := fmt.Sprintf("Added %d x %s to your cart.", res.Added, res.Product.Name)
	if res.Quantity != res.Added {
		text += fmt.Sprintf(" You now have %d.", res.Quantity)
	}
	return ok(text)
}

func (s *Service) removeFromCart(ctx context.Context, intent intentdomain.Intent, session *sessiondomain.Session) Reply {
	res, err := s.orchestrator.RemoveFromCart(ctx, session.ID, productRef(intent.Entities))
	if err != nil {
		return s.failure(ctx, err, intent.Entities.ProductRef())
	}
	return ok(fmt.Sprintf("Removed %s from your cart.", res.Product.Name))
}

func (s *Service) updateQuantity(ctx context.Context, intent intentdomain.Intent, session *sessiondomain.Session) Reply {
	res, err := s.orchestrator.UpdateQuantity(ctx, cartflowdomain.LineRequest{
		SessionID: session.ID,
		Product:   productRef(intent.Entities),
		Quantity:  *intent.Entities.Quantity,
		Category:  intent.Entities.Category,
	})
	if err != nil {
		return s.failure(ctx, err, intent.Entities.ProductRef())
	}
	if res.Removed {
		return ok(fmt.Sprintf("Removed %s from your cart.", res.Product.Name))
	}
	return ok(fmt.Sprintf("Your cart now has %d x %s.", res.Quantity, res.Product.Name))
}

func (s *Service) viewCart(ctx context.Context, _ intentdomain.Intent, session *sessiondomain.Session) Reply {
	summary, err := s.orchestrator.ViewCart(ctx, session.ID)
	if err != nil {
		return s.failure(ctx, err, "")
	}
	if summary.Empty() {
		return ok(replyEmptyCart)
	}
	return ok(formatCart(summary))
}

func (s *Service) checkout(ctx context.Context, _ intentdomain.Intent, session *sessiondomain.Session) Reply {
	res, err := s.orchestrator.Checkout(ctx, session.ID)
	if err != nil {
		return s.failure(ctx, err, "")
	}
	return ok(fmt.Sprintf("Your order is placed: %s, total %s. Thank you for shopping with us!",
		items(res.Summary.ItemCount), cartflowdomain.FormatPrice(res.Summary.Total, res.Summary.Currency)))
}

func (s *Service) searchProduct(ctx context.Context, intent intentdomain.Intent, _ *sessiondomain.Session) Reply {
	rc := s.retrieve(ctx, intent.Entities)
	if rc.Empty() {
		return noMatch(rc, intent.Entities.Query)
	}
	return ok(formatListing("Here is what I found:", rc.Items, s.maxListed(), false))
}

// askQuestion answers from the store policies and the catalog together.
// Either source alone is enough for a grounded reply.
func (s *Service) askQuestion(ctx context.Context, intent intentdomain.Intent, _ *sessiondomain.Session) Reply {
	passages := s.policies(ctx, intent.Entities.Query)
	rc := s.retrieve(ctx, intent.Entities)
	if len(passages) == 0 && rc.Empty() {
		return noMatch(rc, intent.Entities.Query)
	}

	var parts []string
	if len(passages) > 0 {
		parts = append(parts, formatPolicies(passages))
	}
	if !rc.Empty() {
		parts = append(parts, formatListing("Based on our catalog, these products are the closest match:", rc.Items, s.maxListed(), true))
	}
	return ok(strings.Join(parts, "\n\n"))
}

// policies searches the knowledge base under the retrieval cutoff and
// timeout. A failed search only drops the policy part of the answer.
func (s *Service) policies(ctx context.Context, query string) []knowledge.Match {
	if s.knowledge == nil {
		return nil
	}
	cfg := s.holder.Get().Retrieval
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	matches, err := s.knowledge.Search(ctx, query, policyLimit, cfg.MinSimilarity)
	if err != nil {
		logger.FromContext(ctx).Warn("policy search failed", zap.Error(err))
		return nil
	}
	return matches
}

func (s *Service) unknown(context.Context, intentdomain.Intent, *sessiondomain.Session) Reply {
	return Reply{Text: replyClarify, Outcome: OutcomeClarification}
}

func (s *Service) retrieve(ctx context.Context, e intentdomain.Entities) retrievaldomain.RetrievedContext {
	return s.retrieval.Retrieve(ctx, retrievaldomain.Query{Text: e.Query, Category: e.Category})
}

func (s *Service) maxListed() int {
	n := s.holder.Get().Dispatch.MaxListedProducts
	if n <= 0 || n > 3 {
		return 3
	}
	return n
}

func ok(text string) Reply {
	return Reply{Text: text, Success: true, Outcome: OutcomeOK}
}

func noMatch(rc retrievaldomain.RetrievedContext, query string) Reply {
	if rc.Degraded {
		return Reply{Text: replyDegraded, Outcome: OutcomeDegraded}
	}
	return Reply{Text: fmt.Sprintf(replyNoMatch, query), Success: true, Outcome: OutcomeNoMatch}
}

func (s *Service) failure(ctx context.Context, err error, ref string) Reply {
	code := cartflowdomain.Code(err)
	if code == OutcomeInternal {
		logger.FromContext(ctx).Error("cart operation failed", zap.Error(err))
	}
	return Reply{Text: failureText(err, ref), Outcome: code}
}
