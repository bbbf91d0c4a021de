package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	cartdomain "github.com/smallbiznis/shopassist/internal/cart/domain"
	"github.com/smallbiznis/shopassist/internal/cartflow/domain"
	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/config"
	"github.com/smallbiznis/shopassist/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/shopassist/internal/observability/metrics"
	"github.com/smallbiznis/shopassist/internal/observability/tracing"
	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
	"github.com/smallbiznis/shopassist/internal/resilience"
	retrievaldomain "github.com/smallbiznis/shopassist/internal/retrieval/domain"
	sessiondomain "github.com/smallbiznis/shopassist/internal/session/domain"
	"github.com/smallbiznis/shopassist/internal/sessionlock"
	"github.com/smallbiznis/shopassist/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Params struct {
	fx.In

	Products  productdomain.Reader
	Carts     cartdomain.Service
	Sessions  sessiondomain.Service
	Retrieval retrievaldomain.Engine
	Locker    sessionlock.Locker
	Holder    *config.AssistantConfigHolder
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *obsmetrics.AssistantMetrics `optional:"true"`
	Counters  *obsmetrics.Metrics          `optional:"true"`
}

type Service struct {
	products  productdomain.Reader
	carts     cartdomain.Service
	sessions  sessiondomain.Service
	retrieval retrievaldomain.Engine
	locker    sessionlock.Locker
	holder    *config.AssistantConfigHolder
	clock     clock.Clock
	log       *zap.Logger
	metrics   *obsmetrics.AssistantMetrics
	counters  *obsmetrics.Metrics
}

func New(p Params) domain.Orchestrator {
	return &Service{
		products:  p.Products,
		carts:     p.Carts,
		sessions:  p.Sessions,
		retrieval: p.Retrieval,
		locker:    p.Locker,
		holder:    p.Holder,
		clock:     p.Clock,
		log:       p.Log.Named("cartflow.service"),
		metrics:   p.Metrics,
		counters:  p.Counters,
	}
}

const (
	opAdd      = "add_to_cart"
	opRemove   = "remove_from_cart"
	opUpdate   = "update_quantity"
	opCheckout = "checkout"
	opComplete = "complete_session"
	opArchive  = "archive_cart"
)

func (s *Service) AddToCart(ctx context.Context, req domain.LineRequest) (res *domain.LineResult, err error) {
	ctx, span := tracing.Start(ctx, "cartflow.add_to_cart", attribute.Int64("session_id", req.SessionID))
	defer func() {
		tracing.End(span, err)
		s.recordMutation(ctx, opAdd, err)
	}()

	if req.Quantity <= 0 || req.Quantity > domain.MaxLineQuantity {
		return nil, domain.ErrInvalidQuantity
	}
	if _, err := s.activeSession(ctx, req.SessionID); err != nil {
		return nil, err
	}
	productID, err := s.resolve(ctx, req.Product, req.Category, nil)
	if err != nil {
		return nil, err
	}

	err = s.withSession(ctx, req.SessionID, func(ctx context.Context) error {
		if _, err := s.activeSession(ctx, req.SessionID); err != nil {
			return err
		}
		product, err := s.product(ctx, productID)
		if err != nil {
			return err
		}
		current, err := s.lineQuantity(ctx, req.SessionID, productID)
		if err != nil {
			return err
		}
		if req.Quantity > product.StockQuantity-current {
			return &domain.StockError{Product: product.Name, Available: product.StockQuantity}
		}

		var line *cartdomain.CartLine
		err = s.write(ctx, opAdd, func(ctx context.Context) error {
			var werr error
			line, werr = s.carts.Upsert(ctx, cartdomain.UpsertRequest{
				SessionID: req.SessionID,
				ProductID: productID,
				Quantity:  req.Quantity,
				Mode:      cartdomain.ModeDelta,
			})
			return werr
		})
		if err != nil {
			return err
		}
		res = &domain.LineResult{
			SessionID: req.SessionID,
			Product:   *product,
			Quantity:  line.Quantity,
			Added:     req.Quantity,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) RemoveFromCart(ctx context.Context, sessionID int64, ref domain.ProductRef) (res *domain.LineResult, err error) {
	ctx, span := tracing.Start(ctx, "cartflow.remove_from_cart", attribute.Int64("session_id", sessionID))
	defer func() {
		tracing.End(span, err)
		s.recordMutation(ctx, opRemove, err)
	}()

	if _, err := s.activeSession(ctx, sessionID); err != nil {
		return nil, err
	}
	productID, err := s.resolveInCart(ctx, sessionID, ref, "")
	if err != nil {
		return nil, err
	}
	return s.remove(ctx, sessionID, productID)
}

func (s *Service) remove(ctx context.Context, sessionID, productID int64) (res *domain.LineResult, err error) {
	err = s.withSession(ctx, sessionID, func(ctx context.Context) error {
		if _, err := s.activeSession(ctx, sessionID); err != nil {
			return err
		}
		product, err := s.product(ctx, productID)
		if err != nil {
			return err
		}
		err = s.write(ctx, opRemove, func(ctx context.Context) error {
			return s.carts.Remove(ctx, sessionID, productID)
		})
		if err != nil {
			return err
		}
		res = &domain.LineResult{SessionID: sessionID, Product: *product, Removed: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) UpdateQuantity(ctx context.Context, req domain.LineRequest) (res *domain.LineResult, err error) {
	ctx, span := tracing.Start(ctx, "cartflow.update_quantity", attribute.Int64("session_id", req.SessionID))
	defer func() {
		tracing.End(span, err)
		s.recordMutation(ctx, opUpdate, err)
	}()

	if _, err := s.activeSession(ctx, req.SessionID); err != nil {
		return nil, err
	}
	productID, err := s.resolveInCart(ctx, req.SessionID, req.Product, req.Category)
	if err != nil {
		return nil, err
	}
	if req.Quantity > domain.MaxLineQuantity {
		return nil, domain.ErrInvalidQuantity
	}
	if req.Quantity <= 0 {
		return s.remove(ctx, req.SessionID, productID)
	}

	err = s.withSession(ctx, req.SessionID, func(ctx context.Context) error {
		if _, err := s.activeSession(ctx, req.SessionID); err != nil {
			return err
		}
		product, err := s.product(ctx, productID)
		if err != nil {
			return err
		}
		if req.Quantity > product.StockQuantity {
			return &domain.StockError{Product: product.Name, Available: product.StockQuantity}
		}

		var line *cartdomain.CartLine
		err = s.write(ctx, opUpdate, func(ctx context.Context) error {
			var werr error
			line, werr = s.carts.Upsert(ctx, cartdomain.UpsertRequest{
				SessionID: req.SessionID,
				ProductID: productID,
				Quantity:  req.Quantity,
				Mode:      cartdomain.ModeAbsolute,
			})
			return werr
		})
		if err != nil {
			return err
		}
		res = &domain.LineResult{SessionID: req.SessionID, Product: *product, Quantity: line.Quantity}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) ViewCart(ctx context.Context, sessionID int64) (*domain.Summary, error) {
	return s.Summary(ctx, sessionID)
}

func (s *Service) Summary(ctx context.Context, sessionID int64) (*domain.Summary, error) {
	if _, err := s.session(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.summary(ctx, sessionID)
}

func (s *Service) summary(ctx context.Context, sessionID int64) (*domain.Summary, error) {
	lines, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, translate(err)
	}
	return s.project(ctx, sessionID, lines)
}

// project joins lines with their products. Product reads run concurrently;
// lines whose product has since disappeared are left out.
func (s *Service) project(ctx context.Context, sessionID int64, lines []cartdomain.CartLine) (*domain.Summary, error) {
	products := make([]*productdomain.Product, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, line := range lines {
		g.Go(func() error {
			p, err := s.products.Get(gctx, line.ProductID)
			if errors.Is(err, productdomain.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			products[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, translate(err)
	}

	summary := &domain.Summary{
		SessionID:  sessionID,
		Lines:      make([]domain.SummaryLine, 0, len(lines)),
		ComputedAt: s.clock.Now(),
	}
	for i, line := range lines {
		p := products[i]
		if p == nil {
			logger.FromContext(ctx).Warn("cart line references missing product",
				zap.String("session_id", snowflake.ID(sessionID).String()),
				zap.String("product_id", snowflake.ID(line.ProductID).String()),
			)
			continue
		}
		subtotal := p.Price * line.Quantity
		summary.Lines = append(summary.Lines, domain.SummaryLine{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  line.Quantity,
			Subtotal:  subtotal,
			Currency:  p.Currency,
		})
		summary.ItemCount += line.Quantity
		summary.Total += subtotal
		if summary.Currency == "" {
			summary.Currency = p.Currency
		}
	}
	return summary, nil
}

// Checkout completes the session and then archives its cart. A failed
// archive leaves the session completed with cleanup pending; the order of
// the two writes is fixed.
func (s *Service) Checkout(ctx context.Context, sessionID int64) (res *domain.CheckoutResult, err error) {
	ctx, span := tracing.Start(ctx, "cartflow.checkout", attribute.Int64("session_id", sessionID))
	defer func() {
		tracing.End(span, err)
		s.counters.RecordCheckout(ctx, outcome(err))
	}()

	if _, err := s.activeSession(ctx, sessionID); err != nil {
		return nil, err
	}

	err = s.withSession(ctx, sessionID, func(ctx context.Context) error {
		if _, err := s.activeSession(ctx, sessionID); err != nil {
			return err
		}

		summary, err := s.summary(ctx, sessionID)
		if err != nil {
			return err
		}
		if summary.Empty() {
			return domain.ErrEmptyCart
		}

		var completed *sessiondomain.Session
		err = s.write(ctx, opComplete, func(ctx context.Context) error {
			var werr error
			completed, werr = s.sessions.Complete(ctx, sessionID)
			return werr
		})
		if errors.Is(err, domain.ErrSessionClosed) {
			// Under the lock the session was active a moment ago, so a
			// completed row means the first attempt did commit.
			if current, gerr := s.session(ctx, sessionID); gerr == nil && current.Status == sessiondomain.StatusCompleted {
				completed, err = current, nil
			}
		}
		if err != nil {
			return err
		}
		res = &domain.CheckoutResult{Session: completed, Summary: summary}

		err = s.write(ctx, opArchive, func(ctx context.Context) error {
			_, werr := s.carts.Archive(ctx, sessionID)
			return werr
		})
		if err != nil {
			res.CleanupPending = true
			s.metrics.IncCleanupPending()
			logger.FromContext(ctx).Warn("cart archive pending after checkout",
				zap.String("session_id", snowflake.ID(sessionID).String()),
				zap.Error(err),
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("checkout completed",
		zap.String("session_id", snowflake.ID(sessionID).String()),
		zap.Int64("total", res.Summary.Total),
		zap.Int("lines", len(res.Summary.Lines)),
		zap.Bool("cleanup_pending", res.CleanupPending),
	)
	return res, nil
}

func (s *Service) Receipt(ctx context.Context, sessionID int64) (*domain.Summary, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != sessiondomain.StatusCompleted {
		return nil, domain.ErrSessionNotCompleted
	}

	archived, err := s.carts.Archived(ctx, sessionID)
	if err != nil {
		return nil, translate(err)
	}
	// Lines still live here are the ones a failed archive left behind.
	live, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, translate(err)
	}
	summary, err := s.project(ctx, sessionID, append(archived, live...))
	if err != nil {
		return nil, err
	}
	if session.CompletedAt != nil {
		summary.ComputedAt = *session.CompletedAt
	}
	return summary, nil
}

func (s *Service) SweepCompleted(ctx context.Context, limit int) (int, error) {
	ids, err := s.carts.SessionsWithActiveLines(ctx, clampLimit(limit))
	if err != nil {
		return 0, translate(err)
	}

	cleaned := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return cleaned, err
		}
		session, err := s.sessions.Get(ctx, id)
		if err != nil {
			if errors.Is(err, sessiondomain.ErrNotFound) {
				continue
			}
			return cleaned, translate(err)
		}
		if session.Status != sessiondomain.StatusCompleted {
			continue
		}
		n, err := s.carts.Archive(ctx, id)
		if err != nil {
			return cleaned, translate(err)
		}
		cleaned++
		s.log.Info("archived cart of completed session",
			zap.String("session_id", snowflake.ID(id).String()),
			zap.Int64("lines", n),
		)
	}
	return cleaned, nil
}

func (s *Service) session(ctx context.Context, sessionID int64) (*sessiondomain.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, translate(err)
	}
	return session, nil
}

func (s *Service) activeSession(ctx context.Context, sessionID int64) (*sessiondomain.Session, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Active() {
		return nil, domain.ErrSessionClosed
	}
	return session, nil
}

func (s *Service) product(ctx context.Context, id int64) (*productdomain.Product, error) {
	p, err := s.products.Get(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return p, nil
}

func (s *Service) lineQuantity(ctx context.Context, sessionID, productID int64) (int64, error) {
	lines, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return 0, translate(err)
	}
	for _, l := range lines {
		if l.ProductID == productID {
			return l.Quantity, nil
		}
	}
	return 0, nil
}

// withSession runs fn while holding the session's mutation lock.
func (s *Service) withSession(ctx context.Context, sessionID int64, fn func(context.Context) error) error {
	unlock, err := s.locker.Lock(ctx, strconv.FormatInt(sessionID, 10))
	if err != nil {
		return translate(err)
	}
	defer unlock()
	return fn(ctx)
}

// write applies one partition write, retried once when it lost a race or
// hit a transient failure.
func (s *Service) write(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := s.holder.Get().Write.MaxAttempts
	err := resilience.RetryOnce(ctx, attempts, retryable, func(err error) {
		s.metrics.IncWriteRetry(op)
		logger.FromContext(ctx).Info("retrying partition write", zap.String("operation", op), zap.Error(err))
	}, fn)
	return translate(err)
}

func retryable(err error) bool {
	return errors.Is(err, cartdomain.ErrConcurrentModification) || db.IsTransientErr(err)
}

// translate maps partition errors onto the orchestrator's taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, resilience.ErrPartitionUnavailable):
		return fmt.Errorf("%w: %w", domain.ErrPartitionUnavailable, err)
	case errors.Is(err, cartdomain.ErrConcurrentModification),
		errors.Is(err, sessionlock.ErrLockTimeout):
		return fmt.Errorf("%w: %w", domain.ErrConcurrentModification, err)
	case errors.Is(err, productdomain.ErrNotFound):
		return domain.ErrProductNotFound
	case errors.Is(err, sessiondomain.ErrNotFound):
		return domain.ErrSessionNotFound
	case errors.Is(err, sessiondomain.ErrNotActive):
		return domain.ErrSessionClosed
	case errors.Is(err, cartdomain.ErrLineNotFound):
		return domain.ErrNotInCart
	case errors.Is(err, cartdomain.ErrInvalidQuantity):
		return domain.ErrInvalidQuantity
	}
	return err
}

func (s *Service) recordMutation(ctx context.Context, op string, err error) {
	s.counters.RecordCartMutation(ctx, op, outcome(err))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.Code(err)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	}
	return limit
}
