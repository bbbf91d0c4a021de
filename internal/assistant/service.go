// Package assistant is the chat entry point: it classifies an inbound
// message, dispatches it and records the exchange.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	cartflowdomain "github.com/smallbiznis/shopassist/internal/cartflow/domain"
	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/config"
	conversationdomain "github.com/smallbiznis/shopassist/internal/conversation/domain"
	"github.com/smallbiznis/shopassist/internal/dispatch"
	intentdomain "github.com/smallbiznis/shopassist/internal/intent/domain"
	obscontext "github.com/smallbiznis/shopassist/internal/observability/context"
	"github.com/smallbiznis/shopassist/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/shopassist/internal/observability/metrics"
	"github.com/smallbiznis/shopassist/internal/receipt"
	"github.com/smallbiznis/shopassist/internal/resilience"
	sessiondomain "github.com/smallbiznis/shopassist/internal/session/domain"
	"github.com/smallbiznis/shopassist/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	maxMessageLength = 2000
	storeName        = "shopassist"
	recordTimeout    = 5 * time.Second
)

var (
	ErrEmptyMessage         = errors.New("empty_message")
	ErrMessageTooLong       = errors.New("message_too_long")
	ErrUserRequired         = errors.New("user_id_required")
	ErrSessionNotFound      = errors.New("session_not_found")
	ErrSessionForbidden     = errors.New("session_forbidden")
	ErrPartitionUnavailable = errors.New("partition_unavailable")
)

type ChatRequest struct {
	SessionID      int64
	UserID         string
	Message        string
	IdempotencyKey string
}

type ChatResponse struct {
	SessionID string            `json:"session_id"`
	Reply     string            `json:"reply"`
	Intent    intentdomain.Kind `json:"intent"`
	Success   bool              `json:"success"`
	Outcome   string            `json:"outcome,omitempty"`
	Replayed  bool              `json:"replayed,omitempty"`
}

type Params struct {
	fx.In

	Sessions     sessiondomain.Service
	Conversation conversationdomain.Service
	Classifier   intentdomain.Classifier
	Dispatcher   dispatch.Dispatcher
	Orchestrator cartflowdomain.Orchestrator
	Receipts     receipt.Renderer
	Holder       *config.AssistantConfigHolder
	Clock        clock.Clock
	Log          *zap.Logger
	Counters     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	sessions     sessiondomain.Service
	conversation conversationdomain.Service
	classifier   intentdomain.Classifier
	dispatcher   dispatch.Dispatcher
	orchestrator cartflowdomain.Orchestrator
	receipts     receipt.Renderer
	holder       *config.AssistantConfigHolder
	clock        clock.Clock
	log          *zap.Logger
	counters     *obsmetrics.Metrics
	inflight     singleflight.Group
}

func New(p Params) *Service {
	return &Service{
		sessions:     p.Sessions,
		conversation: p.Conversation,
		classifier:   p.Classifier,
		dispatcher:   p.Dispatcher,
		orchestrator: p.Orchestrator,
		receipts:     p.Receipts,
		holder:       p.Holder,
		clock:        p.Clock,
		log:          p.Log.Named("assistant"),
		counters:     p.Counters,
	}
}

// Chat handles one inbound message. Domain failures never surface as
// errors; they become a reply with Success false. Errors are returned only
// for requests that cannot be attributed to a usable session.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return nil, ErrMessageTooLong
	}

	session, err := s.sessionFor(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx = obscontext.WithSessionID(ctx, snowflake.ID(session.ID).String())

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return s.exchange(ctx, session, text, "")
	}

	// Concurrent retries carrying the same key share one dispatch.
	v, err, _ := s.inflight.Do(strconv.FormatInt(session.ID, 10)+"|"+key, func() (any, error) {
		if prior, err := s.replay(ctx, session.ID, key); err != nil || prior != nil {
			return prior, err
		}
		return s.exchange(ctx, session, text, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ChatResponse), nil
}

func (s *Service) exchange(ctx context.Context, session *sessiondomain.Session, text, key string) (*ChatResponse, error) {
	log := logger.FromContext(ctx)
	cfg := s.holder.Get().Intent

	var history []intentdomain.Turn
	recent, err := s.conversation.Recent(ctx, session.ID, cfg.HistoryWindow)
	if err != nil {
		log.Warn("conversation history unavailable", zap.Error(err))
	}
	for _, m := range recent {
		if m.Role == conversationdomain.RoleSystem {
			continue
		}
		history = append(history, intentdomain.Turn{Role: string(m.Role), Content: m.Content})
	}

	intent := s.classifier.Classify(ctx, intentdomain.Utterance{Text: text, SessionID: session.ID, At: s.clock.Now()}, history)
	reply := s.dispatcher.Dispatch(ctx, intent, session)

	resp := &ChatResponse{
		SessionID: snowflake.ID(session.ID).String(),
		Reply:     reply.Text,
		Intent:    reply.Intent,
		Success:   reply.Success,
		Outcome:   reply.Outcome,
	}

	// The dispatch may already have written to the cart. Recording the
	// exchange must outlive a cancelled request, or a retry with the same key
	// would find no reply to replay and apply the write a second time.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	success := reply.Success
	_, err = s.conversation.Append(ctx, session.ID, key,
		conversationdomain.Turn{Role: conversationdomain.RoleUser, Content: text, Intent: string(intent.Kind)},
		conversationdomain.Turn{Role: conversationdomain.RoleAssistant, Content: reply.Text, Intent: string(reply.Intent), Success: &success},
	)
	switch {
	case errors.Is(err, conversationdomain.ErrDuplicateAppend):
		// Another replica answered the same key first; its reply wins.
		if prior, rerr := s.replay(ctx, session.ID, key); rerr == nil && prior != nil {
			resp = prior
		}
	case err != nil:
		log.Error("failed to record conversation", zap.Error(err))
	}

	if session.Active() {
		if err := s.sessions.Touch(ctx, session.ID); err != nil {
			log.Warn("failed to touch session", zap.Error(err))
		}
	}
	s.counters.RecordChatMessage(ctx, string(resp.Intent), resp.Outcome)
	return resp, nil
}

func (s *Service) replay(ctx context.Context, sessionID int64, key string) (*ChatResponse, error) {
	msg, err := s.conversation.FindReply(ctx, sessionID, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPartitionUnavailable, err)
	}
	if msg == nil {
		return nil, nil
	}
	resp := &ChatResponse{
		SessionID: snowflake.ID(sessionID).String(),
		Reply:     msg.Content,
		Intent:    intentdomain.Kind(msg.Intent),
		Outcome:   "replayed",
		Replayed:  true,
	}
	if msg.Success != nil {
		resp.Success = *msg.Success
	}
	return resp, nil
}

func (s *Service) sessionFor(ctx context.Context, req ChatRequest) (*sessiondomain.Session, error) {
	if req.SessionID == 0 {
		return s.CreateSession(ctx, req.UserID)
	}
	return s.GetSession(ctx, req.SessionID, req.UserID)
}

func (s *Service) CreateSession(ctx context.Context, userID string) (*sessiondomain.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserRequired
	}
	session, err := s.sessions.Create(ctx, userID)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	s.counters.RecordSessionCreated(ctx)
	logger.FromContext(ctx).Info("session created",
		zap.String("session_id", snowflake.ID(session.ID).String()),
	)
	return session, nil
}

// GetSession loads a session. A non-empty userID must match the owner.
func (s *Service) GetSession(ctx context.Context, id int64, userID string) (*sessiondomain.Session, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	if userID = strings.TrimSpace(userID); userID != "" && userID != session.UserID {
		return nil, ErrSessionForbidden
	}
	return session, nil
}

func (s *Service) History(ctx context.Context, sessionID int64, userID string, page pagination.Pagination) (*conversationdomain.HistoryResponse, error) {
	if _, err := s.GetSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return s.conversation.History(ctx, conversationdomain.HistoryRequest{SessionID: sessionID, Pagination: page})
}

func (s *Service) Summary(ctx context.Context, sessionID int64, userID string) (*cartflowdomain.Summary, error) {
	if _, err := s.GetSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return s.orchestrator.Summary(ctx, sessionID)
}

// Receipt renders the PDF receipt of a completed session.
func (s *Service) Receipt(ctx context.Context, sessionID int64, userID string) ([]byte, error) {
	session, err := s.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	summary, err := s.orchestrator.Receipt(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	data := receipt.Data{
		StoreName: storeName,
		SessionID: snowflake.ID(session.ID).String(),
		UserID:    session.UserID,
		Summary:   summary,
	}
	if session.CompletedAt != nil {
		data.CompletedAt = *session.CompletedAt
	}
	return s.receipts.Render(ctx, data)
}

func mapSessionErr(err error) error {
	switch {
	case errors.Is(err, sessiondomain.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, sessiondomain.ErrInvalidUserID):
		return ErrUserRequired
	case errors.Is(err, resilience.ErrPartitionUnavailable):
		return fmt.Errorf("%w: %w", ErrPartitionUnavailable, err)
	}
	return err
}
