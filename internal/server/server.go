package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/shopassist/internal/assistant"
	cartflowdomain "github.com/smallbiznis/shopassist/internal/cartflow/domain"
	"github.com/smallbiznis/shopassist/internal/config"
	conversationdomain "github.com/smallbiznis/shopassist/internal/conversation/domain"
	"github.com/smallbiznis/shopassist/internal/observability"
	obsmiddleware "github.com/smallbiznis/shopassist/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/shopassist/internal/observability/metrics"
	obstracing "github.com/smallbiznis/shopassist/internal/observability/tracing"
	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
	sessiondomain "github.com/smallbiznis/shopassist/internal/session/domain"
	"github.com/smallbiznis/shopassist/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(func(svc *assistant.Service) Assistant { return svc }),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// Assistant is the surface the HTTP layer drives.
type Assistant interface {
	Chat(ctx context.Context, req assistant.ChatRequest) (*assistant.ChatResponse, error)
	CreateSession(ctx context.Context, userID string) (*sessiondomain.Session, error)
	GetSession(ctx context.Context, id int64, userID string) (*sessiondomain.Session, error)
	History(ctx context.Context, sessionID int64, userID string, page pagination.Pagination) (*conversationdomain.HistoryResponse, error)
	Summary(ctx context.Context, sessionID int64, userID string) (*cartflowdomain.Summary, error)
	Receipt(ctx context.Context, sessionID int64, userID string) ([]byte, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	assistant Assistant
	products  productdomain.Reader
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Assistant Assistant
	Products  productdomain.Reader
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		assistant: p.Assistant,
		products:  p.Products,
	}

	svc.registerChatRoutes()
	svc.registerSessionRoutes()
	svc.registerCatalogRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerChatRoutes() {
	chat := s.engine.Group("/chat")

	chat.POST("", s.Chat)
	chat.GET("/history/:session", s.ChatHistory)
}

func (s *Server) registerSessionRoutes() {
	sessions := s.engine.Group("/sessions")

	sessions.POST("", s.CreateSession)
	sessions.GET("/:id", s.GetSession)
	sessions.GET("/:id/summary", s.GetSessionSummary)
	sessions.GET("/:id/receipt", s.GetSessionReceipt)
}

func (s *Server) registerCatalogRoutes() {
	s.engine.GET("/products", s.ListProducts)
	s.engine.GET("/products/:id", s.GetProduct)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
