package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/config"
	"github.com/smallbiznis/shopassist/internal/embedding"
	obsmetrics "github.com/smallbiznis/shopassist/internal/observability/metrics"
	"github.com/smallbiznis/shopassist/internal/product/domain"
	"github.com/smallbiznis/shopassist/internal/resilience"
	"github.com/smallbiznis/shopassist/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	partitionName = "product"
	listBatchSize = 500
	searchLimit   = 20
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Holder  *config.AssistantConfigHolder
	Clock   clock.Clock
	Metrics *obsmetrics.AssistantMetrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	genID   *snowflake.Node
	clock   clock.Clock
	breaker *resilience.CircuitBreaker
}

func New(p Params) domain.Service {
	cfg := p.Holder.Get().Breaker
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("product.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
		breaker: resilience.NewCircuitBreaker(partitionName, cfg.FailureThreshold, cfg.Cooldown,
			resilience.WithClock(p.Clock),
			resilience.WithMetrics(p.Metrics),
			resilience.WithFailurePredicate(isPartitionFailure),
			resilience.WithSettings(func() (int, time.Duration) {
				b := p.Holder.Get().Breaker
				return b.FailureThreshold, b.Cooldown
			}),
		),
	}
}

func isPartitionFailure(err error) bool {
	return err != nil && !domain.IsBusinessErr(err) && !errors.Is(err, context.Canceled)
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Product, error) {
	now := s.clock.Now()
	p := &domain.Product{
		ID:            s.genID.Generate().Int64(),
		Name:          strings.TrimSpace(req.Name),
		Description:   strings.TrimSpace(req.Description),
		Category:      strings.ToLower(strings.TrimSpace(req.Category)),
		SubCategory:   strings.ToLower(strings.TrimSpace(req.SubCategory)),
		Price:         req.Price,
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		Score:         req.Score,
		StockQuantity: req.StockQuantity,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	p.Slug = slug.Make(p.Name)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	err := s.breaker.Execute(func() error {
		err := s.repo.Create(ctx, s.db, p)
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrAlreadyExists
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Product, error) {
	if id <= 0 {
		return nil, domain.ErrNotFound
	}
	return resilience.Do(s.breaker, func() (*domain.Product, error) {
		item, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, domain.ErrNotFound
		}
		return item, nil
	})
}

// FindByName is an exact lookup on the product's slug, so "Blue T-Shirt"
// and "blue t shirt" resolve to the same product.
func (s *Service) FindByName(ctx context.Context, name string) (*domain.Product, error) {
	key := slug.Make(strings.TrimSpace(name))
	if key == "" {
		return nil, domain.ErrNotFound
	}
	return resilience.Do(s.breaker, func() (*domain.Product, error) {
		item, err := s.repo.FindBySlug(ctx, s.db, key)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, domain.ErrNotFound
		}
		return item, nil
	})
}

func (s *Service) FindByCategory(ctx context.Context, category string, excludeSubCategory *string) ([]domain.Product, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, domain.ErrInvalidCategory
	}
	return resilience.Do(s.breaker, func() ([]domain.Product, error) {
		return s.repo.FindByCategory(ctx, s.db, category, excludeSubCategory)
	})
}

func (s *Service) Search(ctx context.Context, text string) ([]domain.Product, error) {
	terms := searchTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}
	return resilience.Do(s.breaker, func() ([]domain.Product, error) {
		return s.repo.Search(ctx, s.db, terms, searchLimit)
	})
}

// VectorSearch scans the stored embeddings. Products embedded with a
// different dimension than the query are skipped.
func (s *Service) VectorSearch(ctx context.Context, vec []float64, k int) ([]domain.Match, error) {
	if len(vec) == 0 || k <= 0 {
		return nil, nil
	}
	items, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]domain.Match, 0, len(items))
	for _, item := range items {
		if len(item.Embedding) != len(vec) {
			continue
		}
		matches = append(matches, domain.Match{
			Product:    item,
			Similarity: embedding.Cosine(vec, item.Embedding),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Product.Score != b.Product.Score {
			return a.Product.Score > b.Product.Score
		}
		return snowflake.ID(a.Product.ID).String() < snowflake.ID(b.Product.ID).String()
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *Service) ListAll(ctx context.Context) ([]domain.Product, error) {
	return resilience.Do(s.breaker, func() ([]domain.Product, error) {
		var (
			out     []domain.Product
			afterID int64
		)
		for {
			batch, err := s.repo.List(ctx, s.db, afterID, listBatchSize)
			if err != nil {
				return nil, err
			}
			out = append(out, batch...)
			if len(batch) < listBatchSize {
				return out, nil
			}
			afterID = batch[len(batch)-1].ID
		}
	})
}

func (s *Service) UpdateEmbedding(ctx context.Context, id int64, vec []float64) error {
	return s.breaker.Execute(func() error {
		return s.repo.UpdateEmbedding(ctx, s.db, id, vec)
	})
}

func searchTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			terms = append(terms, f)
		}
	}
	return terms
}
