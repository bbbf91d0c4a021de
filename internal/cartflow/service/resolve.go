package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/shopassist/internal/cartflow/domain"
	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
	retrievaldomain "github.com/smallbiznis/shopassist/internal/retrieval/domain"
)

const resolveCandidates = 3

// resolve turns a free-text reference into a product id: explicit id, then
// exact name, then the retrieval engine. Two distinct hits within the
// ambiguity margin are reported instead of guessed between. prefer, when
// set, breaks such ties in favour of the only preferred candidate.
func (s *Service) resolve(ctx context.Context, ref domain.ProductRef, category string, prefer map[int64]bool) (int64, error) {
	if ref.ID != 0 {
		p, err := s.product(ctx, ref.ID)
		if err != nil {
			return 0, err
		}
		return p.ID, nil
	}

	name := strings.TrimSpace(ref.Name)
	if name == "" {
		return 0, domain.ErrProductNotFound
	}
	p, err := s.products.FindByName(ctx, name)
	if err == nil {
		return p.ID, nil
	}
	if err = translate(err); err != domain.ErrProductNotFound {
		return 0, err
	}

	rc := s.retrieval.Retrieve(ctx, retrievaldomain.Query{Text: name, K: resolveCandidates, Category: category})
	if rc.Degraded && rc.Reason == retrievaldomain.ReasonPartition {
		return 0, domain.ErrPartitionUnavailable
	}
	if rc.Empty() {
		return 0, domain.ErrProductNotFound
	}

	margin := s.holder.Get().Retrieval.AmbiguityMargin
	top := rc.Items[0]
	tied := []productdomain.Product{top.Product}
	for _, item := range rc.Items[1:] {
		if top.Similarity-item.Similarity <= margin && item.Product.ID != top.Product.ID {
			tied = append(tied, item.Product)
		}
	}
	if len(tied) == 1 {
		return top.Product.ID, nil
	}

	if len(prefer) > 0 {
		var preferred []productdomain.Product
		for _, p := range tied {
			if prefer[p.ID] {
				preferred = append(preferred, p)
			}
		}
		if len(preferred) == 1 {
			return preferred[0].ID, nil
		}
	}
	return 0, &domain.AmbiguousError{Ref: name, Candidates: tied}
}

// resolveInCart resolves ref preferring products already in the session's
// cart, so "remove the t-shirt" picks the one t-shirt the user holds.
func (s *Service) resolveInCart(ctx context.Context, sessionID int64, ref domain.ProductRef, category string) (int64, error) {
	lines, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return 0, translate(err)
	}
	inCart := make(map[int64]bool, len(lines))
	for _, l := range lines {
		inCart[l.ProductID] = true
	}
	return s.resolve(ctx, ref, category, inCart)
}
