package product

import (
	"github.com/smallbiznis/shopassist/internal/product/domain"
	"github.com/smallbiznis/shopassist/internal/product/repository"
	"github.com/smallbiznis/shopassist/internal/product/service"
	"go.uber.org/fx"
)

var Module = fx.Module("product.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(
		func(s domain.Service) domain.Reader { return s },
		func(s domain.Service) domain.Writer { return s },
	),
)
