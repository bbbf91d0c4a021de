package session

import (
	"github.com/smallbiznis/shopassist/internal/session/repository"
	"github.com/smallbiznis/shopassist/internal/session/service"
	"go.uber.org/fx"
)

var Module = fx.Module("session.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
