package auth

import (
	"github.com/reelay/reelay/internal/auth/repository"
	"github.com/reelay/reelay/internal/auth/service"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
