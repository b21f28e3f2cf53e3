package recommendation

import (
	"go.uber.org/fx"

	"github.com/reelay/reelay/internal/recommendation/repository"
	"github.com/reelay/reelay/internal/recommendation/service"
)

var Module = fx.Module("recommendation.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
