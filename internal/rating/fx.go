package rating

import (
	"go.uber.org/fx"

	"github.com/reelay/reelay/internal/rating/repository"
	"github.com/reelay/reelay/internal/rating/service"
)

var Module = fx.Module("rating.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
