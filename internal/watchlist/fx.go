package watchlist

import (
	"go.uber.org/fx"

	"github.com/reelay/reelay/internal/watchlist/repository"
	"github.com/reelay/reelay/internal/watchlist/service"
)

var Module = fx.Module("watchlist.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
