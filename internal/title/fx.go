package title

import (
	"go.uber.org/fx"

	"github.com/reelay/reelay/internal/title/repository"
	"github.com/reelay/reelay/internal/title/service"
)

var Module = fx.Module("title.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
