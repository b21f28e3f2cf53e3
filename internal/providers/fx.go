package providers

import (
	"go.uber.org/fx"

	"github.com/reelay/reelay/internal/providers/genai"
	"github.com/reelay/reelay/internal/providers/search"
	"github.com/reelay/reelay/internal/providers/tmdb"
)

var Module = fx.Module("providers",
	fx.Provide(
		tmdb.NewClient,
		search.NewClient,
		genai.NewClient,
	),
)
