package app

import (
	"context"

	"github.com/JakeFAU/edu-harvester/internal/api"
)

// APIDeps exposes the services behind the operator API. Runs started through
// the API are bound to runCtx.
func (a *App) APIDeps(runCtx context.Context, runner api.RunController) api.Deps {
	deps := api.Deps{
		Stats:      a.stats,
		Filter:     a.filter,
		Mappings:   a.mappings,
		Runner:     runner,
		RunContext: runCtx,
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}
	return deps
}

// APIConfig maps the server section onto the operator API.
func (a *App) APIConfig() api.Config {
	return api.Config{
		FilesRoot:      a.cfg.Download.Root,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		APIKey:         a.cfg.Server.APIKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
		TreeDepth:      a.cfg.Server.TreeDepth,
	}
}
