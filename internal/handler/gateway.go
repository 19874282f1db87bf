package handler

import (
	"context"
	"time"

	"github.com/iliyamo/lmeve2/internal/database"
	"github.com/iliyamo/lmeve2/internal/settings"
)

var (
	// requestTimeout bounds the work of a single-statement request.
	requestTimeout = 5 * time.Second
	// connectTimeout bounds resolving and opening the database for a batch.
	connectTimeout = 5 * time.Second
)

// Gateway opens the database named by a request's overrides. Each request
// gets its own connection and closes it before responding.
type Gateway struct {
	Resolver *settings.Resolver
	Opener   database.Opener
}

func (g Gateway) open(ctx context.Context, o settings.DBOverrides) (*database.Conn, error) {
	cfg, err := g.Resolver.ResolveDatabase(ctx, o)
	if err != nil {
		return nil, err
	}
	return g.Opener.Open(ctx, cfg)
}

// connect opens the database under connectTimeout and returns the context
// for the work that follows. That context has no deadline and survives a
// client hang-up, so a started batch runs to completion.
func (g Gateway) connect(parent context.Context, o settings.DBOverrides) (context.Context, *database.Conn, error) {
	ctx, cancel := context.WithTimeout(parent, connectTimeout)
	defer cancel()
	conn, err := g.open(ctx, o)
	return context.WithoutCancel(parent), conn, err
}
