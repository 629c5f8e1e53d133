package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pharmacy-density/internal/store"
)

// initStore opens and migrates the configured store. It returns nil when
// store.driver is "none".
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if st == nil {
		return nil, nil
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// requireStore is initStore for commands that cannot run without one.
func requireStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("no store configured (set store.driver to sqlite or postgres)")
	}
	return st, nil
}
