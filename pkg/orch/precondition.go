package orch

import (
	"context"

	"github.com/newtron-network/orchcore/pkg/store"
)

// StateOK implements the precondition rule shared by every manager that
// waits on another manager's output: a dependency is usable once a
// presence check against a well-known STATE table keyed by the
// dependent's alias succeeds.
func StateOK(ctx context.Context, gateway *store.Gateway, table, key string) bool {
	ok, err := gateway.Exists(ctx, table, key)
	return err == nil && ok
}
