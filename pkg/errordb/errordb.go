// Package errordb captures driver-layer failures keyed by object-type+key
// with {operation, rc}, and lets applications subscribe to per-table error
// channels. Grounded on
// original_source/orchagent/errororch.cpp's ErrorOrch (updateErrorDb,
// sendNotification, flushErrorDb), generalized from its per-object-type
// SAI-table map into a table-name-keyed one so any component can register.
package errordb

import (
	"context"
	"fmt"

	"github.com/newtron-network/orchcore/pkg/store"
	"github.com/newtron-network/orchcore/pkg/util"
)

// FlushChannel is the notification channel clients publish to when asking
// the Error DB to clear entries, per errororch.cpp's "FLUSH_ERROR_DB"
// consumer.
const FlushChannel = "FLUSH_ERROR_DB"

// errorTablePrefix mirrors getErrorTableName's "ERROR_" prefix convention.
const errorTablePrefix = "ERROR_"

// Entry is one failed operation recorded against a key.
type Entry struct {
	Operation string
	RC        string
}

// DB owns the ERROR_<table> rows for every table name registered against
// it, and the per-table notification channels applications subscribe to for
// live updates. One DB instance serves every owning table in a daemon.
type DB struct {
	gateway  *store.Gateway
	channels map[string]bool
}

// New creates a DB that stores rows in gateway (a State-namespace Gateway
// dedicated to error tracking, mirroring errororch.cpp's separate errorDb
// connector).
func New(gateway *store.Gateway) *DB {
	return &DB{gateway: gateway, channels: make(map[string]bool)}
}

// Register opens the ERROR_<table> notification channel for table, so
// Record/Clear calls against it publish to subscribers. Safe to call more
// than once for the same table.
func (d *DB) Register(table string) {
	d.channels[table] = true
}

func errorTableName(table string) string {
	return errorTablePrefix + table
}

func channelName(table string) string {
	return errorTableName(table) + "_CHANNEL"
}

// Record upserts (or clears, on success) the error row for table/key,
// mirroring updateErrorDb's remove-on-success / create-or-update-on-failure
// logic: a successful operation with an existing row removes it; a failed
// create/set upserts; a failed remove upserts only if no row already exists
// (meaning the failure is the remove's own, not a leftover from an earlier
// create failure).
func (d *DB) Record(ctx context.Context, table, key string, entry Entry, success bool) error {
	errTable := errorTableName(table)
	existing, err := d.gateway.Exists(ctx, errTable, key)
	if err != nil {
		return fmt.Errorf("errordb: checking existing entry %s/%s: %w", errTable, key, err)
	}

	switch {
	case success:
		if !existing {
			return nil
		}
		if err := d.gateway.Del(ctx, errTable, key); err != nil {
			return fmt.Errorf("errordb: clearing %s/%s: %w", errTable, key, err)
		}
		util.Logger.WithField("table", table).WithField("key", key).Info("errordb: cleared entry")
		return nil
	case entry.Operation == "remove" && existing:
		if err := d.gateway.Del(ctx, errTable, key); err != nil {
			return fmt.Errorf("errordb: clearing %s/%s: %w", errTable, key, err)
		}
		return nil
	default:
		fields := map[string]string{"operation": entry.Operation, "rc": entry.RC}
		if err := d.gateway.Set(ctx, errTable, key, fields); err != nil {
			return fmt.Errorf("errordb: recording %s/%s: %w", errTable, key, err)
		}
		util.Logger.WithField("table", table).WithField("key", key).WithField("rc", entry.RC).
			Warn("errordb: recorded driver failure")
		if d.channels[table] {
			if err := d.gateway.Notify(ctx, channelName(table), "oper_"+table, key, fields); err != nil {
				util.Logger.WithField("table", table).WithField("error", err).
					Warn("errordb: failed publishing error notification")
			}
		}
		return nil
	}
}

// Get reads the current error row for table/key, if any.
func (d *DB) Get(ctx context.Context, table, key string) (Entry, bool, error) {
	errTable := errorTableName(table)
	fields, err := d.gateway.Get(ctx, errTable, key)
	if err != nil {
		return Entry{}, false, fmt.Errorf("errordb: get %s/%s: %w", errTable, key, err)
	}
	if fields == nil {
		return Entry{}, false, nil
	}
	return Entry{Operation: fields["operation"], RC: fields["rc"]}, true, nil
}

// Flush clears error rows. op is "ALL" (every registered table) or "TABLE"
// (data names one table), mirroring flushErrorDb's dispatch on the incoming
// FLUSH_ERROR_DB notification's op/data pair.
func (d *DB) Flush(ctx context.Context, op, data string) error {
	for table := range d.channels {
		if op != "ALL" && table != data {
			continue
		}
		errTable := errorTableName(table)
		keys, err := d.gateway.Keys(ctx, errTable)
		if err != nil {
			return fmt.Errorf("errordb: listing %s for flush: %w", errTable, err)
		}
		for _, k := range keys {
			if err := d.gateway.Del(ctx, errTable, k); err != nil {
				return fmt.Errorf("errordb: flushing %s/%s: %w", errTable, k, err)
			}
		}
	}
	return nil
}

// ConsumeFlushRequests listens on FlushChannel and calls Flush for every
// request received, until ctx is cancelled.
func (d *DB) ConsumeFlushRequests(ctx context.Context) error {
	notifications, err := d.gateway.ConsumeNotification(ctx, FlushChannel)
	if err != nil {
		return fmt.Errorf("errordb: subscribing %s: %w", FlushChannel, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			if n.Op != "ALL" && n.Op != "TABLE" {
				util.Logger.WithField("op", n.Op).Warn("errordb: ignoring unknown flush request")
				continue
			}
			if err := d.Flush(ctx, n.Op, n.Data); err != nil {
				util.Logger.WithField("error", err).Warn("errordb: flush request failed")
			}
		}
	}
}
