package errordb

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/newtron-network/orchcore/pkg/store"
)

func newTestDB(t *testing.T) (*DB, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	gw := store.NewGateway(mr.Addr(), store.State)
	db := New(gw)
	db.Register("ROUTE_TABLE")
	return db, mr.Close
}

func TestRecordFailureThenClearOnSuccess(t *testing.T) {
	db, closeFn := newTestDB(t)
	defer closeFn()
	ctx := context.Background()

	if err := db.Record(ctx, "ROUTE_TABLE", "10.0.0.0/24", Entry{Operation: "create", RC: "SAI_STATUS_FAILURE"}, false); err != nil {
		t.Fatalf("Record failure: %v", err)
	}
	entry, ok, err := db.Get(ctx, "ROUTE_TABLE", "10.0.0.0/24")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || entry.RC != "SAI_STATUS_FAILURE" {
		t.Fatalf("expected failure entry recorded, got %+v ok=%v", entry, ok)
	}

	if err := db.Record(ctx, "ROUTE_TABLE", "10.0.0.0/24", Entry{Operation: "create", RC: "SAI_STATUS_SUCCESS"}, true); err != nil {
		t.Fatalf("Record success: %v", err)
	}
	_, ok, err = db.Get(ctx, "ROUTE_TABLE", "10.0.0.0/24")
	if err != nil {
		t.Fatalf("Get after clear: %v", err)
	}
	if ok {
		t.Fatalf("expected entry cleared after a successful operation")
	}
}

func TestRemoveFailureWithNoPriorEntryIsRecorded(t *testing.T) {
	db, closeFn := newTestDB(t)
	defer closeFn()
	ctx := context.Background()

	if err := db.Record(ctx, "ROUTE_TABLE", "10.0.1.0/24", Entry{Operation: "remove", RC: "SAI_STATUS_FAILURE"}, false); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_, ok, err := db.Get(ctx, "ROUTE_TABLE", "10.0.1.0/24")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("a remove failure with no prior entry must still be recorded as a new failure")
	}
}

func TestFlushAllClearsRegisteredTables(t *testing.T) {
	db, closeFn := newTestDB(t)
	defer closeFn()
	ctx := context.Background()

	db.Record(ctx, "ROUTE_TABLE", "10.0.2.0/24", Entry{Operation: "create", RC: "SAI_STATUS_FAILURE"}, false)
	if err := db.Flush(ctx, "ALL", ""); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	_, ok, _ := db.Get(ctx, "ROUTE_TABLE", "10.0.2.0/24")
	if ok {
		t.Fatalf("expected entry cleared by ALL flush")
	}
}
