package vrfmgr

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/newtron-network/orchcore/pkg/orch"
	"github.com/newtron-network/orchcore/pkg/store"
)

var errAddFailed = errors.New("add failed")

type fakeAdapter struct {
	added   map[string]uint32
	removed map[string]bool
	failAdd bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{added: make(map[string]uint32), removed: make(map[string]bool)}
}

func (f *fakeAdapter) AddVLANDevice(string, int, string) error        { return nil }
func (f *fakeAdapter) RemoveVLANDevice(string) error                  { return nil }
func (f *fakeAdapter) SetBridgeVLANFilter(string, int, bool, bool) error { return nil }
func (f *fakeAdapter) SetBridgeVLANFiltering(string, bool) error      { return nil }
func (f *fakeAdapter) SetLinkUp(string) error                         { return nil }
func (f *fakeAdapter) SetLinkDown(string) error                       { return nil }
func (f *fakeAdapter) SetLinkMTU(string, int) error                   { return nil }
func (f *fakeAdapter) SetLinkAddress(string, string) error            { return nil }
func (f *fakeAdapter) SetLinkMaster(string, string) error             { return nil }
func (f *fakeAdapter) SetLinkNoMaster(string) error                   { return nil }
func (f *fakeAdapter) AddAddress(string, string) error                { return nil }
func (f *fakeAdapter) DelAddress(string, string) error                { return nil }

func (f *fakeAdapter) AddVRFDevice(name string, tableID uint32) error {
	if f.failAdd {
		return errAddFailed
	}
	f.added[name] = tableID
	return nil
}

func (f *fakeAdapter) RemoveVRFDevice(name string) error {
	f.removed[name] = true
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeAdapter, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	cfg := store.NewGateway(mr.Addr(), store.Config)
	state := store.NewGateway(mr.Addr(), store.State)
	adapter := newFakeAdapter()
	return New(cfg, state, adapter), adapter, mr.Close
}

func TestCreateVRFPublishesStateOK(t *testing.T) {
	m, adapter, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	outcome := m.apply(ctx, "Vrf1", store.OpSet, map[string]string{})
	if outcome != orch.Done {
		t.Fatalf("expected Done, got %v", outcome)
	}
	if _, ok := adapter.added["Vrf1"]; !ok {
		t.Fatalf("expected kernel VRF device created for Vrf1")
	}

	fields, err := m.state.Get(ctx, StateTable, "Vrf1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fields["state"] != "ok" {
		t.Fatalf("expected state=ok, got %+v", fields)
	}
}

func TestCreateVRFAllocatesDistinctTableIDs(t *testing.T) {
	m, adapter, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	m.apply(ctx, "Vrf1", store.OpSet, map[string]string{})
	m.apply(ctx, "Vrf2", store.OpSet, map[string]string{})

	if adapter.added["Vrf1"] == adapter.added["Vrf2"] {
		t.Fatalf("expected distinct table ids, got %d and %d", adapter.added["Vrf1"], adapter.added["Vrf2"])
	}
}

func TestCreateVRFIsIdempotent(t *testing.T) {
	m, adapter, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	m.apply(ctx, "Vrf1", store.OpSet, map[string]string{})
	firstID := adapter.added["Vrf1"]
	m.apply(ctx, "Vrf1", store.OpSet, map[string]string{"l3vni": "100100"})

	if adapter.added["Vrf1"] != firstID {
		t.Fatalf("expected table id to stay %d across an update, got %d", firstID, adapter.added["Vrf1"])
	}
	fields, _ := m.state.Get(ctx, StateTable, "Vrf1")
	if fields["l3vni"] != "100100" {
		t.Fatalf("expected l3vni field propagated on update, got %+v", fields)
	}
}

func TestDeleteVRFRemovesKernelDeviceAndState(t *testing.T) {
	m, adapter, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	m.apply(ctx, "Vrf1", store.OpSet, map[string]string{})
	outcome := m.apply(ctx, "Vrf1", store.OpDel, nil)
	if outcome != orch.Done {
		t.Fatalf("expected Done, got %v", outcome)
	}
	if !adapter.removed["Vrf1"] {
		t.Fatalf("expected kernel VRF device removed")
	}
	if ok, _ := m.state.Exists(ctx, StateTable, "Vrf1"); ok {
		t.Fatalf("expected VRF_TABLE entry removed")
	}
	if _, ok := m.TableID("Vrf1"); ok {
		t.Fatalf("expected table id allocation released after delete")
	}
}
