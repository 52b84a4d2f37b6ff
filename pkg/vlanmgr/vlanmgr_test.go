package vlanmgr

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/newtron-network/orchcore/pkg/orch"
	"github.com/newtron-network/orchcore/pkg/store"
)

type fakeKernel struct {
	vlanDevices map[string]bool
	filters     map[string]bool // port|vlanID -> tagged
	noMaster    map[string]bool
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{
		vlanDevices: make(map[string]bool),
		filters:     make(map[string]bool),
		noMaster:    make(map[string]bool),
	}
}

func (f *fakeKernel) AddVLANDevice(name string, vlanID int, parentBridge string) error {
	f.vlanDevices[name] = true
	return nil
}
func (f *fakeKernel) RemoveVLANDevice(name string) error {
	delete(f.vlanDevices, name)
	return nil
}
func (f *fakeKernel) SetBridgeVLANFilter(port string, vlanID int, tagged bool, add bool) error {
	key := port
	if add {
		f.filters[key] = tagged
	} else {
		delete(f.filters, key)
	}
	return nil
}
func (f *fakeKernel) SetBridgeVLANFiltering(string, bool) error { return nil }
func (f *fakeKernel) SetLinkUp(string) error                    { return nil }
func (f *fakeKernel) SetLinkDown(string) error                  { return nil }
func (f *fakeKernel) SetLinkMTU(string, int) error              { return nil }
func (f *fakeKernel) SetLinkAddress(string, string) error       { return nil }
func (f *fakeKernel) SetLinkMaster(string, string) error        { return nil }
func (f *fakeKernel) SetLinkNoMaster(port string) error {
	f.noMaster[port] = true
	return nil
}
func (f *fakeKernel) AddAddress(string, string) error     { return nil }
func (f *fakeKernel) DelAddress(string, string) error     { return nil }
func (f *fakeKernel) AddVRFDevice(string, uint32) error   { return nil }
func (f *fakeKernel) RemoveVRFDevice(string) error        { return nil }

func newTestManager(t *testing.T) (*Manager, *fakeKernel, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	cfg := store.NewGateway(mr.Addr(), store.Config)
	state := store.NewGateway(mr.Addr(), store.State)
	k := newFakeKernel()
	return New(cfg, state, k, "Bridge"), k, mr.Close
}

// TestVLANMemberPreconditionRetry covers scenario 5: SET Vlan100|Ethernet3
// before Vlan100 exists retries; once Vlan100 is created, the member applies.
func TestVLANMemberPreconditionRetry(t *testing.T) {
	m, _, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	// Port must be state-ok independently; seed it directly.
	if err := m.state.Set(ctx, StateTablePort, "Ethernet3", map[string]string{"state": "ok"}); err != nil {
		t.Fatalf("seeding port state: %v", err)
	}

	outcome := m.applyMember(ctx, "Vlan100|Ethernet3", store.OpSet, map[string]string{"tagging_mode": TaggingUntagged})
	if outcome != orch.RetryLater {
		t.Fatalf("expected RetryLater before Vlan100 exists, got %v", outcome)
	}

	if outcome := m.applyVLAN(ctx, "Vlan100", store.OpSet, map[string]string{"mtu": "1500"}); outcome != orch.Done {
		t.Fatalf("expected VLAN create to succeed, got %v", outcome)
	}

	outcome = m.applyMember(ctx, "Vlan100|Ethernet3", store.OpSet, map[string]string{"tagging_mode": TaggingUntagged})
	if outcome != orch.Done {
		t.Fatalf("expected member apply to succeed once Vlan100 is state-ok, got %v", outcome)
	}
	fields, err := m.state.Get(ctx, StateTableVLAN, "Vlan100")
	if err != nil || fields["state"] != "ok" {
		t.Fatalf("expected Vlan100 state=ok, got %+v, err=%v", fields, err)
	}
}

// TestVLANMemberRoundTrip covers P9: adding then removing a member leaves
// the kernel bridge filter set unchanged from before.
func TestVLANMemberRoundTrip(t *testing.T) {
	m, k, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	m.state.Set(ctx, StateTablePort, "Ethernet3", map[string]string{"state": "ok"})
	m.applyVLAN(ctx, "Vlan100", store.OpSet, map[string]string{})

	before := len(k.filters)
	outcome := m.applyMember(ctx, "Vlan100|Ethernet3", store.OpSet, map[string]string{"tagging_mode": TaggingUntagged})
	if outcome != orch.Done {
		t.Fatalf("expected member add to succeed, got %v", outcome)
	}
	if len(k.filters) != before+1 {
		t.Fatalf("expected a bridge filter to be installed")
	}

	outcome = m.applyMember(ctx, "Vlan100|Ethernet3", store.OpDel, nil)
	if outcome != orch.Done {
		t.Fatalf("expected member remove to succeed, got %v", outcome)
	}
	if len(k.filters) != before {
		t.Fatalf("expected bridge filter set to return to its prior state: got %d filters, want %d", len(k.filters), before)
	}
	if !k.noMaster["Ethernet3"] {
		t.Fatalf("expected port detached from bridge once it left every VLAN")
	}
}

// TestVLANMemberInvalidTaggingModeIsFatal covers the "unknown tagging mode
// is a fatal per-item error" rule: no retry, the key is simply dropped.
func TestVLANMemberInvalidTaggingModeIsFatal(t *testing.T) {
	m, _, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	m.state.Set(ctx, StateTablePort, "Ethernet3", map[string]string{"state": "ok"})
	m.applyVLAN(ctx, "Vlan100", store.OpSet, map[string]string{})

	outcome := m.applyMember(ctx, "Vlan100|Ethernet3", store.OpSet, map[string]string{"tagging_mode": "bogus"})
	if outcome != orch.Error {
		t.Fatalf("expected Error for unknown tagging_mode, got %v", outcome)
	}
}

// TestVLANDeleteRejectsMalformedKey covers the malformed-key rejection path.
func TestVLANRejectsMalformedKey(t *testing.T) {
	m, _, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	outcome := m.applyVLAN(ctx, "NotAVlan", store.OpSet, map[string]string{})
	if outcome != orch.Error {
		t.Fatalf("expected Error for malformed vlan key, got %v", outcome)
	}
}

// TestInlineMembersSynthesisesUntaggedMembers covers the "members@" inline
// list synthesising untagged VLAN_MEMBER SETs.
func TestInlineMembersSynthesisesUntaggedMembers(t *testing.T) {
	m, k, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	m.state.Set(ctx, StateTablePort, "Ethernet3", map[string]string{"state": "ok"})
	m.state.Set(ctx, StateTablePort, "Ethernet4", map[string]string{"state": "ok"})

	outcome := m.applyVLAN(ctx, "Vlan100", store.OpSet, map[string]string{"members@": "Ethernet3,Ethernet4"})
	if outcome != orch.Done {
		t.Fatalf("expected Done, got %v", outcome)
	}
	if tagged, ok := k.filters["Ethernet3"]; !ok || tagged {
		t.Fatalf("expected Ethernet3 bridged untagged, got present=%v tagged=%v", ok, tagged)
	}
	if tagged, ok := k.filters["Ethernet4"]; !ok || tagged {
		t.Fatalf("expected Ethernet4 bridged untagged, got present=%v tagged=%v", ok, tagged)
	}
}
