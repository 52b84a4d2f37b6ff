package teammgr

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/newtron-network/orchcore/pkg/orch"
	"github.com/newtron-network/orchcore/pkg/store"
)

type fakeKernel struct {
	mtu      map[string]int
	up       map[string]bool
	master   map[string]string
	noMaster map[string]bool
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{mtu: make(map[string]int), up: make(map[string]bool), master: make(map[string]string), noMaster: make(map[string]bool)}
}

func (f *fakeKernel) AddVLANDevice(name string, vlanID int, parentBridge string) error { return nil }
func (f *fakeKernel) RemoveVLANDevice(string) error                                    { return nil }
func (f *fakeKernel) SetBridgeVLANFilter(string, int, bool, bool) error                { return nil }
func (f *fakeKernel) SetBridgeVLANFiltering(string, bool) error                        { return nil }
func (f *fakeKernel) SetLinkUp(name string) error {
	f.up[name] = true
	return nil
}
func (f *fakeKernel) SetLinkDown(name string) error {
	f.up[name] = false
	return nil
}
func (f *fakeKernel) SetLinkMTU(name string, mtu int) error {
	f.mtu[name] = mtu
	return nil
}
func (f *fakeKernel) SetLinkAddress(string, string) error { return nil }
func (f *fakeKernel) SetLinkMaster(name, master string) error {
	f.master[name] = master
	delete(f.noMaster, name)
	return nil
}
func (f *fakeKernel) SetLinkNoMaster(name string) error {
	delete(f.master, name)
	f.noMaster[name] = true
	return nil
}
func (f *fakeKernel) AddAddress(string, string) error   { return nil }
func (f *fakeKernel) DelAddress(string, string) error   { return nil }
func (f *fakeKernel) AddVRFDevice(string, uint32) error { return nil }
func (f *fakeKernel) RemoveVRFDevice(string) error      { return nil }

func newTestManager(t *testing.T) (*Manager, *fakeKernel, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	cfg := store.NewGateway(mr.Addr(), store.Config)
	state := store.NewGateway(mr.Addr(), store.State)
	k := newFakeKernel()
	return New(cfg, state, k), k, mr.Close
}

// TestMemberMTUInheritance covers scenario 6: a LAG created at MTU 9100 with
// a member whose port-config MTU is 1500 runs the member at 9100 once
// enslaved, and restores 1500 on removal.
func TestMemberMTUInheritance(t *testing.T) {
	m, k, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	m.RecordPortConfig("Ethernet3", "up", 1500)
	m.state.Set(ctx, StatePort, "Ethernet3", map[string]string{"state": "ok"})

	if outcome := m.applyLAG(ctx, "PortChannel7", store.OpSet, map[string]string{"mtu": "9100"}); outcome != orch.Done {
		t.Fatalf("expected LAG create to succeed, got %v", outcome)
	}
	if outcome := m.applyMember(ctx, "PortChannel7|Ethernet3", store.OpSet, nil); outcome != orch.Done {
		t.Fatalf("expected member add to succeed, got %v", outcome)
	}
	if k.mtu["Ethernet3"] != 9100 {
		t.Fatalf("expected member MTU inherited from LAG: got %d, want 9100", k.mtu["Ethernet3"])
	}

	if outcome := m.applyMember(ctx, "PortChannel7|Ethernet3", store.OpDel, nil); outcome != orch.Done {
		t.Fatalf("expected member remove to succeed, got %v", outcome)
	}
	if k.mtu["Ethernet3"] != 1500 {
		t.Fatalf("expected member MTU restored to port-config value: got %d, want 1500", k.mtu["Ethernet3"])
	}
}

// TestMemberWaitsForPortStateOK covers the Port "state-ok" precondition: a
// member add retries until the port appears in PORT_TABLE, then
// OnPortStateOK re-drives it without a new CFG write.
func TestMemberWaitsForPortStateOK(t *testing.T) {
	m, k, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	m.applyLAG(ctx, "PortChannel7", store.OpSet, map[string]string{})

	outcome := m.applyMember(ctx, "PortChannel7|Ethernet3", store.OpSet, nil)
	if outcome != orch.RetryLater {
		t.Fatalf("expected RetryLater before port is state-ok, got %v", outcome)
	}
	if _, ok := k.master["Ethernet3"]; ok {
		t.Fatalf("port must not be enslaved before it's state-ok")
	}

	m.state.Set(ctx, StatePort, "Ethernet3", map[string]string{"state": "ok"})
	if outcome := m.OnPortStateOK("Ethernet3"); outcome != orch.Done {
		t.Fatalf("expected OnPortStateOK re-enslave to succeed, got %v", outcome)
	}
	if k.master["Ethernet3"] != "PortChannel7" {
		t.Fatalf("expected Ethernet3 enslaved to PortChannel7 after OnPortStateOK, got %q", k.master["Ethernet3"])
	}
}

// TestLAGDeleteRequiresNoMembers covers the "LAG del requires no members"
// invariant.
func TestLAGDeleteRequiresNoMembers(t *testing.T) {
	m, _, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	m.applyLAG(ctx, "PortChannel7", store.OpSet, map[string]string{})
	m.state.Set(ctx, StatePort, "Ethernet3", map[string]string{"state": "ok"})
	m.applyMember(ctx, "PortChannel7|Ethernet3", store.OpSet, nil)

	outcome := m.applyLAG(ctx, "PortChannel7", store.OpDel, nil)
	if outcome != orch.RetryLater {
		t.Fatalf("expected RetryLater deleting a LAG with members present, got %v", outcome)
	}

	m.applyMember(ctx, "PortChannel7|Ethernet3", store.OpDel, nil)
	outcome = m.applyLAG(ctx, "PortChannel7", store.OpDel, nil)
	if outcome != orch.Done {
		t.Fatalf("expected LAG delete to succeed once members are gone, got %v", outcome)
	}
}
