package intfmgr

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/newtron-network/orchcore/pkg/orch"
	"github.com/newtron-network/orchcore/pkg/store"
)

type fakeKernel struct {
	master   map[string]string
	noMaster map[string]bool
	addrs    map[string]bool
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{master: make(map[string]string), noMaster: make(map[string]bool), addrs: make(map[string]bool)}
}

func (f *fakeKernel) AddVLANDevice(string, int, string) error          { return nil }
func (f *fakeKernel) RemoveVLANDevice(string) error                    { return nil }
func (f *fakeKernel) SetBridgeVLANFilter(string, int, bool, bool) error { return nil }
func (f *fakeKernel) SetBridgeVLANFiltering(string, bool) error        { return nil }
func (f *fakeKernel) SetLinkUp(string) error                           { return nil }
func (f *fakeKernel) SetLinkDown(string) error                         { return nil }
func (f *fakeKernel) SetLinkMTU(string, int) error                     { return nil }
func (f *fakeKernel) SetLinkAddress(string, string) error              { return nil }
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
func (f *fakeKernel) AddAddress(name, cidr string) error {
	f.addrs[name+"|"+cidr] = true
	return nil
}
func (f *fakeKernel) DelAddress(name, cidr string) error {
	delete(f.addrs, name+"|"+cidr)
	return nil
}
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

// TestAddressWaitsForInterfaceStateOK covers the "binding applied only once
// both the interface and its VRF are state-ok" invariant.
func TestAddressWaitsForInterfaceStateOK(t *testing.T) {
	m, k, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	m.state.Set(ctx, "PORT_TABLE", "Ethernet3", map[string]string{"state": "ok"})

	outcome := m.apply(ctx, "Ethernet3|10.0.0.0/31", store.OpSet, nil)
	if outcome != orch.RetryLater {
		t.Fatalf("expected RetryLater before Ethernet3 attrs are applied, got %v", outcome)
	}
	if k.addrs["Ethernet3|10.0.0.0/31"] {
		t.Fatalf("address must not be programmed before interface is state-ok")
	}

	if outcome := m.apply(ctx, "Ethernet3", store.OpSet, map[string]string{}); outcome != orch.Done {
		t.Fatalf("expected interface attrs to apply, got %v", outcome)
	}
	outcome = m.apply(ctx, "Ethernet3|10.0.0.0/31", store.OpSet, nil)
	if outcome != orch.Done {
		t.Fatalf("expected address apply to succeed once interface is state-ok, got %v", outcome)
	}
	if !k.addrs["Ethernet3|10.0.0.0/31"] {
		t.Fatalf("expected address programmed in the kernel")
	}
}

// TestVRFBindingWaitsForVRFStateOK covers the VRF precondition on the
// general-attrs key shape.
func TestVRFBindingWaitsForVRFStateOK(t *testing.T) {
	m, k, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	m.state.Set(ctx, "PORT_TABLE", "Ethernet3", map[string]string{"state": "ok"})

	outcome := m.apply(ctx, "Ethernet3", store.OpSet, map[string]string{"vrf_name": "Vrf1"})
	if outcome != orch.RetryLater {
		t.Fatalf("expected RetryLater before Vrf1 is state-ok, got %v", outcome)
	}
	if _, ok := k.master["Ethernet3"]; ok {
		t.Fatalf("interface must not be enslaved to a VRF that isn't state-ok")
	}

	m.state.Set(ctx, StateTableVRF, "Vrf1", map[string]string{"state": "ok"})
	outcome = m.apply(ctx, "Ethernet3", store.OpSet, map[string]string{"vrf_name": "Vrf1"})
	if outcome != orch.Done {
		t.Fatalf("expected VRF bind to succeed once Vrf1 is state-ok, got %v", outcome)
	}
	if k.master["Ethernet3"] != "Vrf1" {
		t.Fatalf("expected Ethernet3 enslaved to Vrf1, got %q", k.master["Ethernet3"])
	}
}

func TestInterfaceFamilyDetection(t *testing.T) {
	m, _, closeFn := newTestManager(t)
	defer closeFn()
	ctx := context.Background()

	m.state.Set(ctx, "PORT_TABLE", "Ethernet3", map[string]string{"state": "ok"})
	m.apply(ctx, "Ethernet3", store.OpSet, map[string]string{})
	m.apply(ctx, "Ethernet3|2001:db8::1/64", store.OpSet, nil)

	fields, err := m.state.Get(ctx, StateTableIntf, "Ethernet3|2001:db8::1/64")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fields["family"] != "IPv6" {
		t.Fatalf("expected IPv6 family detected, got %q", fields["family"])
	}
}
