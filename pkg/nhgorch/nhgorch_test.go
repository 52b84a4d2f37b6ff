package nhgorch

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/newtron-network/orchcore/pkg/asic"
	"github.com/newtron-network/orchcore/pkg/model"
	"github.com/newtron-network/orchcore/pkg/orch"
	"github.com/newtron-network/orchcore/pkg/store"
)

func newTestGateway(t *testing.T) (*store.Gateway, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	return store.NewGateway(mr.Addr(), store.App), mr.Close
}

func fields(nexthop, ifname, weight string) map[string]string {
	return map[string]string{"nexthop": nexthop, "ifname": ifname, "weight": weight, "mpls_nh": ""}
}

// TestTemporaryPromotion covers the capacity-exhaustion path: with
// MAX_ECMP_GROUPS=1 and one existing group, a second multi-member group over
// capacity gets a temporary single-member alias; freeing the first group lets
// the second promote to a real multi-member group on the next apply.
func TestTemporaryPromotion(t *testing.T) {
	app, closeFn := newTestGateway(t)
	defer closeFn()

	adapter := asic.NewVirtualSwitch(0, 1)
	o := New(app, adapter, 1)
	ctx := context.Background()

	if outcome := o.apply(ctx, "nhg0", store.OpSet, fields("10.0.0.1,10.0.0.2", "Ethernet0,Ethernet4", "1,1")); outcome != orch.Done {
		t.Fatalf("expected first group to sync, got %v", outcome)
	}
	if n := o.groupCount(); n != 1 {
		t.Fatalf("expected 1 syncd group, got %d", n)
	}

	o.ValidateNextHop(model.NextHopKey{IP: "10.0.1.1"})
	o.ValidateNextHop(model.NextHopKey{IP: "10.0.1.2"})
	outcome := o.apply(ctx, "nhg1", store.OpSet, fields("10.0.1.1,10.0.1.2", "Ethernet8,Ethernet12", "1,1"))
	if outcome != orch.RetryLater {
		t.Fatalf("expected RetryLater (temp group) when capacity exhausted, got %v", outcome)
	}
	g1, ok := o.groups["nhg1"]
	if !ok {
		t.Fatalf("expected a temporary group to be registered")
	}
	if !g1.Temp {
		t.Fatalf("expected temporary group flag set")
	}
	g1.RefCount = 1

	// Free the first group.
	if outcome := o.apply(ctx, "nhg0", store.OpDel, nil); outcome != orch.Done {
		t.Fatalf("expected first group delete to succeed, got %v", outcome)
	}

	// Re-drive the pending temp group: capacity is now available so it
	// should promote to a real multi-member group, keeping the same index
	// but a new driver id.
	prevID := g1.DriverID
	outcome = o.apply(ctx, "nhg1", store.OpSet, fields("10.0.1.1,10.0.1.2", "Ethernet8,Ethernet12", "1,1"))
	if outcome != orch.Done {
		t.Fatalf("expected promotion to succeed once capacity frees up, got %v", outcome)
	}
	g1 = o.groups["nhg1"]
	if g1.Temp {
		t.Fatalf("expected group to no longer be temporary after promotion")
	}
	if g1.DriverID == prevID {
		t.Fatalf("expected promotion to assign a new driver id")
	}
	if g1.RefCount != 1 {
		t.Fatalf("ref count must survive promotion")
	}
}

// TestUpdateRejectedWhileReferenced covers the reference-count safety rule:
// an update that would change a non-temporary, referenced multi-member
// group's driver id (by going to/from single-member) is rejected;
// member-set changes that keep multi-member-ness preserve the id.
func TestUpdateRejectedWhileReferenced(t *testing.T) {
	app, closeFn := newTestGateway(t)
	defer closeFn()

	o := New(app, asic.NewVirtualSwitch(0, 0), 1)
	ctx := context.Background()

	o.apply(ctx, "nhg0", store.OpSet, fields("10.0.0.1,10.0.0.2", "Ethernet0,Ethernet4", "1,1"))
	if _, err := o.AddRef("nhg0"); err != nil {
		t.Fatalf("AddRef: %v", err)
	}
	driverID := o.groups["nhg0"].DriverID

	// Shrinking to a single member would change the driver id while
	// referenced: must be rejected.
	outcome := o.apply(ctx, "nhg0", store.OpSet, fields("10.0.0.1", "Ethernet0", "1"))
	if outcome != orch.Error {
		t.Fatalf("expected id-changing update to be rejected while referenced, got %v", outcome)
	}
	if o.groups["nhg0"].DriverID != driverID {
		t.Fatalf("driver id must be unchanged after a rejected update")
	}

	// Adding a third member keeps multi-member-ness: id must be preserved.
	outcome = o.apply(ctx, "nhg0", store.OpSet, fields("10.0.0.1,10.0.0.2,10.0.0.3", "Ethernet0,Ethernet4,Ethernet8", "1,1,1"))
	if outcome != orch.Done {
		t.Fatalf("expected member-add update to succeed, got %v", outcome)
	}
	if o.groups["nhg0"].DriverID != driverID {
		t.Fatalf("driver id must be preserved across a multi-member-preserving update")
	}
}

// TestUpdateWeightOnlyChangeReachesDriver covers a pure weight change on an
// otherwise-unchanged membership: NextHopGroupKey.String()/Contains() never
// encode weight, so update() must compare weights explicitly instead of
// treating this as a no-op, and must push the new weight to the driver
// rather than silently dropping it.
func TestUpdateWeightOnlyChangeReachesDriver(t *testing.T) {
	app, closeFn := newTestGateway(t)
	defer closeFn()

	adapter := asic.NewVirtualSwitch(0, 0)
	o := New(app, adapter, 1)
	ctx := context.Background()

	if outcome := o.apply(ctx, "nhg0", store.OpSet, fields("10.0.0.1,10.0.0.2", "Ethernet0,Ethernet4", "1,1")); outcome != orch.Done {
		t.Fatalf("expected initial group to sync, got %v", outcome)
	}
	g := o.groups["nhg0"]
	driverID := g.DriverID

	outcome := o.apply(ctx, "nhg0", store.OpSet, fields("10.0.0.1,10.0.0.2", "Ethernet0,Ethernet4", "4,1"))
	if outcome != orch.Done {
		t.Fatalf("expected weight-only update to succeed, got %v", outcome)
	}
	if o.groups["nhg0"].DriverID != driverID {
		t.Fatalf("driver id must be preserved across a weight-only update")
	}
	w, ok := o.groups["nhg0"].Key.MemberWeight(model.NextHopKey{IP: "10.0.0.1", Alias: "Ethernet0"})
	if !ok || w != 4 {
		t.Fatalf("in-memory key must reflect the new weight: got (%d, %v)", w, ok)
	}

	members, err := adapter.GroupMembers(driverID)
	if err != nil {
		t.Fatalf("GroupMembers: %v", err)
	}
	id1, err := o.nhID(model.NextHopKey{IP: "10.0.0.1", Alias: "Ethernet0"})
	if err != nil {
		t.Fatalf("nhID: %v", err)
	}
	found := false
	for _, m := range members {
		if m.NextHopID == id1 {
			found = true
			if m.Weight != 4 {
				t.Fatalf("expected driver to see updated weight 4, got %d", m.Weight)
			}
		}
	}
	if !found {
		t.Fatalf("expected member %q still present in driver group after reweight", id1)
	}

	// Applying the exact same key again must be a true no-op.
	if outcome := o.apply(ctx, "nhg0", store.OpSet, fields("10.0.0.1,10.0.0.2", "Ethernet0,Ethernet4", "4,1")); outcome != orch.Done {
		t.Fatalf("expected unchanged re-apply to be a no-op Done, got %v", outcome)
	}
}
