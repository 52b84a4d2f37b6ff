package fgnhgorch

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/newtron-network/orchcore/pkg/asic"
	"github.com/newtron-network/orchcore/pkg/store"
)

func newTestGateways(t *testing.T) (*store.Gateway, *store.Gateway, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	cfg := store.NewGateway(mr.Addr(), store.Config)
	state := store.NewGateway(mr.Addr(), store.State)
	return cfg, state, mr.Close
}

func TestGroupCreateRejectsZeroBucketSize(t *testing.T) {
	cfg, state, closeFn := newTestGateways(t)
	defer closeFn()

	o := New(cfg, state, asic.NewVirtualSwitch(0, 0), nil)
	ctx := context.Background()

	outcome := o.applyGroup(ctx, "fg1", store.OpSet, map[string]string{"bucket_size": "0"})
	if outcome != 2 { // orch.Error
		t.Fatalf("expected Error outcome for zero bucket_size, got %v", outcome)
	}
	if _, ok := o.groups["fg1"]; ok {
		t.Fatalf("group must not be registered on rejected create")
	}
}

func TestMemberWaitsForGroup(t *testing.T) {
	cfg, state, closeFn := newTestGateways(t)
	defer closeFn()

	o := New(cfg, state, asic.NewVirtualSwitch(0, 0), nil)
	ctx := context.Background()

	outcome := o.applyMember(ctx, "10.0.0.1", store.OpSet, map[string]string{"FG_NHG": "fg1", "bank": "0"})
	if outcome != 1 { // orch.RetryLater
		t.Fatalf("expected RetryLater when FG_NHG not yet configured, got %v", outcome)
	}
}

func TestCreateRouteDistributesBucketsRoundRobin(t *testing.T) {
	cfg, state, closeFn := newTestGateways(t)
	defer closeFn()

	o := New(cfg, state, asic.NewVirtualSwitch(0, 0), nil)
	ctx := context.Background()

	o.applyGroup(ctx, "fg1", store.OpSet, map[string]string{"bucket_size": "120"})
	o.applyMember(ctx, "10.0.0.1", store.OpSet, map[string]string{"FG_NHG": "fg1", "bank": "0"})
	o.applyMember(ctx, "10.0.0.2", store.OpSet, map[string]string{"FG_NHG": "fg1", "bank": "0"})
	o.OnNeighborResolve("10.0.0.1")
	o.OnNeighborResolve("10.0.0.2")

	outcome := o.applyPrefix(ctx, "10.1.0.0/24", store.OpSet, map[string]string{"FG_NHG": "fg1"})
	if outcome != 0 { // orch.Done
		t.Fatalf("expected Done creating FG route, got %v", outcome)
	}

	route, ok := o.routes["10.1.0.0/24"]
	if !ok {
		t.Fatalf("expected route to be registered")
	}
	if len(route.BucketMemberIDs) != 120 {
		t.Fatalf("expected 120 buckets, got %d", len(route.BucketMemberIDs))
	}
	for i, id := range route.BucketMemberIDs {
		if id == "" {
			t.Fatalf("bucket %d was never assigned a driver member id", i)
		}
	}
}

func TestMembershipChangeRebalancesWithinFairShare(t *testing.T) {
	cfg, state, closeFn := newTestGateways(t)
	defer closeFn()

	o := New(cfg, state, asic.NewVirtualSwitch(0, 0), nil)
	ctx := context.Background()

	o.applyGroup(ctx, "fg1", store.OpSet, map[string]string{"bucket_size": "100"})
	o.applyMember(ctx, "10.0.0.1", store.OpSet, map[string]string{"FG_NHG": "fg1", "bank": "0"})
	o.applyMember(ctx, "10.0.0.2", store.OpSet, map[string]string{"FG_NHG": "fg1", "bank": "0"})
	o.OnNeighborResolve("10.0.0.1")
	o.OnNeighborResolve("10.0.0.2")
	o.applyPrefix(ctx, "10.2.0.0/24", store.OpSet, map[string]string{"FG_NHG": "fg1"})

	route := o.routes["10.2.0.0/24"]
	if got := len(route.SyncdFgnhgMap[0]["10.0.0.1"]) + len(route.SyncdFgnhgMap[0]["10.0.0.2"]); got != 100 {
		t.Fatalf("expected all 100 buckets assigned across both live members, got %d", got)
	}

	// Add a third live member; every member's share must land within one
	// bucket of the 100/3 fair-share target (I1/I2 hold exactly; fair-share
	// rounding means base or base+1).
	o.applyMember(ctx, "10.0.0.3", store.OpSet, map[string]string{"FG_NHG": "fg1", "bank": "0"})
	o.OnNeighborResolve("10.0.0.3")

	base, extra := fairShare(100, 3)
	for _, nh := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		n := len(route.SyncdFgnhgMap[0][nh])
		if n != base && n != base+1 {
			t.Errorf("member %s holds %d buckets, want %d or %d", nh, n, base, base+1)
		}
	}
	_ = extra

	total := 0
	for _, nh := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		total += len(route.SyncdFgnhgMap[0][nh])
	}
	if total != 100 {
		t.Fatalf("bucket assignment must still cover the full bank range: got %d, want 100", total)
	}
}

func TestLinkDownRemovesMemberFromLiveSet(t *testing.T) {
	cfg, state, closeFn := newTestGateways(t)
	defer closeFn()

	o := New(cfg, state, asic.NewVirtualSwitch(0, 0), nil)
	ctx := context.Background()

	o.applyGroup(ctx, "fg1", store.OpSet, map[string]string{"bucket_size": "60"})
	o.applyMember(ctx, "10.0.0.1", store.OpSet, map[string]string{"FG_NHG": "fg1", "bank": "0", "link": "Ethernet0"})
	o.applyMember(ctx, "10.0.0.2", store.OpSet, map[string]string{"FG_NHG": "fg1", "bank": "0", "link": "Ethernet4"})
	o.OnNeighborResolve("10.0.0.1")
	o.OnNeighborResolve("10.0.0.2")
	o.OnLinkOperChange("Ethernet0", true)
	o.OnLinkOperChange("Ethernet4", true)
	o.applyPrefix(ctx, "10.3.0.0/24", store.OpSet, map[string]string{"FG_NHG": "fg1"})

	route := o.routes["10.3.0.0/24"]
	if len(route.SyncdFgnhgMap[0]["10.0.0.1"]) == 0 {
		t.Fatalf("expected member 1 to hold buckets while up")
	}

	o.OnLinkOperChange("Ethernet0", false)

	if len(route.SyncdFgnhgMap[0]["10.0.0.1"]) != 0 {
		t.Fatalf("expected member 1's buckets to be reassigned after its link went down")
	}
	if len(route.SyncdFgnhgMap[0]["10.0.0.2"]) != 60 {
		t.Fatalf("expected sole remaining live member to hold the full bank range, got %d", len(route.SyncdFgnhgMap[0]["10.0.0.2"]))
	}
}
