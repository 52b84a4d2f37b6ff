// Package fgnhgorch implements the Fine-Grained Next-Hop-Group engine: it
// turns a route bound to an FG_NHG into a fixed-size hash-bucket table
// with consistent, minimal-churn bucket reassignment across membership
// changes. Grounded on original_source/orchagent/fgnhgorch.cpp — the bank
// partitioning (computeAndSetHashBucketChange), the pairing-deletions-with
// -additions rewrite rule (ifChangeInNextHops), bank fail-over
// (findNhgIntAuxNh / FailoverToActive / FailoverToDonor analogues), and the
// doTaskFgNhg/doTaskFgNhgPrefix/doTaskFgNhgMember config-table handlers. The
// bank/bucket algorithm itself lives in banks.go so it can be unit-tested in
// isolation from the store/adapter wiring.
package fgnhgorch

import (
	"context"
	"strconv"

	"github.com/newtron-network/orchcore/pkg/asic"
	"github.com/newtron-network/orchcore/pkg/model"
	"github.com/newtron-network/orchcore/pkg/orch"
	"github.com/newtron-network/orchcore/pkg/store"
	"github.com/newtron-network/orchcore/pkg/util"
	"github.com/newtron-network/orchcore/pkg/warmrestart"
)

const (
	TableFgNhg       = "FG_NHG"
	TableFgNhgPrefix = "FG_NHG_PREFIX"
	TableFgNhgMember = "FG_NHG_MEMBER"

	// BucketStateTable persists the per-(prefix,bucket) next-hop assignment
	// so a warm-restarted process can recover without reprogramming the
	// driver.
	BucketStateTable = "FG_ROUTE_TABLE"
)

// Orch owns FG_NHG/FG_NHG_PREFIX/FG_NHG_MEMBER CFG state, the driver
// fine-grain groups it creates from them, and the neighbor/link signals that
// drive bucket reassignment.
type Orch struct {
	cfg     *store.Gateway
	state   *store.Gateway
	adapter asic.Adapter
	warm    *warmrestart.Coordinator

	groups map[string]*model.FgNhg            // FG_NHG name -> group
	routes map[string]*model.FGRoute          // prefix -> route
	nhIDs  map[string]string                  // NextHopKey.String() -> driver id (cache over adapter.CreateNextHop)
	resolved map[string]bool                  // NextHopKey.String() -> neighbor resolved
	memberOwner map[string]string             // NextHopKey.String() -> owning FG_NHG name, for member DEL without a group hint
}

// New creates an Orch.
func New(cfg, state *store.Gateway, adapter asic.Adapter, warm *warmrestart.Coordinator) *Orch {
	return &Orch{
		cfg: cfg, state: state, adapter: adapter, warm: warm,
		groups:      make(map[string]*model.FgNhg),
		routes:      make(map[string]*model.FGRoute),
		nhIDs:       make(map[string]string),
		resolved:    make(map[string]bool),
		memberOwner: make(map[string]string),
	}
}

// GroupEngine returns the orch.Engine for the FG_NHG table.
func (o *Orch) GroupEngine() *orch.Engine {
	return orch.NewEngine("fgnhgorch.FG_NHG", TableFgNhg, o.cfg, o.applyGroup)
}

// PrefixEngine returns the orch.Engine for the FG_NHG_PREFIX table.
func (o *Orch) PrefixEngine() *orch.Engine {
	return orch.NewEngine("fgnhgorch.FG_NHG_PREFIX", TableFgNhgPrefix, o.cfg, o.applyPrefix)
}

// MemberEngine returns the orch.Engine for the FG_NHG_MEMBER table.
func (o *Orch) MemberEngine() *orch.Engine {
	return orch.NewEngine("fgnhgorch.FG_NHG_MEMBER", TableFgNhgMember, o.cfg, o.applyMember)
}

func (o *Orch) nhID(nh string) (string, error) {
	if id, ok := o.nhIDs[nh]; ok {
		return id, nil
	}
	id, err := o.adapter.CreateNextHop(nh)
	if err != nil {
		return "", err
	}
	o.nhIDs[nh] = id
	return id, nil
}

// applyGroup handles CFG FG_NHG|<name>.
func (o *Orch) applyGroup(ctx context.Context, key string, op store.Op, fields map[string]string) orch.Outcome {
	if op == store.OpDel {
		g, ok := o.groups[key]
		if !ok {
			return orch.Done
		}
		if len(g.Prefixes) > 0 || len(g.Members) > 0 {
			util.Logger.WithField("fg_nhg", key).Info("fgnhgorch: child prefix/member entries still bound, deferring delete")
			return orch.RetryLater
		}
		delete(o.groups, key)
		return orch.Done
	}

	if _, exists := o.groups[key]; exists {
		util.Logger.WithField("fg_nhg", key).Warn("fgnhgorch: FG_NHG already exists, ignoring")
		return orch.Done
	}

	bucketSize, err := strconv.Atoi(fields["bucket_size"])
	if err != nil || bucketSize == 0 {
		util.Logger.WithField("fg_nhg", key).Warn("fgnhgorch: received bucket_size of 0 or unparseable, rejecting")
		return orch.Error
	}
	o.groups[key] = model.NewFgNhg(key, bucketSize)
	return orch.Done
}

// applyMember handles CFG FG_NHG_MEMBER|<next-hop-ip>.
func (o *Orch) applyMember(ctx context.Context, key string, op store.Op, fields map[string]string) orch.Outcome {
	if op == store.OpDel {
		return o.removeMember(key)
	}

	name := fields["FG_NHG"]
	if name == "" {
		util.Logger.WithField("key", key).Warn("fgnhgorch: FG_NHG_MEMBER with empty FG_NHG name, rejecting")
		return orch.Error
	}
	g, ok := o.groups[name]
	if !ok {
		return orch.RetryLater
	}
	if _, exists := g.Members[key]; exists {
		return orch.Done
	}

	bank, _ := strconv.Atoi(fields["bank"])
	link := fields["link"]
	linkOper := "up" // default: no link bound means always considered up
	if link != "" {
		linkOper = "down"
	}
	g.Members[key] = model.FgNhgMember{NextHop: model.NextHopKey{IP: key}, Bank: bank, Link: link, LinkOperState: linkOper}
	o.memberOwner[key] = name
	o.recomputeBankRanges(g)
	return o.resyncGroupRoutes(g)
}

func (o *Orch) removeMember(key string) orch.Outcome {
	name, ok := o.memberOwner[key]
	if !ok {
		return orch.Done
	}
	g := o.groups[name]
	if g == nil {
		delete(o.memberOwner, key)
		return orch.Done
	}
	delete(g.Members, key)
	delete(o.memberOwner, key)
	delete(o.resolved, key)
	o.recomputeBankRanges(g)
	return o.resyncGroupRoutes(g)
}

// applyPrefix handles CFG FG_NHG_PREFIX|<prefix>.
func (o *Orch) applyPrefix(ctx context.Context, key string, op store.Op, fields map[string]string) orch.Outcome {
	if op == store.OpDel {
		route, ok := o.routes[key]
		if !ok {
			return orch.Done
		}
		if g := o.groups[route.GroupName]; g != nil {
			if err := o.adapter.RemoveFineGrainNhg(route.DriverGroupID); err != nil {
				return orch.RetryLater
			}
			delete(g.Prefixes, key)
		}
		delete(o.routes, key)
		_ = o.state.Del(ctx, BucketStateTable, key)
		return orch.Done
	}

	name := fields["FG_NHG"]
	g, ok := o.groups[name]
	if !ok {
		return orch.RetryLater
	}
	if _, exists := o.routes[key]; exists {
		return orch.Done
	}

	route, outcome := o.createRoute(ctx, key, g)
	if outcome != orch.Done {
		return outcome
	}
	g.Prefixes[key] = true
	o.routes[key] = route
	return orch.Done
}

// recomputeBankRanges re-derives every group's bank-range partition
// () from its current membership counts. Bank ranges shift only when
// membership crosses a bank boundary's proportional share; in the common
// case of a same-size swap the ranges are unchanged.
func (o *Orch) recomputeBankRanges(g *model.FgNhg) {
	maxBank := -1
	for _, m := range g.Members {
		if m.Bank > maxBank {
			maxBank = m.Bank
		}
	}
	if maxBank < 0 {
		g.BankRanges = nil
		return
	}
	sizes := make([]int, maxBank+1)
	for _, m := range g.Members {
		sizes[m.Bank]++
	}
	bktSize := g.RealBktSize
	if bktSize == 0 {
		bktSize = g.ConfiguredBktSize
	}
	g.BankRanges = computeBankRanges(bktSize, sizes)
}

// createRoute implements  (create path) and, when the warm-restart
// coordinator is still replaying,  (recovery from persisted rows).
func (o *Orch) createRoute(ctx context.Context, prefix string, g *model.FgNhg) (*model.FGRoute, orch.Outcome) {
	groupID, realSize, err := o.adapter.CreateFineGrainNhg(g.ConfiguredBktSize)
	if err != nil {
		return nil, orch.RetryLater
	}
	g.RealBktSize = realSize
	o.recomputeBankRanges(g)

	route := model.NewFGRoute(prefix, g.Name, realSize)
	route.DriverGroupID = groupID

	persisted := o.loadPersistedBuckets(ctx, prefix)

	var writes []bucketWrite
	for b, rng := range g.BankRanges {
		members := sortedKeys(membersOf(g.MembersInBank(b)))
		if len(members) == 0 {
			continue
		}
		for i := rng.Start; i < rng.End; i++ {
			nh := members[(i-rng.Start)%len(members)]
			if persistedNh, ok := persisted[i]; ok {
				nh = persistedNh
				if persistedBank := bankOf(g, persistedNh); persistedBank != b && persistedBank >= 0 {
					route.InactiveToActive[b] = persistedBank
				}
			}
			writes = append(writes, bucketWrite{bucket: i, nh: nh})
			addToSyncdMap(route, b, nh, i)
		}
		route.BankActive[b] = true
	}

	if err := o.applyWrites(route, groupID, writes, o.nhID); err != nil {
		return nil, orch.RetryLater
	}
	return route, orch.Done
}

func membersOf(members []model.FgNhgMember) map[string]bool {
	out := make(map[string]bool, len(members))
	for _, m := range members {
		out[m.NextHop.String()] = true
	}
	return out
}

func bankOf(g *model.FgNhg, nh string) int {
	if m, ok := g.Members[nh]; ok {
		return m.Bank
	}
	return -1
}

func (o *Orch) persistBucket(prefix string, bucket int, nh string) {
	if o.state == nil {
		return
	}
	_ = o.state.Set(context.Background(), BucketStateTable, prefix, map[string]string{
		strconv.Itoa(bucket): nh,
	})
}

func (o *Orch) loadPersistedBuckets(ctx context.Context, prefix string) map[int]string {
	out := make(map[int]string)
	if o.state == nil || o.warm == nil || !o.warm.IsReplaying(BucketStateTable, prefix) {
		return out
	}
	fields, err := o.state.Get(ctx, BucketStateTable, prefix)
	if err != nil {
		return out
	}
	for k, v := range fields {
		if b, err := strconv.Atoi(k); err == nil {
			out[b] = v
		}
	}
	return out
}

// resyncGroupRoutes re-runs bank classification () for every
// route bound to g, after a membership change.
func (o *Orch) resyncGroupRoutes(g *model.FgNhg) orch.Outcome {
	outcome := orch.Done
	for prefix := range g.Prefixes {
		route, ok := o.routes[prefix]
		if !ok {
			continue
		}
		if err := o.syncRoute(route, g); err != nil {
			outcome = orch.RetryLater
		}
	}
	return outcome
}

// syncRoute re-evaluates every bank of g against route's previously-synced
// state and issues whatever bucket writes  call for.
func (o *Orch) syncRoute(route *model.FGRoute, g *model.FgNhg) error {
	liveByBank := make(map[int]map[string]bool, len(g.BankRanges))
	for b := range g.BankRanges {
		live := make(map[string]bool)
		for _, m := range g.MembersInBank(b) {
			if m.IsLive() && o.resolved[m.NextHop.String()] {
				live[m.NextHop.String()] = true
			}
		}
		liveByBank[b] = live
	}

	var firstErr error
	for b, rng := range g.BankRanges {
		prevSet := make(map[string]bool)
		for nh := range route.SyncdFgnhgMap[b] {
			prevSet[nh] = true
		}
		newSet := liveByBank[b]

		toAdd := diff(newSet, prevSet)
		toDel := diff(prevSet, newSet)
		activeNhs := intersect(prevSet, newSet)

		wasActive := route.BankActive[b]
		staysActive := len(activeNhs) > 0 || (len(toAdd) > 0 && len(toDel) > 0)

		var err error
		switch {
		case !wasActive && len(toAdd) > 0:
			err = o.failoverToActive(route, b, rng, newSet, o.nhID)
			route.BankActive[b] = true
		case wasActive && staysActive:
			err = o.rewriteActiveBank(route, b, rng, newSet, toAdd, toDel, o.nhID)
		case wasActive && len(newSet) == 0:
			err = o.failoverToDonor(route, b, rng, liveByBank, o.nhID)
			route.BankActive[b] = false
		case !wasActive && len(toAdd) == 0:
			err = o.failoverToDonor(route, b, rng, liveByBank, o.nhID)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func diff(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if !b[k] {
			out[k] = true
		}
	}
	return out
}

func intersect(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

// OnNeighborResolve implements the resolve half of : a next-hop
// becomes usable, so every group referencing it resyncs.
func (o *Orch) OnNeighborResolve(nh string) orch.Outcome {
	o.resolved[nh] = true
	return o.resyncOwner(nh)
}

// OnNeighborUnresolve implements the unresolve half of .
func (o *Orch) OnNeighborUnresolve(nh string) orch.Outcome {
	delete(o.resolved, nh)
	return o.resyncOwner(nh)
}

// OnLinkOperChange implements the port oper up/down half of : every
// member bound to link has its link_oper_state flipped and its owning
// group's routes resynced.
func (o *Orch) OnLinkOperChange(link string, up bool) orch.Outcome {
	state := "down"
	if up {
		state = "up"
	}
	outcome := orch.Done
	for _, g := range o.groups {
		changed := false
		for nh, m := range g.Members {
			if m.Link == link && m.LinkOperState != state {
				m.LinkOperState = state
				g.Members[nh] = m
				changed = true
			}
		}
		if changed {
			if o.resyncGroupRoutes(g) != orch.Done {
				outcome = orch.RetryLater
			}
		}
	}
	return outcome
}

func (o *Orch) resyncOwner(nh string) orch.Outcome {
	name, ok := o.memberOwner[nh]
	if !ok {
		return orch.Done
	}
	g := o.groups[name]
	if g == nil {
		return orch.Done
	}
	return o.resyncGroupRoutes(g)
}
