// Package nhgorch implements the Next-Hop Group orchestrator: it turns
// a resolved next-hop-group key into a driver object, promoting to a
// temporary single-member alias when the driver's ECMP-group table is full
// and keeping the user-intent key pending until the real group can be
// synced. Grounded on original_source/orchagent/nhgorch.cpp (NhgOrch::doTask,
// createTempNhg, validateNextHop/invalidateNextHop) and nexthopkey.h for the
// key parsing NhgOrch shares with fgnhgorch.
package nhgorch

import (
	"context"
	"math/rand"
	"strconv"
	"strings"

	"github.com/newtron-network/orchcore/pkg/asic"
	"github.com/newtron-network/orchcore/pkg/model"
	"github.com/newtron-network/orchcore/pkg/orch"
	"github.com/newtron-network/orchcore/pkg/orcherr"
	"github.com/newtron-network/orchcore/pkg/store"
	"github.com/newtron-network/orchcore/pkg/util"
)

// Table is the APP table NhgOrch consumes: one row per next-hop-group index,
// written by route-sync when a route resolves to more than one next-hop.
// Fields mirror original_source/orchagent/nhgorch.cpp's doTask field
// extraction exactly (nexthop/ifname/weight/mpls_nh, comma-joined per
// member, aligned by position).
const Table = "NEXTHOP_GROUP_TABLE"

// DefaultMaxECMPGroupSize is the Mellanox-platform ECMP-group-size divisor
// applied to a raw MAX_ECMP_GROUPS switch attribute
// (DEFAULT_MAX_ECMP_GROUP_SIZE in the original source).
const DefaultMaxECMPGroupSize = 32

// Orch owns every syncd next-hop group: it creates/updates/removes the
// driver object backing each NextHopGroupKey and answers capacity-aware
// create/validate/invalidate requests from collaborators (route-sync,
// fgnhgorch's neighbor-driven callers).
type Orch struct {
	app     *store.Gateway
	adapter asic.Adapter

	maxGroups int

	groups map[string]*model.Nhg // index -> group
	nhIDs  map[string]string     // NextHopKey.String() -> driver id
	resolved map[string]bool     // NextHopKey.String() -> neighbor resolved

	rng *rand.Rand
}

// New creates an Orch, querying the driver's ECMP capacity once at
// construction (the original's constructor-time SAI_SWITCH_ATTR_NUMBER_OF_
// ECMP_GROUPS query, divided by the platform's default group size the same
// way Mellanox platforms require).
func New(app *store.Gateway, adapter asic.Adapter, seed int64) *Orch {
	max, err := adapter.MaxECMPGroups()
	if err != nil || max <= 0 {
		max = 1 << 16
	}
	o := &Orch{
		app:      app,
		adapter:  adapter,
		maxGroups: max,
		groups:   make(map[string]*model.Nhg),
		nhIDs:    make(map[string]string),
		resolved: make(map[string]bool),
		rng:      rand.New(rand.NewSource(seed)),
	}
	util.Logger.WithField("max_ecmp_groups", max).Info("nhgorch: initialized capacity")
	return o
}

// Engine returns the orch.Engine for the NEXTHOP_GROUP_TABLE.
func (o *Orch) Engine() *orch.Engine {
	return orch.NewEngine("nhgorch.NEXTHOP_GROUP_TABLE", Table, o.app, o.apply)
}

func (o *Orch) nhID(nh model.NextHopKey) (string, error) {
	s := nh.String()
	if id, ok := o.nhIDs[s]; ok {
		return id, nil
	}
	id, err := o.adapter.CreateNextHop(s)
	if err != nil {
		return "", err
	}
	o.nhIDs[s] = id
	return id, nil
}

// groupCount is the number of currently syncd non-temporary multi-member
// groups, the quantity capacity is checked against (temporary groups and
// single-member aliases never occupy a SAI group slot).
func (o *Orch) groupCount() int {
	n := 0
	for _, g := range o.groups {
		if !g.Temp && !g.Key.IsSingleMember() {
			n++
		}
	}
	return n
}

func (o *Orch) apply(ctx context.Context, key string, op store.Op, fields map[string]string) orch.Outcome {
	if op == store.OpDel {
		return o.remove(key)
	}

	nhgKey, err := parseGroupFields(fields)
	if err != nil {
		util.Logger.WithField("key", key).WithField("error", err).Warn("nhgorch: rejecting malformed next-hop group")
		return orch.Error
	}

	existing, ok := o.groups[key]
	if !ok {
		return o.create(key, nhgKey)
	}
	return o.update(existing, nhgKey)
}

func parseGroupFields(fields map[string]string) (model.NextHopGroupKey, error) {
	ips := strings.Split(fields["nexthop"], ",")
	aliases := strings.Split(fields["ifname"], ",")
	weights := strings.Split(fields["weight"], ",")
	mplsNHs := strings.Split(fields["mpls_nh"], ",")

	members := make([]model.NextHopGroupMember, 0, len(ips))
	for i, ip := range ips {
		nh := model.NextHopKey{IP: ip}
		if i < len(aliases) {
			nh.Alias = aliases[i]
		}
		if i < len(mplsNHs) && mplsNHs[i] != "" && mplsNHs[i] != "na" {
			for _, l := range strings.Split(mplsNHs[i], "/") {
				v, err := strconv.ParseUint(l, 10, 32)
				if err != nil {
					return model.NextHopGroupKey{}, err
				}
				nh.LabelStack = append(nh.LabelStack, uint32(v))
			}
			nh.OutsegType = model.OutsegPush
		}
		weight := 0
		if i < len(weights) && weights[i] != "" {
			if w, err := strconv.Atoi(weights[i]); err == nil {
				weight = w
			}
		}
		members = append(members, model.NextHopGroupMember{NextHop: nh, Weight: weight})
	}
	return model.NewNextHopGroupKey(members), nil
}

// create implements 's create path: a multi-member group creates a
// driver object; a single-member group is a direct alias; and a multi-member
// group over capacity gets a temporary single-member alias instead, with the
// index left pending so the real group is retried on the next wake.
func (o *Orch) create(key string, nhgKey model.NextHopGroupKey) orch.Outcome {
	if nhgKey.IsSingleMember() {
		id, err := o.nhID(nhgKey.Members[0].NextHop)
		if err != nil {
			return orch.RetryLater
		}
		o.groups[key] = &model.Nhg{Key: nhgKey, DriverID: id}
		return orch.Done
	}

	if o.groupCount() >= o.maxGroups {
		util.Logger.WithField("key", key).Warn("nhgorch: next-hop group count reached its limit, creating temporary group")
		g, outcome := o.createTemp(nhgKey)
		if outcome != orch.Done {
			return orch.RetryLater
		}
		o.groups[key] = g
		// Left pending: the caller's Engine keeps retrying until capacity
		// frees up and the full group can be promoted.
		return orch.RetryLater
	}

	id, err := o.syncMultiGroup(nhgKey)
	if err != nil {
		return orch.RetryLater
	}
	o.groups[key] = &model.Nhg{Key: nhgKey, DriverID: id}
	return orch.Done
}

// createTemp picks one resolved member uniformly at random and aliases a
// temporary group to it.
func (o *Orch) createTemp(nhgKey model.NextHopGroupKey) (*model.Nhg, orch.Outcome) {
	var resolved []model.NextHopKey
	for _, m := range nhgKey.Members {
		if o.resolved[m.NextHop.String()] {
			resolved = append(resolved, m.NextHop)
		}
	}
	if len(resolved) == 0 {
		// No resolved member yet to alias to; nothing to do until one
		// resolves.
		return nil, orch.RetryLater
	}
	pick := resolved[o.rng.Intn(len(resolved))]
	id, err := o.nhID(pick)
	if err != nil {
		return nil, orch.RetryLater
	}
	return &model.Nhg{Key: nhgKey, DriverID: id, Temp: true, TempNextHop: pick}, orch.Done
}

func (o *Orch) syncMultiGroup(nhgKey model.NextHopGroupKey) (string, error) {
	members := make([]asic.NhgMember, 0, len(nhgKey.Members))
	for _, m := range nhgKey.Members {
		id, err := o.nhID(m.NextHop)
		if err != nil {
			return "", err
		}
		members = append(members, asic.NhgMember{NextHopID: id, Weight: m.Weight})
	}
	return o.adapter.CreateNextHopGroup(members)
}

// update rejects an id-changing update while the group is referenced and
// not temporary; promotes a temporary group when capacity allows;
// otherwise removes dropped members first, then applies weights, then
// adds new members, preserving the driver id throughout.
func (o *Orch) update(g *model.Nhg, newKey model.NextHopGroupKey) orch.Outcome {
	if g.Key.Equal(newKey) {
		return orch.Done
	}

	sizeChangingSingleMember := g.Key.IsSingleMember() || newKey.IsSingleMember()
	if !g.Temp && sizeChangingSingleMember && g.RefCount > 0 {
		util.Logger.WithField("group", g.Key.String()).
			Warn("nhgorch: update would change driver id while referenced, rejecting")
		return orch.Error
	}

	if g.Temp && !newKey.IsSingleMember() {
		if o.groupCount() >= o.maxGroups {
			if !newKey.Contains(g.TempNextHop) {
				if replacement, outcome := o.createTemp(newKey); outcome == orch.Done {
					g.DriverID = replacement.DriverID
					g.TempNextHop = replacement.TempNextHop
				}
			}
			g.Key = newKey
			return orch.RetryLater
		}
		// Temporary groups hold no standalone SAI group object (they alias
		// a next-hop's own driver id directly), so promoting one only needs
		// creating the real group — nothing to release first.
		id, err := o.syncMultiGroup(newKey)
		if err != nil {
			return orch.RetryLater
		}
		g.DriverID = id
		g.Key = newKey
		g.Temp = false
		g.TempNextHop = model.NextHopKey{}
		return orch.Done
	}

	add, remove := diffMembers(g.Key, newKey)
	reweight := reweightedMembers(g.Key, newKey)
	removeMembers := make([]asic.NhgMember, 0, len(remove))
	for _, m := range remove {
		id, err := o.nhID(m.NextHop)
		if err != nil {
			return orch.RetryLater
		}
		removeMembers = append(removeMembers, asic.NhgMember{NextHopID: id, Weight: m.Weight})
	}
	if len(removeMembers) > 0 {
		if err := o.adapter.UpdateNextHopGroup(g.DriverID, nil, removeMembers); err != nil {
			return orch.RetryLater
		}
	}

	for _, m := range reweight {
		id, err := o.nhID(m.NextHop)
		if err != nil {
			return orch.RetryLater
		}
		if err := o.adapter.UpdateNextHopGroupMemberWeight(g.DriverID, asic.NhgMember{NextHopID: id, Weight: m.Weight}); err != nil {
			return orch.RetryLater
		}
	}

	addMembers := make([]asic.NhgMember, 0, len(add))
	for _, m := range add {
		id, err := o.nhID(m.NextHop)
		if err != nil {
			return orch.RetryLater
		}
		addMembers = append(addMembers, asic.NhgMember{NextHopID: id, Weight: m.Weight})
	}
	if len(addMembers) > 0 {
		if err := o.adapter.UpdateNextHopGroup(g.DriverID, addMembers, nil); err != nil {
			return orch.RetryLater
		}
	}

	g.Key = newKey
	return orch.Done
}

// diffMembers returns the members present in b but not a (add) and present
// in a but not b (remove), by next-hop identity.
func diffMembers(a, b model.NextHopGroupKey) (add, remove []model.NextHopGroupMember) {
	for _, m := range b.Members {
		if !a.Contains(m.NextHop) {
			add = append(add, m)
		}
	}
	for _, m := range a.Members {
		if !b.Contains(m.NextHop) {
			remove = append(remove, m)
		}
	}
	return add, remove
}

// reweightedMembers returns b's members that are present in both a and b (by
// next-hop identity) but whose weight differs, so update() can issue an
// in-place weight update instead of silently dropping the change (a itself
// never joins weight into .String()/.Contains()).
func reweightedMembers(a, b model.NextHopGroupKey) (changed []model.NextHopGroupMember) {
	for _, m := range b.Members {
		oldWeight, ok := a.MemberWeight(m.NextHop)
		if ok && oldWeight != m.Weight {
			changed = append(changed, m)
		}
	}
	return changed
}

func (o *Orch) remove(key string) orch.Outcome {
	g, ok := o.groups[key]
	if !ok {
		return orch.Done
	}
	if g.RefCount > 0 {
		util.Logger.WithField("group", key).Warn("nhgorch: refusing to remove referenced group")
		return orch.RetryLater
	}
	if !g.Key.IsSingleMember() && !g.Temp {
		if err := o.adapter.RemoveNextHopGroup(g.DriverID); err != nil {
			return orch.RetryLater
		}
	}
	delete(o.groups, key)
	return orch.Done
}

// AddRef increments key's reference count, returning its current driver id.
// Collaborators (route-sync) call this when they start depending on a
// group's driver id remaining stable.
func (o *Orch) AddRef(key string) (string, error) {
	g, ok := o.groups[key]
	if !ok {
		return "", orcherr.NewDependencyError(key, "next-hop group", key)
	}
	g.RefCount++
	return g.DriverID, nil
}

// RemoveRef decrements key's reference count.
func (o *Orch) RemoveRef(key string) {
	if g, ok := o.groups[key]; ok && g.RefCount > 0 {
		g.RefCount--
	}
}

// DriverID returns key's current driver id, for a collaborator that needs to
// re-read it after a temporary-group promotion, since the driver id then
// becomes that of the newly created group.
func (o *Orch) DriverID(key string) (string, bool) {
	g, ok := o.groups[key]
	if !ok {
		return "", false
	}
	return g.DriverID, true
}

// ValidateNextHop implements 's resolve-driven sync: every group
// containing nh gets its membership re-synced against the driver. Early
// exit on the first unrecoverable failure, per the original's
// validateNextHop loop.
func (o *Orch) ValidateNextHop(nh model.NextHopKey) error {
	o.resolved[nh.String()] = true
	for _, g := range o.groups {
		if !g.Key.Contains(nh) {
			continue
		}
		if _, err := o.nhID(nh); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateNextHop implements 's unresolve-driven sync: nh is removed
// from every containing group's driver membership.
func (o *Orch) InvalidateNextHop(nh model.NextHopKey) error {
	delete(o.resolved, nh.String())
	for key, g := range o.groups {
		if !g.Key.Contains(nh) {
			continue
		}
		if g.Temp && g.TempNextHop.String() == nh.String() {
			// The temporary alias itself went down: nothing else to alias
			// to until another member resolves or the key is reapplied.
			continue
		}
		if g.Key.IsSingleMember() || g.Temp {
			continue
		}
		id, err := o.nhID(nh)
		if err != nil {
			return err
		}
		if err := o.adapter.UpdateNextHopGroup(g.DriverID, nil, []asic.NhgMember{{NextHopID: id}}); err != nil {
			util.Logger.WithField("group", key).WithField("nh", nh.String()).
				WithField("error", err).Warn("nhgorch: failed invalidating next-hop, stopping early")
			return err
		}
	}
	return nil
}
