// Package routesync is the Route Sync / FPM listener: it merges kernel
// RTM_{NEW,DEL}ROUTE events with the routing daemon's FPM stream into the
// APP store's ROUTE_TABLE/LABEL_ROUTE_TABLE/VNET_ROUTE_TABLE/
// VNET_TUNNEL_ROUTE_TABLE/SRV6_MY_SID_TABLE tables, grounded on
// original_source/fpmsyncd/routesync.h (RouteSync::onRouteMsg/onMsgRaw) and
// original_source/warmrestart/warm_restart.h's reconcile-then-switch
// sequencing. Unlike the table-driven managers, its unit of work is an event
// stream rather than a store subscription, so it runs its own select loop
// instead of registering orch.Engines.
package routesync

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/newtron-network/orchcore/pkg/netlinkbridge"
	"github.com/newtron-network/orchcore/pkg/store"
	"github.com/newtron-network/orchcore/pkg/util"
	"github.com/newtron-network/orchcore/pkg/warmrestart"
)

// Well-known APP tables this component owns, per the switch's ambient table
// contract.
const (
	RouteTable       = "ROUTE_TABLE"
	LabelRouteTable  = "LABEL_ROUTE_TABLE"
	VnetRouteTable   = "VNET_ROUTE_TABLE"
	VnetTunnelTable  = "VNET_ROUTE_TUNNEL_TABLE"
	Srv6MySidTable   = "SRV6_MY_SID_TABLE"
)

// fpmWriter is the subset of netlinkbridge.FpmWriter routesync needs — an
// interface so tests can assert on what gets sent back without a real
// socket.
type fpmWriter interface {
	WriteFrame(typ byte, payload []byte) error
}

// Syncer owns the merge of kernel and FPM route sources into the app store.
// It holds the last raw FPM payload per prefix so a later offload
// acknowledgement can re-encode and echo it verbatim, per routesync.h's
// sendOffloadReply.
type Syncer struct {
	app    *store.Gateway
	warm   *warmrestart.Coordinator
	writer fpmWriter

	rawByPrefix map[string][]byte
}

// New creates a Syncer. writer may be nil if no FPM offload echo is wired
// (e.g. in a unit test or when only kernel routes are consumed).
func New(app *store.Gateway, warm *warmrestart.Coordinator, writer fpmWriter) *Syncer {
	return &Syncer{
		app:         app,
		warm:        warm,
		writer:      writer,
		rawByPrefix: make(map[string][]byte),
	}
}

// Start begins warm-restart reconciliation: it snapshots ROUTE_TABLE's
// current keys as the replay set, then marks every one of them "offloaded"
// so the routing daemon recognises them across the restart, switching to
// normal processing once the warm-restart coordinator declares reconcile
// complete.
func (s *Syncer) Start(ctx context.Context) error {
	if !s.warm.Enabled() {
		return nil
	}
	if err := s.warm.SnapshotReplaySet(ctx, RouteTable); err != nil {
		return err
	}
	keys, err := s.app.Keys(ctx, RouteTable)
	if err != nil {
		return fmt.Errorf("routesync: listing %s for warm-restart mark: %w", RouteTable, err)
	}
	for _, k := range keys {
		if err := s.markOffloaded(ctx, k); err != nil {
			util.Logger.WithField("prefix", k).WithField("error", err).
				Warn("routesync: failed marking route offloaded during warm restart")
		}
	}
	return nil
}

// Run consumes route and FPM events until ctx is cancelled or either channel
// closes.
func (s *Syncer) Run(ctx context.Context, kernelRoutes <-chan netlinkbridge.RouteEvent, fpmFrames <-chan netlinkbridge.FpmFrame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-kernelRoutes:
			if !ok {
				kernelRoutes = nil
				if fpmFrames == nil {
					return nil
				}
				continue
			}
			s.applyRoute(ctx, ev, nil)
		case frame, ok := <-fpmFrames:
			if !ok {
				fpmFrames = nil
				if kernelRoutes == nil {
					return nil
				}
				continue
			}
			s.applyFrame(ctx, frame)
		}
	}
}

func (s *Syncer) applyFrame(ctx context.Context, frame netlinkbridge.FpmFrame) {
	ev, err := netlinkbridge.DecodeRouteMessage(frame.Payload, nil)
	if err != nil {
		util.Logger.WithField("error", err).Debug("routesync: dropping undecodable fpm frame")
		return
	}
	s.applyRoute(ctx, ev, frame.Payload)
}

func (s *Syncer) applyRoute(ctx context.Context, ev netlinkbridge.RouteEvent, raw []byte) {
	if ev.Prefix == "" {
		return
	}
	table := classify(ev)
	if raw != nil {
		s.rawByPrefix[ev.Prefix] = raw
	}

	if ev.Deleted {
		if err := s.app.Del(ctx, table, ev.Prefix); err != nil {
			util.Logger.WithField("prefix", ev.Prefix).WithField("error", err).
				Warn("routesync: failed deleting route")
			return
		}
		delete(s.rawByPrefix, ev.Prefix)
		s.reapplied(ctx, table, ev.Prefix)
		return
	}

	fields := routeFields(ev)
	if err := s.app.Set(ctx, table, ev.Prefix, fields); err != nil {
		util.Logger.WithField("prefix", ev.Prefix).WithField("error", err).
			Warn("routesync: failed writing route")
		return
	}
	s.reapplied(ctx, table, ev.Prefix)
}

func (s *Syncer) reapplied(ctx context.Context, table, key string) {
	if table != RouteTable {
		return
	}
	if err := s.warm.Reapplied(ctx, table, key); err != nil {
		util.Logger.WithField("key", key).WithField("error", err).
			Warn("routesync: warm-restart reapply bookkeeping failed")
	}
}

// classify picks the owning table for a decoded route: SRv6 local-SIDs and
// VNET overlay routes each own a dedicated table; MPLS label routes own
// LABEL_ROUTE_TABLE; everything else is a plain ROUTE_TABLE entry.
func classify(ev netlinkbridge.RouteEvent) string {
	switch {
	case ev.SRv6LocalSID != nil:
		return Srv6MySidTable
	case ev.VNI != 0 && ev.VRF != "":
		return VnetTunnelTable
	case ev.VNI != 0:
		return VnetRouteTable
	case hasMPLS(ev):
		return LabelRouteTable
	default:
		return RouteTable
	}
}

func hasMPLS(ev netlinkbridge.RouteEvent) bool {
	for _, nh := range ev.NextHops {
		if len(nh.MPLSLabels) > 0 {
			return true
		}
	}
	return false
}

// routeFields renders a RouteEvent into the comma-joined nexthop/ifname/
// weight/mpls_nh fields ROUTE_TABLE and LABEL_ROUTE_TABLE share, per
// routesync.cpp's getNextHopGw/getNextHopIf/getNextHopWt.
func routeFields(ev netlinkbridge.RouteEvent) map[string]string {
	ips := make([]string, len(ev.NextHops))
	ifaces := make([]string, len(ev.NextHops))
	weights := make([]string, len(ev.NextHops))
	mpls := make([]string, len(ev.NextHops))
	for i, nh := range ev.NextHops {
		ips[i] = nh.IP
		ifaces[i] = nh.Interface
		weights[i] = strconv.Itoa(nh.Weight)
		if len(nh.MPLSLabels) == 0 {
			mpls[i] = "na"
			continue
		}
		labels := make([]string, len(nh.MPLSLabels))
		for j, l := range nh.MPLSLabels {
			labels[j] = strconv.FormatUint(uint64(l), 10)
		}
		mpls[i] = strings.Join(labels, "/")
	}
	fields := map[string]string{
		"nexthop": strings.Join(ips, ","),
		"ifname":  strings.Join(ifaces, ","),
		"weight":  strings.Join(weights, ","),
		"mpls_nh": strings.Join(mpls, ","),
	}
	if ev.VNI != 0 {
		fields["vni"] = strconv.FormatUint(uint64(ev.VNI), 10)
		fields["router_mac"] = ev.RouterMAC
	}
	if sid := ev.SRv6LocalSID; sid != nil {
		fields["action"] = sid.Action
		fields["vrf"] = sid.VRF
		fields["adj"] = sid.Adjacency
	}
	return fields
}

// MarkProgrammed is the offload-acknowledgement hook: called once the
// driver-facing side confirms a route is installed, it re-encodes the last
// raw FPM payload for prefix with RTM_F_OFFLOAD set and echoes it back to
// the routing daemon, per routesync.h's sendOffloadReply(rtnl_route*).
func (s *Syncer) MarkProgrammed(ctx context.Context, prefix string) error {
	if s.writer == nil {
		return nil
	}
	raw, ok := s.rawByPrefix[prefix]
	if !ok {
		return nil
	}
	offloaded := setOffloadFlag(raw)
	return s.writer.WriteFrame(1, offloaded)
}

// markOffloaded sets ROUTE_TABLE[key]'s offloaded field without touching any
// other field, used during warm-restart's initial "mark everything
// offloaded" pass.
func (s *Syncer) markOffloaded(ctx context.Context, key string) error {
	fields, err := s.app.Get(ctx, RouteTable, key)
	if err != nil {
		return err
	}
	if fields == nil {
		fields = map[string]string{}
	}
	fields["offloaded"] = "true"
	return s.app.Set(ctx, RouteTable, key, fields)
}

// setOffloadFlag ORs RTM_F_OFFLOAD into the rtmsg flags field of a raw
// nlmsghdr-prefixed netlink route payload: 16 bytes of nlmsghdr, then the
// rtmsg's 8 single-byte fields, then a little-endian uint32 flags word.
func setOffloadFlag(payload []byte) []byte {
	const flagsOffset = 16 + 8
	out := append([]byte(nil), payload...)
	if len(out) < flagsOffset+4 {
		return out
	}
	flags := uint32(out[flagsOffset]) | uint32(out[flagsOffset+1])<<8 |
		uint32(out[flagsOffset+2])<<16 | uint32(out[flagsOffset+3])<<24
	flags |= netlinkbridge.RTMFlagOffload
	out[flagsOffset] = byte(flags)
	out[flagsOffset+1] = byte(flags >> 8)
	out[flagsOffset+2] = byte(flags >> 16)
	out[flagsOffset+3] = byte(flags >> 24)
	return out
}
