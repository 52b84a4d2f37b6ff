// Package netlinkbridge is the Netlink Bridge: it decodes kernel
// LINK/NEIGH/ROUTE events into the typed records the rest of the repo
// consumes, using github.com/vishvananda/netlink the way
// other_examples/...ovs-cni/plugin.go and the moby-moby vendored copy of the
// same library do (LinkByName/LinkSubscribe-style event decode). FPM
// message framing (pkg/netlinkbridge/fpm.go) is grounded on
// original_source/fpmsyncd/routesync.h's RTM_F_OFFLOAD/encap parsing.
package netlinkbridge

import (
	"context"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"

	"github.com/newtron-network/orchcore/pkg/util"
)

// LinkEvent is a decoded RTM_NEWLINK/RTM_DELLINK record: the link's name and
// current oper-state, the two facts VLAN/Interface/LAG managers react to —
// a port going oper-down marks every fine-grained next-hop member riding
// on it DOWN.
type LinkEvent struct {
	Name       string
	OperState  string // "up" or "down"
	AdminUp    bool
	MTU        int
	Removed    bool
}

// NeighEvent is a decoded RTM_NEWNEIGH/RTM_DELNEIGH record: a neighbor
// resolving or leaving the reachable/stale states the FgNhg and Nhg engines
// treat as "resolved".
type NeighEvent struct {
	IP        string
	LinkName  string
	MAC       string
	Resolved  bool
}

// Bridge owns the kernel netlink subscriptions and republishes them as
// LinkEvent/NeighEvent channels. It does not itself decide anything — it is
// purely the decode layer between the kernel and the orchestrator
// components that react to these events (intfmgr, fgnhgorch, nhgorch).
type Bridge struct {
	linkByIndex map[int]string
}

// New creates a Bridge.
func New() *Bridge {
	return &Bridge{linkByIndex: make(map[int]string)}
}

// SubscribeLinks streams decoded LinkEvents until ctx is cancelled.
func (b *Bridge) SubscribeLinks(ctx context.Context) (<-chan LinkEvent, error) {
	updates := make(chan netlink.LinkUpdate, 64)
	done := make(chan struct{})
	if err := netlink.LinkSubscribe(updates, done); err != nil {
		return nil, err
	}

	out := make(chan LinkEvent, 64)
	go func() {
		defer close(out)
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				attrs := u.Link.Attrs()
				b.linkByIndex[attrs.Index] = attrs.Name
				ev := LinkEvent{
					Name:      attrs.Name,
					OperState: operStateString(attrs.OperState),
					AdminUp:   attrs.Flags&netlink.FlagUp != 0,
					MTU:       attrs.MTU,
					Removed:   u.Header.Type == 17, // RTM_DELLINK
				}
				out <- ev
			}
		}
	}()
	return out, nil
}

// SubscribeNeighbors streams decoded NeighEvents until ctx is cancelled.
func (b *Bridge) SubscribeNeighbors(ctx context.Context) (<-chan NeighEvent, error) {
	updates := make(chan netlink.NeighUpdate, 64)
	done := make(chan struct{})
	if err := netlink.NeighSubscribe(updates, done); err != nil {
		return nil, err
	}

	out := make(chan NeighEvent, 64)
	go func() {
		defer close(out)
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				name := b.linkByIndex[u.Neigh.LinkIndex]
				if name == "" {
					if link, err := netlink.LinkByIndex(u.Neigh.LinkIndex); err == nil {
						name = link.Attrs().Name
						b.linkByIndex[u.Neigh.LinkIndex] = name
					}
				}
				resolved := u.Neigh.State&(netlink.NUD_REACHABLE|netlink.NUD_STALE|netlink.NUD_PERMANENT) != 0
				mac := ""
				if u.Neigh.HardwareAddr != nil {
					mac = u.Neigh.HardwareAddr.String()
				}
				out <- NeighEvent{
					IP:       u.Neigh.IP.String(),
					LinkName: name,
					MAC:      mac,
					Resolved: resolved,
				}
			}
		}
	}()
	return out, nil
}

// SubscribeRoutes streams decoded RouteEvents for kernel-originated route
// changes (as opposed to the routing daemon's FPM stream, decoded instead by
// DecodeRouteMessage) until ctx is cancelled.
func (b *Bridge) SubscribeRoutes(ctx context.Context) (<-chan RouteEvent, error) {
	updates := make(chan netlink.RouteUpdate, 64)
	done := make(chan struct{})
	if err := netlink.RouteSubscribe(updates, done); err != nil {
		return nil, err
	}

	out := make(chan RouteEvent, 64)
	go func() {
		defer close(out)
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				out <- b.decodeRouteUpdate(u)
			}
		}
	}()
	return out, nil
}

// decodeRouteUpdate converts a typed netlink.RouteUpdate (kernel-originated)
// into the same RouteEvent shape DecodeRouteMessage produces for FPM
// payloads, so routesync can treat both sources identically.
func (b *Bridge) decodeRouteUpdate(u netlink.RouteUpdate) RouteEvent {
	ev := RouteEvent{
		Deleted: u.Type == 25, // RTM_DELROUTE
		VRF:     fmt.Sprintf("%d", u.Route.Table),
	}
	if u.Route.Dst != nil {
		ev.Prefix = u.Route.Dst.String()
	}
	if len(u.Route.MultiPath) > 0 {
		for _, hop := range u.Route.MultiPath {
			ev.NextHops = append(ev.NextHops, RouteNextHop{
				IP:        gwString(hop.Gw),
				Interface: b.resolveIfName(hop.LinkIndex),
				Weight:    hop.Hops + 1,
			})
		}
	} else {
		ev.NextHops = append(ev.NextHops, RouteNextHop{
			IP:        gwString(u.Route.Gw),
			Interface: b.resolveIfName(u.Route.LinkIndex),
			Weight:    1,
		})
	}
	return ev
}

// resolveIfName looks up a link name by kernel ifindex from the Bridge's own
// cache (populated by SubscribeLinks), falling back to a direct kernel
// lookup and caching the result.
func (b *Bridge) resolveIfName(ifindex int) string {
	if name, ok := b.linkByIndex[ifindex]; ok {
		return name
	}
	link, err := netlink.LinkByIndex(ifindex)
	if err != nil {
		logDrop("resolveIfName", err)
		return ""
	}
	name := link.Attrs().Name
	b.linkByIndex[ifindex] = name
	return name
}

func gwString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func operStateString(state netlink.LinkOperState) string {
	if state == netlink.OperUp {
		return "up"
	}
	return "down"
}

// logDrop is a small shared helper so both subscriptions log identically
// when a decode step has to fall back silently.
func logDrop(what string, err error) {
	util.Logger.WithField("what", what).WithField("error", err).
		Warn("netlinkbridge: dropping undecodable event")
}
