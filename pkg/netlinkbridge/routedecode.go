package netlinkbridge

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/vishvananda/netlink/nl"
)

// Raw rtnetlink route-message constants not exported by the typed
// netlink.RouteSubscribe path but needed to decode FPM's raw payloads,
// grounded on routesync.cpp's onRouteMsg/getNextHopList (libnl's
// rtnl_route_* accessors over the same RTA_* attributes).
const (
	rtmNewRoute = 24
	rtmDelRoute = 25

	nlmsghdrLen = 16 // len(4) + type(2) + flags(2) + seq(4) + pid(4)

	rtaDst      = 1
	rtaOif      = 4
	rtaGateway  = 5
	rtaTable    = 15
	rtaMultipath = 8
	rtaEncapType = 21

	rtnUnicast = 1

	afInet  = 2
	afInet6 = 10

	lwtunnelEncapMpls = 1
)

// nexthopWithIndex threads the raw kernel ifindex alongside a decoded
// RouteNextHop so the caller can resolve it to a name in one pass.
type nexthopWithIndex struct {
	hop     RouteNextHop
	ifindex int
}

// DecodeRouteMessage decodes one raw rtnetlink message — a full
// nlmsghdr-prefixed RTM_{NEW,DEL}ROUTE, the shape FPM frames carry verbatim
// from the routing daemon — into a RouteEvent. resolveIfName looks up an
// interface name by kernel ifindex (the Bridge's own link cache, or
// netlink.LinkByIndex as a fallback).
func DecodeRouteMessage(payload []byte, resolveIfName func(ifindex int) string) (RouteEvent, error) {
	if len(payload) < nlmsghdrLen {
		return RouteEvent{}, fmt.Errorf("netlinkbridge: fpm payload shorter than an nlmsghdr")
	}
	nlmsgType := binary.LittleEndian.Uint16(payload[4:6])
	if nlmsgType != rtmNewRoute && nlmsgType != rtmDelRoute {
		return RouteEvent{}, fmt.Errorf("netlinkbridge: not a route message (nlmsg_type %d)", nlmsgType)
	}
	body := payload[nlmsghdrLen:]

	msg := nl.DeserializeRtMsg(body)
	if msg.Family != afInet && msg.Family != afInet6 {
		return RouteEvent{}, fmt.Errorf("netlinkbridge: unsupported route family %d", msg.Family)
	}
	if msg.Type != rtnUnicast {
		return RouteEvent{}, fmt.Errorf("netlinkbridge: skipping non-unicast route type %d", msg.Type)
	}

	attrs, err := nl.ParseRouteAttr(body[msg.Len():])
	if err != nil {
		return RouteEvent{}, fmt.Errorf("netlinkbridge: parsing route attributes: %w", err)
	}

	ev := RouteEvent{Deleted: nlmsgType == rtmDelRoute}

	var dst net.IP
	var singleGw net.IP
	var singleOif int
	haveSingleHop := false
	var multipath []nexthopWithIndex

	for _, a := range attrs {
		switch a.Attr.Type {
		case rtaDst:
			dst = append(net.IP(nil), a.Value...)
		case rtaGateway:
			singleGw = append(net.IP(nil), a.Value...)
			haveSingleHop = true
		case rtaOif:
			singleOif = int(nl.NativeEndian().Uint32(a.Value))
			haveSingleHop = true
		case rtaTable:
			ev.VRF = fmt.Sprintf("%d", nl.NativeEndian().Uint32(a.Value))
		case rtaMultipath:
			hops, err := parseMultipath(a.Value)
			if err != nil {
				return RouteEvent{}, err
			}
			multipath = hops
		case rtaEncapType:
			if nl.NativeEndian().Uint16(a.Value) == lwtunnelEncapMpls {
				ev.Protocol = "mpls"
			}
		}
	}

	if dst != nil {
		ev.Prefix = fmt.Sprintf("%s/%d", dst.String(), msg.Dst_len)
	}

	switch {
	case len(multipath) > 0:
		for _, m := range multipath {
			name := ""
			if resolveIfName != nil {
				name = resolveIfName(m.ifindex)
			}
			m.hop.Interface = name
			ev.NextHops = append(ev.NextHops, m.hop)
		}
	case haveSingleHop:
		name := ""
		if resolveIfName != nil {
			name = resolveIfName(singleOif)
		}
		nh := RouteNextHop{Interface: name, Weight: 1}
		if singleGw != nil {
			nh.IP = singleGw.String()
		}
		ev.NextHops = append(ev.NextHops, nh)
	}

	return ev, nil
}

// parseMultipath decodes a nested RTA_MULTIPATH attribute: a sequence of
// "struct rtnexthop { len; flags; hops; ifindex }" records, each optionally
// followed by its own nested rtattrs (RTA_GATEWAY for the per-hop gateway).
func parseMultipath(b []byte) ([]nexthopWithIndex, error) {
	var hops []nexthopWithIndex
	rest := b
	for len(rest) >= 8 {
		rtnhLen := int(binary.LittleEndian.Uint16(rest[0:2]))
		if rtnhLen < 8 || rtnhLen > len(rest) {
			break
		}
		weight := int(rest[2]) + 1
		ifindex := int(binary.LittleEndian.Uint32(rest[4:8]))

		nh := RouteNextHop{Weight: weight}
		if rtnhLen > 8 {
			attrs, err := nl.ParseRouteAttr(rest[8:rtnhLen])
			if err == nil {
				for _, a := range attrs {
					if a.Attr.Type == rtaGateway {
						nh.IP = net.IP(a.Value).String()
					}
				}
			}
		}
		hops = append(hops, nexthopWithIndex{hop: nh, ifindex: ifindex})
		rest = rest[rtnhLen:]
	}
	return hops, nil
}
