package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Delimiters for the canonical textual forms of NextHopKey/NextHopGroupKey,
// carried over unchanged from the driver's wire format (nexthopkey.h).
const (
	nhLabelStackDelimiter = "+"
	nhDelimiter           = "@"
	nhgDelimiter          = ","
	vrfPrefix             = "Vrf"
)

// OutsegType is the MPLS label operation applied at this next-hop.
type OutsegType string

const (
	OutsegSwap OutsegType = "swap"
	OutsegPush OutsegType = "push"
)

// NextHopKey is a totally ordered next-hop identity: a neighbor IP reached
// through an incoming alias, with optional MPLS label-stack and VXLAN
// overlay (vni, mac) attributes. It parses the canonical textual form
// "[push|swap+labels+]<ip>[@<alias>][@<vni>@<mac>]" used across the
// CFG/APPL tables (grounded on orchagent's nexthopkey.h).
type NextHopKey struct {
	IP         string     `json:"ip"`
	Alias      string     `json:"alias"`
	LabelStack []uint32   `json:"label_stack,omitempty"`
	OutsegType OutsegType `json:"outseg_type,omitempty"`
	VNI        uint32     `json:"vni,omitempty"`
	MAC        string     `json:"mac,omitempty"`
}

// IsIntfNextHop reports whether this is a zero-address interface next-hop
// (point-to-point or unnumbered), rather than a resolved neighbor.
func (k NextHopKey) IsIntfNextHop() bool {
	return k.IP == "" || k.IP == "0.0.0.0" || k.IP == "::"
}

// IsMPLSNextHop reports whether this next-hop carries an MPLS label stack.
func (k NextHopKey) IsMPLSNextHop() bool {
	return len(k.LabelStack) > 0
}

// IsOverlayNextHop reports whether this next-hop carries a VXLAN overlay
// (vni, mac) pair, as used by EVPN route resolution.
func (k NextHopKey) IsOverlayNextHop() bool {
	return k.VNI != 0
}

// String renders the canonical textual form of the key. Overlay next-hops
// append "@vni@mac"; MPLS next-hops prefix "outseg+l0/l1/.../lN+".
func (k NextHopKey) String() string {
	var b strings.Builder
	if k.IsMPLSNextHop() {
		b.WriteString(string(k.OutsegType))
		b.WriteString(nhLabelStackDelimiter)
		labels := make([]string, len(k.LabelStack))
		for i, l := range k.LabelStack {
			labels[i] = strconv.FormatUint(uint64(l), 10)
		}
		b.WriteString(strings.Join(labels, "/"))
		b.WriteString(nhLabelStackDelimiter)
	}
	b.WriteString(k.IP)
	b.WriteString(nhDelimiter)
	b.WriteString(k.Alias)
	if k.IsOverlayNextHop() {
		b.WriteString(nhDelimiter)
		b.WriteString(strconv.FormatUint(uint64(k.VNI), 10))
		b.WriteString(nhDelimiter)
		b.WriteString(k.MAC)
	}
	return b.String()
}

// Less implements the total order used to keep NextHopGroupKey members in a
// canonical, comparison-stable sequence: (ip, alias, vni, mac).
func (k NextHopKey) Less(o NextHopKey) bool {
	if k.IP != o.IP {
		return k.IP < o.IP
	}
	if k.Alias != o.Alias {
		return k.Alias < o.Alias
	}
	if k.VNI != o.VNI {
		return k.VNI < o.VNI
	}
	return k.MAC < o.MAC
}

// ParseNextHopKey parses a single next-hop's canonical textual form. It does
// not accept a group (comma-separated) string; use ParseNextHopGroupKey for
// that.
func ParseNextHopKey(str string) (NextHopKey, error) {
	var k NextHopKey
	if strings.Contains(str, nhgDelimiter) {
		return k, fmt.Errorf("model: %q is a next-hop group, not a single next-hop", str)
	}

	rest := str
	if parts := strings.SplitN(str, nhLabelStackDelimiter, 3); len(parts) == 3 {
		switch parts[0] {
		case string(OutsegSwap):
			k.OutsegType = OutsegSwap
		case string(OutsegPush):
			k.OutsegType = OutsegPush
		default:
			return k, fmt.Errorf("model: invalid outseg type %q in %q", parts[0], str)
		}
		for _, l := range strings.Split(parts[1], "/") {
			v, err := strconv.ParseUint(l, 10, 32)
			if err != nil {
				return k, fmt.Errorf("model: invalid MPLS label %q in %q: %w", l, str, err)
			}
			k.LabelStack = append(k.LabelStack, uint32(v))
		}
		rest = parts[2]
	}

	fields := strings.Split(rest, nhDelimiter)
	switch len(fields) {
	case 1:
		k.IP = fields[0]
	case 2:
		k.IP = fields[0]
		k.Alias = fields[1]
	case 4:
		k.IP = fields[0]
		k.Alias = fields[1]
		vni, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return k, fmt.Errorf("model: invalid VNI %q in %q: %w", fields[2], str, err)
		}
		k.VNI = uint32(vni)
		k.MAC = fields[3]
	default:
		return k, fmt.Errorf("model: malformed next-hop %q", str)
	}
	return k, nil
}

// NextHopGroupMember is a single weighted member of a NextHopGroupKey.
type NextHopGroupMember struct {
	NextHop NextHopKey `json:"next_hop"`
	Weight  int        `json:"weight,omitempty"`
}

// NextHopGroupKey is an ordered set of weighted NextHopKeys, comma-joined in
// its canonical textual form. Ordering is canonicalized on construction so
// two groups with the same membership always compare and stringify equal.
type NextHopGroupKey struct {
	Members []NextHopGroupMember `json:"members"`
}

// NewNextHopGroupKey builds a NextHopGroupKey from members, sorting into
// canonical order.
func NewNextHopGroupKey(members []NextHopGroupMember) NextHopGroupKey {
	sorted := append([]NextHopGroupMember(nil), members...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].NextHop.Less(sorted[j].NextHop)
	})
	return NextHopGroupKey{Members: sorted}
}

// ParseNextHopGroupKey parses a comma-separated group of next-hops, each in
// NextHopKey canonical form, into a canonically ordered NextHopGroupKey.
func ParseNextHopGroupKey(str string) (NextHopGroupKey, error) {
	parts := strings.Split(str, nhgDelimiter)
	members := make([]NextHopGroupMember, 0, len(parts))
	for _, p := range parts {
		k, err := ParseNextHopKey(p)
		if err != nil {
			return NextHopGroupKey{}, err
		}
		members = append(members, NextHopGroupMember{NextHop: k})
	}
	return NewNextHopGroupKey(members), nil
}

// IsSingleMember reports whether this group has exactly one member, the
// condition under which NhgOrch uses a direct alias rather than a driver
// next-hop-group object.
func (g NextHopGroupKey) IsSingleMember() bool {
	return len(g.Members) == 1
}

// String renders the canonical comma-joined textual form.
func (g NextHopGroupKey) String() string {
	parts := make([]string, len(g.Members))
	for i, m := range g.Members {
		parts[i] = m.NextHop.String()
	}
	return strings.Join(parts, nhgDelimiter)
}

// Contains reports whether nh is a member of the group.
func (g NextHopGroupKey) Contains(nh NextHopKey) bool {
	want := nh.String()
	for _, m := range g.Members {
		if m.NextHop.String() == want {
			return true
		}
	}
	return false
}

// MemberWeight looks up nh's weight within the group, by next-hop identity.
func (g NextHopGroupKey) MemberWeight(nh NextHopKey) (weight int, ok bool) {
	want := nh.String()
	for _, m := range g.Members {
		if m.NextHop.String() == want {
			return m.Weight, true
		}
	}
	return 0, false
}

// Equal reports whether g and other have the same membership AND the same
// per-member weights. String() alone only compares next-hop identity (it
// never encodes weight, matching the driver's group-key wire form), so a
// pure weight change on an otherwise-identical group is Equal == false.
func (g NextHopGroupKey) Equal(other NextHopGroupKey) bool {
	if len(g.Members) != len(other.Members) {
		return false
	}
	if g.String() != other.String() {
		return false
	}
	for _, m := range g.Members {
		w, ok := other.MemberWeight(m.NextHop)
		if !ok || w != m.Weight {
			return false
		}
	}
	return true
}
