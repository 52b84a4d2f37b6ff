// Package asic hides the driver SDK behind a narrow port: the core
// orchestrators never speak the driver's vocabulary directly, only this
// interface's. Adapter is the only place allowed to do so. The in-repo
// implementation targets a virtual-switch backend (no real ASIC present
// in this environment), whose real_bucket_size always matches the
// configured size since there is no hardware constraint to round against.
package asic

import "fmt"

// NhgMember is one next-hop's membership in a driver next-hop-group object,
// referenced by the driver id assigned when the next-hop itself was
// created.
type NhgMember struct {
	NextHopID string
	Weight    int
}

// FgNhgMemberAttr is a bucket assignment write: bucket index i of driver
// FG-NHG group id should point at NextHopID.
type FgNhgMemberAttr struct {
	Bucket    int
	NextHopID string
}

// Adapter is the explicit operation set the core calls into. No other
// package may reach past it to a lower-level driver binding.
type Adapter interface {
	// CreateNextHop assigns a driver id to a next-hop key's resolved
	// (ip, alias) pair, or returns the existing id if already created.
	CreateNextHop(nh string) (nextHopID string, err error)
	// RemoveNextHop releases a next-hop's driver id once nothing
	// references it.
	RemoveNextHop(nextHopID string) error

	// MaxECMPGroupSize reports the driver's maximum members per
	// conventional (non-fine-grained) next-hop group, used by NhgOrch's
	// capacity check.
	MaxECMPGroupSize() (int, error)
	// MaxECMPGroups reports how many conventional next-hop-group objects
	// the driver can hold concurrently.
	MaxECMPGroups() (int, error)

	// CreateNextHopGroup creates a multi-member driver next-hop-group
	// object and returns its id.
	CreateNextHopGroup(members []NhgMember) (groupID string, err error)
	// UpdateNextHopGroup adds/removes members without changing the group's
	// id.
	UpdateNextHopGroup(groupID string, add, remove []NhgMember) error
	// UpdateNextHopGroupMemberWeight sets member's weight on a retained
	// next-hop-group member in place, mirroring
	// NextHopGroupMember::updateWeight's SAI_NEXT_HOP_GROUP_MEMBER_ATTR_
	// WEIGHT set rather than a remove+re-add.
	UpdateNextHopGroupMemberWeight(groupID string, member NhgMember) error
	// RemoveNextHopGroup releases a driver next-hop-group object.
	RemoveNextHopGroup(groupID string) error

	// CreateFineGrainNhg creates a fine-grain-ECMP next-hop group sized
	// for configuredSize buckets and returns the group id plus the
	// driver-assigned real bucket-table size.
	CreateFineGrainNhg(configuredSize int) (groupID string, realSize int, err error)
	// RemoveFineGrainNhg releases a fine-grain-ECMP group.
	RemoveFineGrainNhg(groupID string) error
	// SetFgNhgMembers writes one or more bucket assignments for groupID,
	// each a single targeted write: buckets outside attrs are left alone.
	SetFgNhgMembers(groupID string, attrs []FgNhgMemberAttr) (memberIDs []string, err error)

	// CreateTunnel creates a VXLAN tunnel decap/encap object for a VTEP.
	CreateTunnel(vtepName, sourceIP string) (tunnelID string, err error)
	// RemoveTunnel releases a tunnel object.
	RemoveTunnel(tunnelID string) error
}

// VirtualSwitch is an in-memory Adapter for environments with no physical
// ASIC: driver ids are assigned sequentially and real_bucket_size always
// equals configured_bucket_size.
type VirtualSwitch struct {
	nextID int
	nhIDs  map[string]string // next-hop key -> driver id
	groups map[string][]NhgMember
	fgnhgs map[string]int // group id -> real size
	tunnel map[string]string

	maxECMPGroupSize int
	maxECMPGroups    int
}

// NewVirtualSwitch creates a VirtualSwitch Adapter with the given capacity
// limits (0 means "unbounded", used by most test fixtures; a positive value
// lets NhgOrch capacity-exhaustion tests exercise the temporary-group path).
func NewVirtualSwitch(maxECMPGroupSize, maxECMPGroups int) *VirtualSwitch {
	return &VirtualSwitch{
		nhIDs:            make(map[string]string),
		groups:           make(map[string][]NhgMember),
		fgnhgs:           make(map[string]int),
		tunnel:           make(map[string]string),
		maxECMPGroupSize: maxECMPGroupSize,
		maxECMPGroups:    maxECMPGroups,
	}
}

func (v *VirtualSwitch) newID(prefix string) string {
	v.nextID++
	return fmt.Sprintf("%s-0x%x", prefix, v.nextID)
}

func (v *VirtualSwitch) CreateNextHop(nh string) (string, error) {
	if id, ok := v.nhIDs[nh]; ok {
		return id, nil
	}
	id := v.newID("nh")
	v.nhIDs[nh] = id
	return id, nil
}

func (v *VirtualSwitch) RemoveNextHop(nextHopID string) error {
	for k, id := range v.nhIDs {
		if id == nextHopID {
			delete(v.nhIDs, k)
			return nil
		}
	}
	return nil
}

func (v *VirtualSwitch) MaxECMPGroupSize() (int, error) {
	if v.maxECMPGroupSize > 0 {
		return v.maxECMPGroupSize, nil
	}
	return 128, nil
}

func (v *VirtualSwitch) MaxECMPGroups() (int, error) {
	if v.maxECMPGroups > 0 {
		return v.maxECMPGroups, nil
	}
	return 1 << 16, nil
}

func (v *VirtualSwitch) CreateNextHopGroup(members []NhgMember) (string, error) {
	id := v.newID("nhg")
	v.groups[id] = append([]NhgMember(nil), members...)
	return id, nil
}

func (v *VirtualSwitch) UpdateNextHopGroup(groupID string, add, remove []NhgMember) error {
	members := v.groups[groupID]
	for _, r := range remove {
		for i, m := range members {
			if m.NextHopID == r.NextHopID {
				members = append(members[:i], members[i+1:]...)
				break
			}
		}
	}
	members = append(members, add...)
	v.groups[groupID] = members
	return nil
}

// GroupMembers returns a copy of groupID's current membership, for tests
// that need to assert on what the driver actually received.
func (v *VirtualSwitch) GroupMembers(groupID string) ([]NhgMember, error) {
	members, ok := v.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("asic: no such group %q", groupID)
	}
	return append([]NhgMember(nil), members...), nil
}

func (v *VirtualSwitch) UpdateNextHopGroupMemberWeight(groupID string, member NhgMember) error {
	members := v.groups[groupID]
	for i, m := range members {
		if m.NextHopID == member.NextHopID {
			members[i].Weight = member.Weight
			return nil
		}
	}
	return fmt.Errorf("asic: group %q has no member %q to reweight", groupID, member.NextHopID)
}

func (v *VirtualSwitch) RemoveNextHopGroup(groupID string) error {
	delete(v.groups, groupID)
	return nil
}

func (v *VirtualSwitch) CreateFineGrainNhg(configuredSize int) (string, int, error) {
	id := v.newID("fgnhg")
	v.fgnhgs[id] = configuredSize
	return id, configuredSize, nil
}

func (v *VirtualSwitch) RemoveFineGrainNhg(groupID string) error {
	delete(v.fgnhgs, groupID)
	return nil
}

func (v *VirtualSwitch) SetFgNhgMembers(groupID string, attrs []FgNhgMemberAttr) ([]string, error) {
	ids := make([]string, len(attrs))
	for i, a := range attrs {
		ids[i] = v.newID(fmt.Sprintf("%s-bkt%d", groupID, a.Bucket))
	}
	return ids, nil
}

func (v *VirtualSwitch) CreateTunnel(vtepName, sourceIP string) (string, error) {
	id := v.newID("tunnel")
	v.tunnel[vtepName] = id
	return id, nil
}

func (v *VirtualSwitch) RemoveTunnel(tunnelID string) error {
	for k, id := range v.tunnel {
		if id == tunnelID {
			delete(v.tunnel, k)
			return nil
		}
	}
	return nil
}
