// Package kernel is the abstracted kernel-netlink adapter: VLAN/Interface/
// LAG managers never shell out to `ip`/`bridge`/`teamd`, they call explicit
// methods here. The real implementation is backed by
// github.com/vishvananda/netlink, grounded on its use in
// other_examples/...ovs-cni/plugin.go (LinkByName/LinkSetUp/
// LinkSetHardwareAddr) and the moby-moby vendor copy of the same library;
// FPM/route decode lives in pkg/netlinkbridge, which uses the same library
// for its RTM_* record types.
package kernel

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// Adapter is the explicit kernel-mutation surface VLAN/Interface/LAG
// managers are allowed to call. A shell-shelling implementation could
// satisfy the same interface on platforms without a netlink binding; none
// is provided here since this environment always has one.
type Adapter interface {
	AddVLANDevice(name string, vlanID int, parentBridge string) error
	RemoveVLANDevice(name string) error
	SetBridgeVLANFilter(port string, vlanID int, tagged bool, add bool) error
	SetBridgeVLANFiltering(bridge string, enabled bool) error

	SetLinkUp(name string) error
	SetLinkDown(name string) error
	SetLinkMTU(name string, mtu int) error
	SetLinkAddress(name string, mac string) error
	SetLinkMaster(name, master string) error
	SetLinkNoMaster(name string) error

	AddAddress(name, cidr string) error
	DelAddress(name, cidr string) error

	AddVRFDevice(name string, tableID uint32) error
	RemoveVRFDevice(name string) error
}

// NetlinkAdapter implements Adapter using vishvananda/netlink directly
// against the host's network namespace.
type NetlinkAdapter struct{}

// New creates a NetlinkAdapter.
func New() *NetlinkAdapter {
	return &NetlinkAdapter{}
}

// AddVLANDevice creates a VLAN netdev on top of parentBridge (SONiC models
// a VLAN as a kernel bridge plus a same-named VLAN interface for the SVI;
// the bridge membership itself is expressed via bridge-vlan filters, not
// this device).
func (a *NetlinkAdapter) AddVLANDevice(name string, vlanID int, parentBridge string) error {
	parent, err := netlink.LinkByName(parentBridge)
	if err != nil {
		return fmt.Errorf("kernel: lookup parent %s for vlan device %s: %w", parentBridge, name, err)
	}
	vlan := &netlink.Vlan{
		LinkAttrs: netlink.LinkAttrs{Name: name, ParentIndex: parent.Attrs().Index},
		VlanId:    vlanID,
	}
	if err := netlink.LinkAdd(vlan); err != nil {
		return fmt.Errorf("kernel: add vlan device %s: %w", name, err)
	}
	return nil
}

// RemoveVLANDevice deletes a VLAN netdev by name.
func (a *NetlinkAdapter) RemoveVLANDevice(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("kernel: lookup vlan device %s: %w", name, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("kernel: remove vlan device %s: %w", name, err)
	}
	return nil
}

// SetBridgeVLANFilter adds or removes a bridge-vlan filter entry binding
// port to vlanID, tagged or untagged.
func (a *NetlinkAdapter) SetBridgeVLANFilter(port string, vlanID int, tagged bool, add bool) error {
	link, err := netlink.LinkByName(port)
	if err != nil {
		return fmt.Errorf("kernel: lookup port %s: %w", port, err)
	}
	vlanInfo := &netlink.BridgeVlanInfo{Vid: uint16(vlanID)}
	if !tagged {
		vlanInfo.Flags |= netlink.BRIDGE_VLAN_INFO_UNTAGGED
	}
	if add {
		return netlink.BridgeVlanAdd(link, vlanInfo.Vid, !tagged, false, false, false)
	}
	return netlink.BridgeVlanDel(link, vlanInfo.Vid, !tagged, false, false, false)
}

// SetBridgeVLANFiltering toggles vlan-filtering mode on a kernel bridge.
func (a *NetlinkAdapter) SetBridgeVLANFiltering(bridge string, enabled bool) error {
	link, err := netlink.LinkByName(bridge)
	if err != nil {
		return fmt.Errorf("kernel: lookup bridge %s: %w", bridge, err)
	}
	br, ok := link.(*netlink.Bridge)
	if !ok {
		return fmt.Errorf("kernel: %s is not a bridge", bridge)
	}
	return netlink.BridgeSetVlanFiltering(br, enabled)
}

// SetLinkUp brings a link's admin state up.
func (a *NetlinkAdapter) SetLinkUp(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("kernel: lookup %s: %w", name, err)
	}
	return netlink.LinkSetUp(link)
}

// SetLinkDown brings a link's admin state down.
func (a *NetlinkAdapter) SetLinkDown(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("kernel: lookup %s: %w", name, err)
	}
	return netlink.LinkSetDown(link)
}

// SetLinkMTU sets a link's MTU.
func (a *NetlinkAdapter) SetLinkMTU(name string, mtu int) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("kernel: lookup %s: %w", name, err)
	}
	return netlink.LinkSetMTU(link, mtu)
}

// SetLinkAddress sets a link's hardware address.
func (a *NetlinkAdapter) SetLinkAddress(name string, mac string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("kernel: lookup %s: %w", name, err)
	}
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return fmt.Errorf("kernel: parse mac %q: %w", mac, err)
	}
	return netlink.LinkSetHardwareAddr(link, hw)
}

// SetLinkMaster enslaves name under master (a bridge or LAG/team device).
func (a *NetlinkAdapter) SetLinkMaster(name, master string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("kernel: lookup %s: %w", name, err)
	}
	masterLink, err := netlink.LinkByName(master)
	if err != nil {
		return fmt.Errorf("kernel: lookup master %s: %w", master, err)
	}
	return netlink.LinkSetMaster(link, masterLink)
}

// SetLinkNoMaster detaches name from whatever it is currently enslaved to.
func (a *NetlinkAdapter) SetLinkNoMaster(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("kernel: lookup %s: %w", name, err)
	}
	return netlink.LinkSetNoMaster(link)
}

// AddVRFDevice creates a kernel VRF device (a netdev that owns a dedicated
// routing table) with the given kernel routing-table id. Interfaces are
// bound to the VRF by enslaving them to this device via SetLinkMaster.
func (a *NetlinkAdapter) AddVRFDevice(name string, tableID uint32) error {
	vrf := &netlink.Vrf{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		Table:     tableID,
	}
	if err := netlink.LinkAdd(vrf); err != nil {
		return fmt.Errorf("kernel: add vrf device %s: %w", name, err)
	}
	return netlink.LinkSetUp(vrf)
}

// RemoveVRFDevice deletes a VRF device by name.
func (a *NetlinkAdapter) RemoveVRFDevice(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("kernel: lookup vrf device %s: %w", name, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("kernel: remove vrf device %s: %w", name, err)
	}
	return nil
}

// AddAddress adds cidr (either family) to name.
func (a *NetlinkAdapter) AddAddress(name, cidr string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("kernel: lookup %s: %w", name, err)
	}
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("kernel: parse address %q: %w", cidr, err)
	}
	return netlink.AddrAdd(link, addr)
}

// DelAddress removes cidr from name.
func (a *NetlinkAdapter) DelAddress(name, cidr string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("kernel: lookup %s: %w", name, err)
	}
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("kernel: parse address %q: %w", cidr, err)
	}
	return netlink.AddrDel(link, addr)
}
