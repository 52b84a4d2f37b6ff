// Package vxlanmgr owns the three CFG tables that describe a switch's VXLAN
// overlay configuration: VXLAN_TUNNEL (a VTEP's local source IP),
// VXLAN_TUNNEL_MAP (an L2VNI's binding to a VLAN), and VXLAN_EVPN_NVO (the
// EVPN control-plane's chosen source VTEP). It is the component
// vlanmgr's "VLAN created with an L2VNI option" precondition assumes
// exists: a VLAN's L2VNI clause only applies once its VNI's tunnel map
// row is state-ok here. Grounded on
// original_source/orchagent/vxlanorch.cpp's tunnel/tunnel-map create path,
// reduced from direct SAI calls to pkg/asic's CreateTunnel/RemoveTunnel
// port, and laid out the way pkg/vrfmgr structures its single-owner
// Manager/Engine/apply shape.
package vxlanmgr

import (
	"context"
	"fmt"
	"strconv"

	"github.com/newtron-network/orchcore/pkg/asic"
	"github.com/newtron-network/orchcore/pkg/orch"
	"github.com/newtron-network/orchcore/pkg/store"
)

const (
	TableTunnel    = "VXLAN_TUNNEL"
	TableTunnelMap = "VXLAN_TUNNEL_MAP"
	TableEVPNNVO   = "VXLAN_EVPN_NVO"

	StateTableTunnel = "VXLAN_TUNNEL_TABLE"
	StateTableVLAN   = "VLAN_TABLE"
)

// Manager owns CFG VXLAN_TUNNEL/VXLAN_TUNNEL_MAP/VXLAN_EVPN_NVO: it
// creates one driver tunnel object per configured VTEP, and one
// VNI-to-VLAN binding per tunnel map row, publishing STATE_DB rows other
// managers (vlanmgr's L2VNI clause) precondition-check against.
type Manager struct {
	cfg   *store.Gateway
	state *store.Gateway
	asic  asic.Adapter

	// tunnelIDs maps a configured VTEP name to its driver tunnel id.
	tunnelIDs map[string]string
	// nvoVTEP is the VTEP name bound to the EVPN control plane by the
	// (singleton) VXLAN_EVPN_NVO row, if any.
	nvoVTEP string
	// vniToVLAN tracks which VLAN id each VNI is currently mapped to, so
	// a tunnel-map removal can clear the right VLAN's STATE row.
	vniToVLAN map[int]int
}

// New creates a vxlanmgr Manager.
func New(cfg, state *store.Gateway, a asic.Adapter) *Manager {
	return &Manager{
		cfg:       cfg,
		state:     state,
		asic:      a,
		tunnelIDs: make(map[string]string),
		vniToVLAN: make(map[int]int),
	}
}

// TunnelEngine returns the orch.Engine for VXLAN_TUNNEL.
func (m *Manager) TunnelEngine() *orch.Engine {
	return orch.NewEngine("vxlanmgr.VXLAN_TUNNEL", TableTunnel, m.cfg, m.applyTunnel)
}

// TunnelMapEngine returns the orch.Engine for VXLAN_TUNNEL_MAP.
func (m *Manager) TunnelMapEngine() *orch.Engine {
	return orch.NewEngine("vxlanmgr.VXLAN_TUNNEL_MAP", TableTunnelMap, m.cfg, m.applyTunnelMap)
}

// EVPNNVOEngine returns the orch.Engine for VXLAN_EVPN_NVO.
func (m *Manager) EVPNNVOEngine() *orch.Engine {
	return orch.NewEngine("vxlanmgr.VXLAN_EVPN_NVO", TableEVPNNVO, m.cfg, m.applyEVPNNVO)
}

func (m *Manager) applyTunnel(ctx context.Context, key string, op store.Op, fields map[string]string) orch.Outcome {
	if op == store.OpDel {
		return m.removeTunnel(ctx, key)
	}
	return m.createOrUpdateTunnel(ctx, key, fields)
}

func (m *Manager) createOrUpdateTunnel(ctx context.Context, name string, fields map[string]string) orch.Outcome {
	sourceIP := fields["source_ip"]
	if sourceIP == "" {
		return orch.Error
	}
	if _, exists := m.tunnelIDs[name]; !exists {
		tunnelID, err := m.asic.CreateTunnel(name, sourceIP)
		if err != nil {
			return orch.RetryLater
		}
		m.tunnelIDs[name] = tunnelID
	}
	if err := m.state.Set(ctx, StateTableTunnel, name, map[string]string{
		"state":     "ok",
		"source_ip": sourceIP,
	}); err != nil {
		return orch.RetryLater
	}
	return orch.Done
}

func (m *Manager) removeTunnel(ctx context.Context, name string) orch.Outcome {
	if tunnelID, exists := m.tunnelIDs[name]; exists {
		if err := m.asic.RemoveTunnel(tunnelID); err != nil {
			return orch.RetryLater
		}
		delete(m.tunnelIDs, name)
	}
	if m.nvoVTEP == name {
		m.nvoVTEP = ""
	}
	if err := m.state.Del(ctx, StateTableTunnel, name); err != nil {
		return orch.RetryLater
	}
	return orch.Done
}

// applyTunnelMap keys are "<vtep>:<map-name>" per the VXLAN_TUNNEL_MAP wire
// key shape; the map row's own fields carry the vni/vlan pair.
func (m *Manager) applyTunnelMap(ctx context.Context, key string, op store.Op, fields map[string]string) orch.Outcome {
	if op == store.OpDel {
		return m.removeTunnelMap(ctx, key)
	}
	return m.createTunnelMap(ctx, key, fields)
}

func (m *Manager) createTunnelMap(ctx context.Context, key string, fields map[string]string) orch.Outcome {
	vtep, _ := splitTunnelMapKey(key)
	if _, exists := m.tunnelIDs[vtep]; !exists {
		// Precondition: the parent VTEP must already be state-ok.
		return orch.RetryLater
	}
	vni, err := strconv.Atoi(fields["vni"])
	if err != nil {
		return orch.Error
	}
	vlan, err := vlanIDFromName(fields["vlan"])
	if err != nil {
		return orch.Error
	}
	if !orch.StateOK(ctx, m.state, StateTableVLAN, fields["vlan"]) {
		return orch.RetryLater
	}
	m.vniToVLAN[vni] = vlan
	if err := m.state.Set(ctx, StateTableVLAN, fields["vlan"], map[string]string{
		"vxlan_vni": strconv.Itoa(vni),
	}); err != nil {
		return orch.RetryLater
	}
	return orch.Done
}

func (m *Manager) removeTunnelMap(ctx context.Context, key string) orch.Outcome {
	_, vniOrMap := splitTunnelMapKey(key)
	vni, err := strconv.Atoi(vniOrMap)
	if err != nil {
		// Map name form, not a bare VNI suffix; nothing cached to clear.
		return orch.Done
	}
	delete(m.vniToVLAN, vni)
	return orch.Done
}

func (m *Manager) applyEVPNNVO(ctx context.Context, key string, op store.Op, fields map[string]string) orch.Outcome {
	if op == store.OpDel {
		m.nvoVTEP = ""
		return orch.Done
	}
	vtep := fields["source_vtep"]
	if vtep == "" {
		return orch.Error
	}
	if _, exists := m.tunnelIDs[vtep]; !exists {
		return orch.RetryLater
	}
	m.nvoVTEP = vtep
	return orch.Done
}

// splitTunnelMapKey splits a "<vtep>:<suffix>" VXLAN_TUNNEL_MAP key into its
// VTEP and suffix parts; the suffix is either a map name or a bare VNI,
// depending on whether the row was created by name or by VNI shorthand.
func splitTunnelMapKey(key string) (vtep, suffix string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func vlanIDFromName(name string) (int, error) {
	if len(name) < 5 || name[:4] != "Vlan" {
		return 0, fmt.Errorf("vxlanmgr: malformed vlan reference %q", name)
	}
	return strconv.Atoi(name[4:])
}
