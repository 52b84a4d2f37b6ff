// Package vlanmgr implements the VLAN manager: it owns the
// CFG VLAN and VLAN_MEMBER tables, mutating the kernel bridge-vlan state
// through pkg/kernel and publishing STATE_DB rows other managers
// precondition-check against. Naming and logging conventions follow
// pkg/network/vlan_ops.go (CreateVLAN/DeleteVLAN/AddVLANMember);
// precondition/ordering semantics follow original_source/cfgmgr/vlanmgr.cpp.
package vlanmgr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/newtron-network/orchcore/pkg/kernel"
	"github.com/newtron-network/orchcore/pkg/orch"
	"github.com/newtron-network/orchcore/pkg/store"
	"github.com/newtron-network/orchcore/pkg/util"
)

const (
	TableVLAN       = "VLAN"
	TableVLANMember = "VLAN_MEMBER"
	StateTableVLAN  = "VLAN_TABLE"
	StateTablePort  = "PORT_TABLE"

	TaggingUntagged      = "untagged"
	TaggingTagged        = "tagged"
	TaggingPriorityTagged = "priority_tagged"
)

// Manager owns the VLAN and VLAN_MEMBER CFG tables.
type Manager struct {
	cfg    *store.Gateway
	state  *store.Gateway
	kernel kernel.Adapter

	// bridge is the single kernel bridge device every VLAN netdev is
	// created under; SONiC uses one bridge ("Bridge") for the whole
	// switch.
	bridge string

	// members tracks, per VLAN name, which ports are currently bridge
	// members, so a member removal can tell whether it leaves a port in
	// no VLAN at all.
	members map[string]map[string]bool
}

// New creates a vlanmgr Manager.
func New(cfg, state *store.Gateway, k kernel.Adapter, bridge string) *Manager {
	return &Manager{cfg: cfg, state: state, kernel: k, bridge: bridge, members: make(map[string]map[string]bool)}
}

// VLANEngine returns the orch.Engine for the VLAN table.
func (m *Manager) VLANEngine() *orch.Engine {
	return orch.NewEngine("vlanmgr.VLAN", TableVLAN, m.cfg, m.applyVLAN)
}

// MemberEngine returns the orch.Engine for the VLAN_MEMBER table.
func (m *Manager) MemberEngine() *orch.Engine {
	return orch.NewEngine("vlanmgr.VLAN_MEMBER", TableVLANMember, m.cfg, m.applyMember)
}

func vlanID(vlanName string) (int, error) {
	if !strings.HasPrefix(vlanName, "Vlan") {
		return 0, fmt.Errorf("vlanmgr: malformed vlan key %q", vlanName)
	}
	return strconv.Atoi(strings.TrimPrefix(vlanName, "Vlan"))
}

// applyVLAN handles a SET/DEL of CFG VLAN|<name>.
func (m *Manager) applyVLAN(ctx context.Context, key string, op store.Op, fields map[string]string) orch.Outcome {
	id, err := vlanID(key)
	if err != nil {
		util.Logger.WithField("key", key).WithField("error", err).Warn("vlanmgr: rejecting malformed vlan key")
		return orch.Error
	}

	if op == store.OpDel {
		return m.deleteVLAN(ctx, key)
	}
	return m.createOrUpdateVLAN(ctx, key, id, fields)
}

func (m *Manager) createOrUpdateVLAN(ctx context.Context, key string, id int, fields map[string]string) orch.Outcome {
	existed, err := m.state.Exists(ctx, StateTableVLAN, key)
	if err != nil {
		return orch.RetryLater
	}
	if !existed {
		if err := m.kernel.AddVLANDevice(key, id, m.bridge); err != nil {
			util.Logger.WithField("vlan", key).WithField("error", err).Warn("vlanmgr: failed creating vlan device")
			return orch.RetryLater
		}
	}

	if mtu, ok := fields["mtu"]; ok {
		if n, err := strconv.Atoi(mtu); err == nil {
			if err := m.kernel.SetLinkMTU(key, n); err != nil {
				return orch.RetryLater
			}
		}
	}
	if mac, ok := fields["mac"]; ok && mac != "" {
		if err := m.kernel.SetLinkAddress(key, mac); err != nil {
			return orch.RetryLater
		}
	}
	adminUp := fields["admin_status"] != "down"
	if adminUp {
		if err := m.kernel.SetLinkUp(key); err != nil {
			return orch.RetryLater
		}
	} else {
		if err := m.kernel.SetLinkDown(key); err != nil {
			return orch.RetryLater
		}
	}

	// Inline "members@" synthesises untagged VLAN_MEMBER SETs.
	if list, ok := fields["members@"]; ok && list != "" {
		for _, port := range strings.Split(list, ",") {
			port = strings.TrimSpace(port)
			if port == "" {
				continue
			}
			if outcome := m.applyMember(ctx, key+"|"+port, store.OpSet, map[string]string{"tagging_mode": TaggingUntagged}); outcome == orch.RetryLater {
				return orch.RetryLater
			}
		}
	}

	appFields := map[string]string{"state": "ok"}
	if err := m.state.Set(ctx, StateTableVLAN, key, appFields); err != nil {
		return orch.RetryLater
	}
	return orch.Done
}

func (m *Manager) deleteVLAN(ctx context.Context, key string) orch.Outcome {
	for port := range m.members[key] {
		if err := m.kernel.SetBridgeVLANFilter(port, mustVLANID(key), false, false); err != nil {
			return orch.RetryLater
		}
	}
	delete(m.members, key)

	if err := m.kernel.RemoveVLANDevice(key); err != nil {
		return orch.RetryLater
	}
	if err := m.state.Del(ctx, StateTableVLAN, key); err != nil {
		return orch.RetryLater
	}
	return orch.Done
}

func mustVLANID(vlanName string) int {
	id, _ := vlanID(vlanName)
	return id
}

// applyMember handles a SET/DEL of CFG VLAN_MEMBER|<vlan>|<port>.
func (m *Manager) applyMember(ctx context.Context, key string, op store.Op, fields map[string]string) orch.Outcome {
	parts := strings.SplitN(key, "|", 2)
	if len(parts) != 2 {
		util.Logger.WithField("key", key).Warn("vlanmgr: rejecting malformed member key")
		return orch.Error
	}
	vlan, port := parts[0], parts[1]

	if !orch.StateOK(ctx, m.state, StateTableVLAN, vlan) {
		return orch.RetryLater
	}
	if !orch.StateOK(ctx, m.state, StateTablePort, port) {
		return orch.RetryLater
	}

	if op == store.OpDel {
		return m.removeMember(ctx, vlan, port)
	}

	tagging := fields["tagging_mode"]
	var tagged bool
	switch tagging {
	case TaggingUntagged:
		tagged = false
	case TaggingTagged, TaggingPriorityTagged:
		tagged = true
	default:
		util.Logger.WithField("key", key).WithField("tagging_mode", tagging).
			Warn("vlanmgr: invalid tagging_mode, fatal per-item error")
		return orch.Error
	}

	id := mustVLANID(vlan)
	if err := m.kernel.SetBridgeVLANFilter(port, id, tagged, true); err != nil {
		return orch.RetryLater
	}
	if m.members[vlan] == nil {
		m.members[vlan] = make(map[string]bool)
	}
	m.members[vlan][port] = true
	return orch.Done
}

func (m *Manager) removeMember(ctx context.Context, vlan, port string) orch.Outcome {
	id := mustVLANID(vlan)
	if err := m.kernel.SetBridgeVLANFilter(port, id, false, false); err != nil {
		return orch.RetryLater
	}
	if m.members[vlan] != nil {
		delete(m.members[vlan], port)
	}

	inAnyVLAN := false
	for _, ports := range m.members {
		if ports[port] {
			inAnyVLAN = true
			break
		}
	}
	if !inAnyVLAN {
		if err := m.kernel.SetLinkNoMaster(port); err != nil {
			return orch.RetryLater
		}
	}
	return orch.Done
}

// OnAdminStatusNotification reacts to a VLANSTATE notification from the
// driver adapter: the driver, not CONFIG_DB, is authoritative for a
// VLAN's oper admin-status once it exists, so this only republishes
// STATE_DB rather than re-issuing the kernel mutation createOrUpdateVLAN
// already performed from CFG.
func (m *Manager) OnAdminStatusNotification(ctx context.Context, vlan, status string) orch.Outcome {
	if ok, err := m.state.Exists(ctx, StateTableVLAN, vlan); err != nil || !ok {
		return orch.RetryLater
	}
	if err := m.state.Set(ctx, StateTableVLAN, vlan, map[string]string{"admin_status": status}); err != nil {
		return orch.RetryLater
	}
	return orch.Done
}
