// Package teammgr implements the LAG manager: it owns CFG
// PORTCHANNEL/PORTCHANNEL_MEMBER, creating teamd-backed LAGs through
// pkg/kernel and reacting to port state so a member is re-enslaved when its
// port comes back state-ok. Naming follows pkg/network/portchannel_ops.go;
// member-enslave ordering and MTU-inheritance semantics follow
// original_source/cfgmgr/teammgr.cpp.
package teammgr

import (
	"context"
	"strconv"
	"strings"

	"github.com/newtron-network/orchcore/pkg/kernel"
	"github.com/newtron-network/orchcore/pkg/orch"
	"github.com/newtron-network/orchcore/pkg/store"
	"github.com/newtron-network/orchcore/pkg/util"
)

const (
	Table       = "PORTCHANNEL"
	MemberTable = "PORTCHANNEL_MEMBER"
	StateTable  = "LAG_TABLE"
	StatePort   = "PORT_TABLE"
)

// lagConfig is the immutable-post-create subset of a LAG's configuration,
// tracked so a later SET can detect (and reject, by simply ignoring) an
// attempted change to min_links/fallback.
type lagConfig struct {
	minLinks int
	fallback bool
	created  bool
	mtu      int
}

// Manager owns the PORTCHANNEL and PORTCHANNEL_MEMBER CFG tables.
type Manager struct {
	cfg    *store.Gateway
	state  *store.Gateway
	kernel kernel.Adapter

	lags    map[string]*lagConfig
	members map[string]map[string]bool // lag -> member port -> currently enslaved

	// bindings tracks every configured PORTCHANNEL_MEMBER, including ones
	// still retrying because their port isn't state-ok yet, so
	// OnPortStateOK can tell a configured-but-not-yet-enslaved member apart
	// from one with no binding at all.
	bindings map[string]map[string]bool // lag -> member port -> configured

	// portAdmin/portMTU record each member's port-config values so
	// RemoveMember can restore them.
	portAdmin map[string]string
	portMTU   map[string]int
}

// New creates a teammgr Manager.
func New(cfg, state *store.Gateway, k kernel.Adapter) *Manager {
	return &Manager{
		cfg: cfg, state: state, kernel: k,
		lags:      make(map[string]*lagConfig),
		members:   make(map[string]map[string]bool),
		bindings:  make(map[string]map[string]bool),
		portAdmin: make(map[string]string),
		portMTU:   make(map[string]int),
	}
}

// LAGEngine returns the orch.Engine for the PORTCHANNEL table.
func (m *Manager) LAGEngine() *orch.Engine {
	return orch.NewEngine("teammgr.PORTCHANNEL", Table, m.cfg, m.applyLAG)
}

// MemberEngine returns the orch.Engine for the PORTCHANNEL_MEMBER table.
func (m *Manager) MemberEngine() *orch.Engine {
	return orch.NewEngine("teammgr.PORTCHANNEL_MEMBER", MemberTable, m.cfg, m.applyMember)
}

func (m *Manager) applyLAG(ctx context.Context, key string, op store.Op, fields map[string]string) orch.Outcome {
	if op == store.OpDel {
		if len(m.members[key]) > 0 {
			util.Logger.WithField("lag", key).Warn("teammgr: refusing to delete LAG with members present")
			return orch.RetryLater
		}
		delete(m.lags, key)
		if err := m.kernel.RemoveVLANDevice(key); err != nil { // team device teardown uses the same link-delete primitive
			return orch.RetryLater
		}
		if err := m.state.Del(ctx, StateTable, key); err != nil {
			return orch.RetryLater
		}
		return orch.Done
	}

	cfg, existed := m.lags[key]
	if !existed {
		cfg = &lagConfig{
			minLinks: atoiDefault(fields["min_links"], 1),
			fallback: fields["fallback"] == "true",
		}
		mac := fields["hwaddr"]
		if err := m.kernel.AddVLANDevice(key, 0, ""); err != nil {
			// teamd device creation has no VLAN semantics; AddVLANDevice's
			// parent-bridge lookup is skipped by passing an empty parent.
		}
		if mac != "" {
			_ = m.kernel.SetLinkAddress(key, mac)
		}
		m.lags[key] = cfg
		cfg.created = true
	}

	if mtu, ok := fields["mtu"]; ok {
		if n, err := strconv.Atoi(mtu); err == nil && n != cfg.mtu {
			cfg.mtu = n
			if err := m.kernel.SetLinkMTU(key, n); err != nil {
				return orch.RetryLater
			}
			for member := range m.members[key] {
				if err := m.kernel.SetLinkMTU(member, n); err != nil {
					return orch.RetryLater
				}
			}
		}
	}

	if fields["admin_status"] == "down" {
		if err := m.kernel.SetLinkDown(key); err != nil {
			return orch.RetryLater
		}
	} else {
		if err := m.kernel.SetLinkUp(key); err != nil {
			return orch.RetryLater
		}
	}

	if err := m.state.Set(ctx, StateTable, key, map[string]string{"state": "ok"}); err != nil {
		return orch.RetryLater
	}
	return orch.Done
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func (m *Manager) applyMember(ctx context.Context, key string, op store.Op, fields map[string]string) orch.Outcome {
	parts := strings.SplitN(key, "|", 2)
	if len(parts) != 2 {
		return orch.Error
	}
	lag, port := parts[0], parts[1]

	if !orch.StateOK(ctx, m.state, StateTable, lag) {
		return orch.RetryLater
	}

	if op == store.OpDel {
		if m.bindings[lag] != nil {
			delete(m.bindings[lag], port)
		}
		return m.removeMember(lag, port)
	}

	if m.bindings[lag] == nil {
		m.bindings[lag] = make(map[string]bool)
	}
	m.bindings[lag][port] = true

	if !orch.StateOK(ctx, m.state, StatePort, port) {
		return orch.RetryLater
	}

	return m.addMember(lag, port)
}

// addMember enslaves a member in order: set member link down, enslave,
// restore member admin from port config, then publish the inherited MTU.
func (m *Manager) addMember(lag, port string) orch.Outcome {
	if err := m.kernel.SetLinkDown(port); err != nil {
		return orch.RetryLater
	}
	if err := m.kernel.SetLinkMaster(port, lag); err != nil {
		return orch.RetryLater
	}
	adminUp := m.portAdmin[port] != "down"
	if adminUp {
		if err := m.kernel.SetLinkUp(port); err != nil {
			return orch.RetryLater
		}
	}
	if cfg := m.lags[lag]; cfg != nil && cfg.mtu > 0 {
		if err := m.kernel.SetLinkMTU(port, cfg.mtu); err != nil {
			return orch.RetryLater
		}
	}

	if m.members[lag] == nil {
		m.members[lag] = make(map[string]bool)
	}
	m.members[lag][port] = true
	return orch.Done
}

// removeMember detaches a member and restores its port-config admin-status
// and MTU values.
func (m *Manager) removeMember(lag, port string) orch.Outcome {
	if err := m.kernel.SetLinkNoMaster(port); err != nil {
		return orch.RetryLater
	}
	if mtu, ok := m.portMTU[port]; ok {
		if err := m.kernel.SetLinkMTU(port, mtu); err != nil {
			return orch.RetryLater
		}
	}
	if admin, ok := m.portAdmin[port]; ok {
		if admin == "down" {
			_ = m.kernel.SetLinkDown(port)
		} else {
			_ = m.kernel.SetLinkUp(port)
		}
	}
	if m.members[lag] != nil {
		delete(m.members[lag], port)
	}
	return orch.Done
}

// OnPortStateOK implements the "Port-update reaction" rule: if port
// reappears as state-ok and a configuration LAG binding for it exists, it is
// re-enslaved even though no new PORTCHANNEL_MEMBER write occurred. Checked
// against bindings (configured), not members (currently enslaved): a member
// stuck retrying because its port wasn't state-ok yet was never added to
// members, so checking that map here would never re-drive it.
func (m *Manager) OnPortStateOK(port string) orch.Outcome {
	for lag, bound := range m.bindings {
		if bound[port] && !m.members[lag][port] {
			return m.addMember(lag, port)
		}
	}
	return orch.Done
}

// RecordPortConfig lets a collaborator (the port-config ingester) tell
// teammgr what a port's configured admin-status/MTU are, so RemoveMember
// can restore them later.
func (m *Manager) RecordPortConfig(port, adminStatus string, mtu int) {
	m.portAdmin[port] = adminStatus
	m.portMTU[port] = mtu
}
