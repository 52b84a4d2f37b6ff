// Package intfmgr implements the Interface manager: it owns
// CFG INTERFACE/VLAN_INTERFACE/PORTCHANNEL_INTERFACE-shaped IP-binding
// tables (general attrs + VRF binding keyed by alias, address binding keyed
// by alias|prefix), mutating VRF membership and addresses through
// pkg/kernel. Naming follows pkg/network/interface_ops.go; key-shape and
// precondition semantics follow original_source/cfgmgr/intfmgr.cpp.
package intfmgr

import (
	"context"
	"strings"

	"github.com/newtron-network/orchcore/pkg/kernel"
	"github.com/newtron-network/orchcore/pkg/orch"
	"github.com/newtron-network/orchcore/pkg/store"
)

const (
	Table          = "INTERFACE"
	StateTableIntf = "INTERFACE_TABLE"
	StateTableVRF  = "VRF_TABLE"
)

// Manager owns the INTERFACE CFG table's two key shapes.
type Manager struct {
	cfg    *store.Gateway
	state  *store.Gateway
	kernel kernel.Adapter
}

// New creates an intfmgr Manager.
func New(cfg, state *store.Gateway, k kernel.Adapter) *Manager {
	return &Manager{cfg: cfg, state: state, kernel: k}
}

// Engine returns the orch.Engine for the INTERFACE table.
func (m *Manager) Engine() *orch.Engine {
	return orch.NewEngine("intfmgr.INTERFACE", Table, m.cfg, m.apply)
}

// apply handles both key shapes: "alias" (general attrs / VRF binding) and
// "alias|prefix" (address binding).
func (m *Manager) apply(ctx context.Context, key string, op store.Op, fields map[string]string) orch.Outcome {
	parts := strings.SplitN(key, "|", 2)
	alias := parts[0]

	if !orch.StateOK(ctx, m.state, "PORT_TABLE", alias) && !orch.StateOK(ctx, m.state, "LAG_TABLE", alias) &&
		!orch.StateOK(ctx, m.state, "VLAN_TABLE", alias) {
		return orch.RetryLater
	}

	if len(parts) == 2 {
		return m.applyAddress(ctx, alias, parts[1], op)
	}
	return m.applyAttrs(ctx, alias, op, fields)
}

func (m *Manager) applyAttrs(ctx context.Context, alias string, op store.Op, fields map[string]string) orch.Outcome {
	if op == store.OpDel {
		if err := m.kernel.SetLinkNoMaster(alias); err != nil {
			return orch.RetryLater
		}
		if err := m.state.Del(ctx, StateTableIntf, alias); err != nil {
			return orch.RetryLater
		}
		return orch.Done
	}

	vrf := fields["vrf_name"]
	if vrf != "" {
		if !orch.StateOK(ctx, m.state, StateTableVRF, vrf) {
			return orch.RetryLater
		}
		if err := m.kernel.SetLinkMaster(alias, vrf); err != nil {
			return orch.RetryLater
		}
	} else {
		if err := m.kernel.SetLinkNoMaster(alias); err != nil {
			return orch.RetryLater
		}
	}

	if err := m.state.Set(ctx, StateTableIntf, alias, map[string]string{"vrf_name": vrf, "state": "ok"}); err != nil {
		return orch.RetryLater
	}
	return orch.Done
}

func (m *Manager) applyAddress(ctx context.Context, alias, prefix string, op store.Op) orch.Outcome {
	// Binding applied only once both the interface and its VRF are
	// state-ok; the VRF-less case is covered by the "alias" precondition
	// check above having already passed.
	if !orch.StateOK(ctx, m.state, StateTableIntf, alias) {
		return orch.RetryLater
	}

	if op == store.OpDel {
		if err := m.kernel.DelAddress(alias, prefix); err != nil {
			return orch.RetryLater
		}
		if err := m.state.Del(ctx, StateTableIntf, alias+"|"+prefix); err != nil {
			return orch.RetryLater
		}
		return orch.Done
	}

	if err := m.kernel.AddAddress(alias, prefix); err != nil {
		return orch.RetryLater
	}
	family := "IPv4"
	if strings.Contains(prefix, ":") {
		family = "IPv6"
	}
	if err := m.state.Set(ctx, StateTableIntf, alias+"|"+prefix, map[string]string{
		"family": family,
		"scope":  "global",
	}); err != nil {
		return orch.RetryLater
	}
	return orch.Done
}
