// Package vrfmgr owns CFG VRF: creating/removing the kernel VRF device that
// backs each configured VRF and publishing STATE VRF_TABLE's "state=ok" once
// it exists, the precondition intfmgr's VRF-binding path waits on before
// enslaving an interface. Grounded on original_source/cfgmgr/vrfmgr.cpp's
// doTask (table-id allocation, addVrf/delVrf) and laid out the way
// pkg/intfmgr structures its own single-table Manager/Engine/apply.
package vrfmgr

import (
	"context"
	"fmt"

	"github.com/newtron-network/orchcore/pkg/kernel"
	"github.com/newtron-network/orchcore/pkg/orch"
	"github.com/newtron-network/orchcore/pkg/store"
)

const (
	Table      = "VRF"
	StateTable = "VRF_TABLE"

	// baseTableID is the first kernel routing-table id handed to a VRF
	// device; SONiC's vrfmgr reserves the low ids for the default/management
	// tables and starts VRF allocation above them.
	baseTableID = 1001
)

// Manager owns CFG VRF: kernel VRF-device lifecycle plus VRF_TABLE state
// publication.
type Manager struct {
	cfg    *store.Gateway
	state  *store.Gateway
	kernel kernel.Adapter

	nextTableID uint32
	tableIDs    map[string]uint32
}

// New creates a vrfmgr Manager.
func New(cfg, state *store.Gateway, k kernel.Adapter) *Manager {
	return &Manager{
		cfg:         cfg,
		state:       state,
		kernel:      k,
		nextTableID: baseTableID,
		tableIDs:    make(map[string]uint32),
	}
}

// Engine returns the orch.Engine for the VRF table.
func (m *Manager) Engine() *orch.Engine {
	return orch.NewEngine("vrfmgr.VRF", Table, m.cfg, m.apply)
}

func (m *Manager) apply(ctx context.Context, name string, op store.Op, fields map[string]string) orch.Outcome {
	if op == store.OpDel {
		return m.removeVRF(ctx, name)
	}
	return m.createOrUpdateVRF(ctx, name, fields)
}

func (m *Manager) createOrUpdateVRF(ctx context.Context, name string, fields map[string]string) orch.Outcome {
	if _, exists := m.tableIDs[name]; !exists {
		tableID := m.nextTableID
		m.nextTableID++
		if err := m.kernel.AddVRFDevice(name, tableID); err != nil {
			return orch.RetryLater
		}
		m.tableIDs[name] = tableID
	}

	stateFields := map[string]string{"state": "ok"}
	if l3vni := fields["l3vni"]; l3vni != "" {
		stateFields["l3vni"] = l3vni
	}
	if err := m.state.Set(ctx, StateTable, name, stateFields); err != nil {
		return orch.RetryLater
	}
	return orch.Done
}

func (m *Manager) removeVRF(ctx context.Context, name string) orch.Outcome {
	if err := m.kernel.RemoveVRFDevice(name); err != nil {
		return orch.RetryLater
	}
	delete(m.tableIDs, name)
	if err := m.state.Del(ctx, StateTable, name); err != nil {
		return orch.RetryLater
	}
	return orch.Done
}

// TableID returns the kernel routing-table id allocated to an active VRF,
// for components (routesync) that need to map a table id observed in a
// kernel route back to a VRF name.
func (m *Manager) TableID(name string) (uint32, bool) {
	id, ok := m.tableIDs[name]
	return id, ok
}

// Name reverse-looks-up a VRF name from a kernel routing-table id.
func (m *Manager) Name(tableID uint32) (string, error) {
	for name, id := range m.tableIDs {
		if id == tableID {
			return name, nil
		}
	}
	return "", fmt.Errorf("vrfmgr: no VRF bound to table id %d", tableID)
}
