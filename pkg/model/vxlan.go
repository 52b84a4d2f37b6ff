package model

// VTEP represents a VXLAN tunnel endpoint (CFG table VXLAN_TUNNEL).
type VTEP struct {
	Name     string `json:"name"`      // e.g., "vtep1"
	SourceIP string `json:"source_ip"` // loopback IP used as the tunnel source
}

// VXLANTunnelMap represents a VNI-to-VLAN mapping (CFG table VXLAN_TUNNEL_MAP),
// the L2VNI binding consumed when a VLAN is created with an L2VNI option.
type VXLANTunnelMap struct {
	VTEP string `json:"vtep"` // parent VTEP name
	VNI  int    `json:"vni"`
	VLAN int    `json:"vlan"` // VLAN id this VNI maps to
}

// EVPNNVO represents the EVPN network-virtualization-overlay binding
// (CFG table VXLAN_EVPN_NVO), associating a VTEP with the EVPN control plane.
type EVPNNVO struct {
	Name       string `json:"name"`
	SourceVTEP string `json:"source_vtep"`
}

// NewVTEP creates a new VTEP with defaults.
func NewVTEP(name, sourceIP string) *VTEP {
	return &VTEP{Name: name, SourceIP: sourceIP}
}
