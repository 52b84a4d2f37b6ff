package model

// Port represents a physical front-panel port. It is created by an external
// port-config ingester and mutated only by kernel link events thereafter;
// orchestrators never originate a Port, they react to one.
type Port struct {
	Name        string `json:"name"` // e.g. "Ethernet0"
	AdminStatus string `json:"admin_status"`
	OperStatus  string `json:"oper_status"`
	MTU         int    `json:"mtu"`
}

// IsStateOK reports whether the port is usable as a LAG member or FgNhg
// next-hop egress: administratively up and the kernel link is up.
func (p *Port) IsStateOK() bool {
	return p.AdminStatus == "up" && p.OperStatus == "up"
}
