package model

// Nhg is a syncd next-hop group's in-memory record: the user-intent key, the
// driver object it currently resolves to, and the bookkeeping NhgOrch needs
// to decide whether an update may change that driver id. Grounded on
// original_source/orchagent/nhgorch.h's NhgEntry/NextHopGroup pairing,
// generalized into a single value type (components hold keys, not pointers,
// to avoid cyclic references between Nhg and its members).
type Nhg struct {
	Key       NextHopGroupKey `json:"key"`
	DriverID  string          `json:"driver_id"`
	Temp      bool            `json:"temp"`
	RefCount  int             `json:"ref_count"`

	// TempNextHop is the single member a temporary group currently aliases,
	// set only when Temp is true.
	TempNextHop NextHopKey `json:"temp_next_hop,omitempty"`
}

// IsSingleMember reports whether the driver object backing this group is a
// direct next-hop alias rather than a multi-member SAI group — true for
// both genuinely single-member groups and temporary groups.
func (g *Nhg) IsSingleMember() bool {
	return g.Temp || g.Key.IsSingleMember()
}

// CanChangeDriverID reports whether an update that would change this
// group's driver id is currently safe: either nothing references it yet, or
// it is a temporary group (external holders poll NhgOrch for id changes
// rather than caching them, so a temporary group's id is always safe to
// change).
func (g *Nhg) CanChangeDriverID() bool {
	return g.Temp || g.RefCount == 0
}
