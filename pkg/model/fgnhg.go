package model

// FgNhgMember is one configured next-hop of a fine-grained next-hop group:
// its owning bank and the kernel link it resolves through.
type FgNhgMember struct {
	NextHop        NextHopKey `json:"next_hop"`
	Bank           int        `json:"bank"`
	Link           string     `json:"link"` // egress alias, e.g. a port or LAG
	LinkOperState  string     `json:"link_oper_state"`
}

// IsLive reports whether this member currently counts toward its bank's
// live membership: its link must be oper-up.
func (m FgNhgMember) IsLive() bool {
	return m.LinkOperState == "up"
}

// BankRange is a bank's contiguous, half-open slice of the bucket index
// space: buckets [Start, End) belong to this bank. Bank ranges are computed
// proportionally to bank membership size, with any remainder rotated +1
// across banks; their union covers [0, real_bucket_size) and they never
// overlap.
type BankRange struct {
	Start int `json:"start"`
	End   int `json:"end"` // exclusive
}

// Size returns the number of buckets this range spans.
func (r BankRange) Size() int {
	return r.End - r.Start
}

// FgNhg is a fine-grained ECMP next-hop group's persistent configuration and
// bank partition: configured/real bucket-table size, the member set keyed by
// next-hop, per-bank ranges, and the fail-over donor map. It owns the
// algorithmic state described by the bank/bucket consistent-hashing design;
// FGRoute (below) owns the per-route bucket assignment derived from it.
type FgNhg struct {
	Name               string                `json:"name"`
	ConfiguredBktSize  int                   `json:"configured_bucket_size"`
	RealBktSize        int                   `json:"real_bucket_size"`
	Members            map[string]FgNhgMember `json:"members"` // keyed by NextHopKey.String()
	BankRanges         []BankRange           `json:"bank_ranges"`
	InactiveToActive   map[int]int           `json:"inactive_to_active_map"`
	Prefixes           map[string]bool       `json:"prefixes"` // route prefixes bound to this group
}

// NewFgNhg creates an FgNhg with an empty member set and bank map, ready for
// its first bank-range computation.
func NewFgNhg(name string, configuredBktSize int) *FgNhg {
	return &FgNhg{
		Name:              name,
		ConfiguredBktSize: configuredBktSize,
		Members:           make(map[string]FgNhgMember),
		InactiveToActive:  make(map[int]int),
		Prefixes:          make(map[string]bool),
	}
}

// BankCount returns the number of banks currently partitioning the bucket
// range.
func (g *FgNhg) BankCount() int {
	return len(g.BankRanges)
}

// MembersInBank returns the members assigned to bank b, in map-iteration
// order (callers needing a stable order must sort by NextHopKey).
func (g *FgNhg) MembersInBank(b int) []FgNhgMember {
	var out []FgNhgMember
	for _, m := range g.Members {
		if m.Bank == b {
			out = append(out, m)
		}
	}
	return out
}

// LiveMembersInBank returns the oper-up members assigned to bank b.
func (g *FgNhg) LiveMembersInBank(b int) []FgNhgMember {
	var out []FgNhgMember
	for _, m := range g.Members {
		if m.Bank == b && m.IsLive() {
			out = append(out, m)
		}
	}
	return out
}

// FGRoute is the per-route view of an FgNhg binding: the driver's next-hop
// group id, the driver member id occupying each bucket position, the set of
// next-hops currently considered active for this route, the synced
// per-bank bucket assignment, and the fail-over donor map inherited (and
// possibly extended) from the owning FgNhg at bind time.
type FGRoute struct {
	Prefix            string             `json:"prefix"`
	GroupName         string             `json:"group_name"` // owning FgNhg.Name
	DriverGroupID     string             `json:"driver_group_id"`
	BucketMemberIDs   []string           `json:"bucket_member_ids"` // index = bucket, value = driver member id
	BucketNextHops    []NextHopKey       `json:"bucket_next_hops"`  // index = bucket, value = assigned next-hop
	ActiveNextHops    map[string]bool    `json:"active_next_hops"`
	SyncdFgnhgMap     map[int]map[string][]int `json:"syncd_fgnhg_map"` // bank -> nh -> bucket indices
	InactiveToActive  map[int]int        `json:"inactive_to_active_map"`

	// BankActive records each bank's classification from the previous
	// membership-change pass (), so the next pass can tell
	// inactive-to-active from active-to-inactive apart. Not persisted
	// across warm-restart: it is rebuilt from SyncdFgnhgMap/InactiveToActive
	// on recovery (a bank is active iff it holds bucket writes of its own).
	BankActive map[int]bool `json:"-"`
}

// NewFGRoute creates an FGRoute with a bucket table sized for bktSize
// buckets, all initially unassigned.
func NewFGRoute(prefix, groupName string, bktSize int) *FGRoute {
	return &FGRoute{
		Prefix:           prefix,
		GroupName:        groupName,
		BucketMemberIDs:  make([]string, bktSize),
		BucketNextHops:   make([]NextHopKey, bktSize),
		ActiveNextHops:   make(map[string]bool),
		SyncdFgnhgMap:    make(map[int]map[string][]int),
		InactiveToActive: make(map[int]int),
		BankActive:       make(map[int]bool),
	}
}

// BucketsOf returns the bucket indices currently assigned to nh within bank
// b, or nil if nh holds none.
func (r *FGRoute) BucketsOf(bank int, nh NextHopKey) []int {
	if byNh, ok := r.SyncdFgnhgMap[bank]; ok {
		return byNh[nh.String()]
	}
	return nil
}
