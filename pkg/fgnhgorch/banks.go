package fgnhgorch

import (
	"sort"

	"github.com/newtron-network/orchcore/pkg/asic"
	"github.com/newtron-network/orchcore/pkg/model"
)

// computeBankRanges partitions [0, bktSize) into len(bankSizes) contiguous
// ranges, sized proportionally to each bank's membership count. Matches
// calculateBankHashBucketStartIndices: the per-member base share is
// bktSize/total, the buckets that base leaves over (extra_buckets =
// bktSize%total) are split evenly *across banks* first
// (extra_buckets/num_banks per bank), and only the banks-remainder left
// after that (extra_buckets%num_banks) is handed out one bucket per bank,
// in bank order. bankSizes is indexed by bank number.
func computeBankRanges(bktSize int, bankSizes []int) []model.BankRange {
	total := 0
	for _, n := range bankSizes {
		total += n
	}
	ranges := make([]model.BankRange, len(bankSizes))
	if total == 0 || bktSize == 0 {
		return ranges
	}

	baseShare := bktSize / total
	extraBuckets := bktSize % total
	numBanks := len(bankSizes)
	splitAmongBanks := extraBuckets / numBanks
	bankRemainder := extraBuckets % numBanks

	start := 0
	for b, n := range bankSizes {
		share := baseShare*n + splitAmongBanks
		if b < bankRemainder {
			share++
		}
		ranges[b] = model.BankRange{Start: start, End: start + share}
		start += share
	}
	return ranges
}

// sortedKeys returns m's keys in sorted order, for deterministic round-robin
// assignment.
func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// fairShare returns, for a bank of rangeSize buckets split across liveCount
// members, the (base, extra) pair from : extra members hold base+1
// buckets, the rest hold base.
func fairShare(rangeSize, liveCount int) (base, extra int) {
	if liveCount == 0 {
		return 0, 0
	}
	return rangeSize / liveCount, rangeSize % liveCount
}

// bucketWrite is one pending driver write: bucket i should point at nh.
type bucketWrite struct {
	bucket int
	nh     string
}

// applyWrites pushes writes through the driver one at a time, never a bulk
// re-program, updating route's in-memory bucket tables and the syncd-map
// on success, and persisting to the warm-restart row.
func (o *Orch) applyWrites(route *model.FGRoute, groupID string, writes []bucketWrite, nhID func(nh string) (string, error)) error {
	if len(writes) == 0 {
		return nil
	}
	attrs := make([]asic.FgNhgMemberAttr, 0, len(writes))
	resolved := make([]string, 0, len(writes))
	for _, w := range writes {
		id, err := nhID(w.nh)
		if err != nil {
			return err
		}
		attrs = append(attrs, asic.FgNhgMemberAttr{Bucket: w.bucket, NextHopID: id})
		resolved = append(resolved, w.nh)
	}
	memberIDs, err := o.adapter.SetFgNhgMembers(groupID, attrs)
	if err != nil {
		return err
	}
	for i, w := range writes {
		route.BucketMemberIDs[w.bucket] = memberIDs[i]
		route.BucketNextHops[w.bucket] = model.NextHopKey{IP: resolved[i]}
		o.persistBucket(route.Prefix, w.bucket, resolved[i])
	}
	return nil
}

// removeFromSyncdMap drops bucket i from whichever member currently holds it
// within bank.
func removeFromSyncdMap(route *model.FGRoute, bank int, bucket int) {
	byNh := route.SyncdFgnhgMap[bank]
	for nh, buckets := range byNh {
		for idx, b := range buckets {
			if b == bucket {
				byNh[nh] = append(buckets[:idx], buckets[idx+1:]...)
				if len(byNh[nh]) == 0 {
					delete(byNh, nh)
				}
				return
			}
		}
	}
}

func addToSyncdMap(route *model.FGRoute, bank int, nh string, bucket int) {
	if route.SyncdFgnhgMap[bank] == nil {
		route.SyncdFgnhgMap[bank] = make(map[string][]int)
	}
	route.SyncdFgnhgMap[bank][nh] = append(route.SyncdFgnhgMap[bank][nh], bucket)
}

// rewriteActiveBank handles a bank that remains active: given that bank,
// bring its bucket assignment to a fair-share partition of liveNhs,
// preferring to pair 1-for-1 deletions with additions before falling back to
// round-robin redistribution / donor stealing.
func (o *Orch) rewriteActiveBank(route *model.FGRoute, bank int, rng model.BankRange, liveNhs map[string]bool, toAdd, toDel map[string]bool, nhID func(string) (string, error)) error {
	var writes []bucketWrite

	addList := sortedKeys(toAdd)
	delList := sortedKeys(toDel)

	// Pairing: hand a deleted member's buckets directly to an added member,
	// one bucket per pairing, until one side is exhausted.
	paired := 0
	for paired < len(addList) && paired < len(delList) {
		delNh := delList[paired]
		addNh := addList[paired]
		buckets := append([]int(nil), route.SyncdFgnhgMap[bank][delNh]...)
		if len(buckets) == 0 {
			paired++
			continue
		}
		b := buckets[0]
		removeFromSyncdMap(route, bank, b)
		writes = append(writes, bucketWrite{bucket: b, nh: addNh})
		addToSyncdMap(route, bank, addNh, b)
		paired++
	}

	base, extra := fairShare(rng.Size(), len(liveNhs))
	target := func(nh string) int {
		// Deterministic "extra" assignment: the first `extra` members in
		// sorted order get base+1.
		sortedLive := sortedKeys(liveNhs)
		for i, k := range sortedLive {
			if k == nh {
				if i < extra {
					return base + 1
				}
				return base
			}
		}
		return base
	}

	// Remaining net-deleted members: redistribute their buckets round-robin
	// onto live receivers, stopping each receiver at its fair-share target.
	liveList := sortedKeys(liveNhs)
	recvIdx := 0
	for _, delNh := range delList[paired:] {
		buckets := append([]int(nil), route.SyncdFgnhgMap[bank][delNh]...)
		for _, b := range buckets {
			placed := false
			for attempts := 0; attempts < len(liveList); attempts++ {
				recv := liveList[recvIdx%len(liveList)]
				recvIdx++
				have := len(route.SyncdFgnhgMap[bank][recv])
				if have < target(recv) {
					removeFromSyncdMap(route, bank, b)
					writes = append(writes, bucketWrite{bucket: b, nh: recv})
					addToSyncdMap(route, bank, recv, b)
					placed = true
					break
				}
			}
			if !placed {
				// Every receiver already at target; leave the bucket with
				// its current (deleted) member until a later pass frees
				// room — should not occur when totals balance (I1/I2).
				break
			}
		}
	}

	// Remaining net-added members: steal buckets from donors one at a time
	// until each reaches its fair-share target, never picking a donor with
	// <= 1 bucket.
	for _, addNh := range addList[paired:] {
		need := target(addNh) - len(route.SyncdFgnhgMap[bank][addNh])
		for need > 0 {
			donor, bucket := pickDonor(route, bank, liveList, addNh)
			if donor == "" {
				break
			}
			removeFromSyncdMap(route, bank, bucket)
			writes = append(writes, bucketWrite{bucket: bucket, nh: addNh})
			addToSyncdMap(route, bank, addNh, bucket)
			need--
		}
	}

	return o.applyWrites(route, route.DriverGroupID, writes, nhID)
}

// pickDonor finds a live member (other than recipient) holding more than one
// bucket in bank, and returns one of its buckets.
func pickDonor(route *model.FGRoute, bank int, liveList []string, recipient string) (string, int) {
	for _, nh := range liveList {
		if nh == recipient {
			continue
		}
		buckets := route.SyncdFgnhgMap[bank][nh]
		if len(buckets) > 1 {
			return nh, buckets[len(buckets)-1]
		}
	}
	return "", 0
}

// failoverToActive handles a bank's inactive->active transition: lay down
// the bank's entire range across newMembers round-robin.
func (o *Orch) failoverToActive(route *model.FGRoute, bank int, rng model.BankRange, members map[string]bool, nhID func(string) (string, error)) error {
	list := sortedKeys(members)
	if len(list) == 0 {
		return nil
	}
	var writes []bucketWrite
	for i := rng.Start; i < rng.End; i++ {
		nh := list[(i-rng.Start)%len(list)]
		writes = append(writes, bucketWrite{bucket: i, nh: nh})
		addToSyncdMap(route, bank, nh, i)
	}
	delete(route.InactiveToActive, bank)
	return o.applyWrites(route, route.DriverGroupID, writes, nhID)
}

// failoverToDonor implements the active->inactive and inactive->inactive
// cases: find the first bank with live members and rewrite this bank's
// range across that donor's membership round-robin.
func (o *Orch) failoverToDonor(route *model.FGRoute, bank int, rng model.BankRange, donorMembers map[int]map[string]bool, nhID func(string) (string, error)) error {
	donorBank, members := findDonorBank(donorMembers, route.InactiveToActive[bank])
	if donorBank < 0 {
		// No bank has live members anywhere: leave buckets untouched rather
		// than write a null next hop.
		return nil
	}
	list := sortedKeys(members)
	var writes []bucketWrite
	for i := rng.Start; i < rng.End; i++ {
		nh := list[(i-rng.Start)%len(list)]
		writes = append(writes, bucketWrite{bucket: i, nh: nh})
	}
	// Inactive bank ranges are not tracked in SyncdFgnhgMap (I2): only the
	// donor mapping is recorded.
	route.InactiveToActive[bank] = donorBank
	return o.applyWrites(route, route.DriverGroupID, writes, nhID)
}

// findDonorBank prefers the previously recorded donor if it still has live
// members, else scans for the first bank with any.
func findDonorBank(liveByBank map[int]map[string]bool, prevDonor int) (int, map[string]bool) {
	if members, ok := liveByBank[prevDonor]; ok && len(members) > 0 {
		return prevDonor, members
	}
	keys := make([]int, 0, len(liveByBank))
	for b := range liveByBank {
		keys = append(keys, b)
	}
	sort.Ints(keys)
	for _, b := range keys {
		if len(liveByBank[b]) > 0 {
			return b, liveByBank[b]
		}
	}
	return -1, nil
}
