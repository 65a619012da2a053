package rift

// TIEHeader orders TIEs within the LSDB and across TIDE/TIRE exchange by
// (TIEID, seq_nr). OriginationTime and OriginationLifetime take no part in
// ordering or equality: two headers with the same TIEID and seq_nr compare
// equal whatever their timestamps and lifetimes (see Compare).
type TIEHeader struct {
	TIEID              TIEID
	SeqNr              uint32
	OriginationTime    *uint64 // IEEE 802.1AS timestamp, ns since epoch; nil if absent
	OriginationLifetime *uint32 // seconds; nil if absent
}

// RemainingLifetime pairs a header with the remaining lifetime carried
// alongside it in TIDE/TIRE entries (spec §4.4).
type RemainingLifetime struct {
	Header            TIEHeader
	RemainingLifetime uint32
}

// LifetimeDiff2Ignore is the tolerance below which two headers' remaining
// lifetimes are considered equal for flooding comparison purposes (spec §3,
// §8). It must be larger than any purge lifetime to avoid retransmission
// storms, per original_source/src/wrapper.rs's comment on the same constant.
const LifetimeDiff2Ignore uint32 = 400

// Compare orders two headers first by TIEID, then by seq_nr. Lifetime and
// origination time are NOT part of this ordering: spec §3/§9 treat them as
// a last-resort tie-break only, and the flooding equality used throughout
// §4.4 is Equal below, not a three-way Compare on lifetime.
func (h TIEHeader) Compare(o TIEHeader) int {
	if c := h.TIEID.Compare(o.TIEID); c != 0 {
		return c
	}
	switch {
	case h.SeqNr < o.SeqNr:
		return -1
	case h.SeqNr > o.SeqNr:
		return 1
	default:
		return 0
	}
}

func (h TIEHeader) Less(o TIEHeader) bool { return h.Compare(o) < 0 }

// EqualForFlooding reports whether two headers are equal in TIEID and seq_nr
// and their remaining lifetimes differ by less than LifetimeDiff2Ignore.
// remA/remB are each header's own remaining lifetime as carried alongside it
// (the TIEHeader itself carries no remaining-lifetime field). The TIE FSM in
// internal/flooding does not call it: TIDE/TIRE/TIE processing compares
// headers with Compare and Equal, which ignore lifetimes altogether.
func EqualForFlooding(a, b TIEHeader, remA, remB uint32) bool {
	if a.Compare(b) != 0 {
		return false
	}
	diff := int64(remA) - int64(remB)
	if diff < 0 {
		diff = -diff
	}
	return diff < int64(LifetimeDiff2Ignore)
}

// Equal reports strict equality (TIEID and seq_nr only); used when no
// remaining-lifetime context is available (e.g. comparing bare headers
// outside the lifetime-tolerant flooding comparison).
func (h TIEHeader) Equal(o TIEHeader) bool {
	return h.Compare(o) == 0
}
