package flooding

import (
	"time"

	"github.com/rift/core/internal/packet"
	"github.com/rift/core/internal/rift"
)

// Queues holds the four per-adjacency maps named in spec §4.4/§9: TIES_TX,
// TIES_ACK, TIES_REQ, TIES_RTX. They are logically disjoint — a TIEID
// belongs to at most one at a time (spec §8's queue-operation invariant) —
// enforced by always removing from the other three before inserting into
// one, the same defensive pattern as the teacher's outstandingEntries/ack
// bookkeeping in ingest/entryWriter.go.
type Queues struct {
	tx  map[rift.TIEID]rift.TIEHeader
	ack map[rift.TIEID]packet.HeaderWithLifetime
	req map[rift.TIEID]rift.TIEHeader
	rtx map[rift.TIEID]rtxEntry
}

type rtxEntry struct {
	Header   rift.TIEHeader
	Deadline time.Time
}

func NewQueues() *Queues {
	return &Queues{
		tx:  make(map[rift.TIEID]rift.TIEHeader),
		ack: make(map[rift.TIEID]packet.HeaderWithLifetime),
		req: make(map[rift.TIEID]rift.TIEHeader),
		rtx: make(map[rift.TIEID]rtxEntry),
	}
}

// removeFromAll erases id from all four queues (remove_from_all_queues;
// used by TieBeenAcked, RemoveFromAllQueues and RequestTie).
func (q *Queues) removeFromAll(id rift.TIEID) {
	delete(q.tx, id)
	delete(q.ack, id)
	delete(q.req, id)
	delete(q.rtx, id)
}

// TryToTransmitTie implements try_to_transmit_tie (spec §4.4).
func (q *Queues) TryToTransmitTie(header rift.TIEHeader, scope FloodScope) {
	if scope != nil && scope.FloodFiltered(header.TIEID) {
		return
	}
	delete(q.req, header.TIEID)
	delete(q.rtx, header.TIEID)
	if existing, ok := q.ack[header.TIEID]; ok && existing.Header.SeqNr >= header.SeqNr {
		return
	}
	delete(q.ack, header.TIEID)
	q.tx[header.TIEID] = header
}

// AckTie implements ack_tie: remove from TX/REQ/RTX, then insert into ACK.
func (q *Queues) AckTie(h packet.HeaderWithLifetime) {
	delete(q.tx, h.Header.TIEID)
	delete(q.req, h.Header.TIEID)
	delete(q.rtx, h.Header.TIEID)
	q.ack[h.Header.TIEID] = h
}

// TieBeenAcked / RemoveFromAllQueues are both "erase from all four"
// (spec §4.4 names them separately per call site; the operation is the same).
func (q *Queues) TieBeenAcked(id rift.TIEID)      { q.removeFromAll(id) }
func (q *Queues) RemoveFromAllQueues(id rift.TIEID) { q.removeFromAll(id) }

// RequestTie implements request_tie.
func (q *Queues) RequestTie(header rift.TIEHeader, scope FloodScope) {
	if scope != nil && scope.RequestFiltered(header.TIEID) {
		return
	}
	q.removeFromAll(header.TIEID)
	q.req[header.TIEID] = header
}

// ArmRetransmit moves a TX entry onto the retransmit timer, called after a
// TIE is drained onto the wire (spec §5's "TIE retransmission" note).
func (q *Queues) ArmRetransmit(header rift.TIEHeader, deadline time.Time) {
	q.rtx[header.TIEID] = rtxEntry{Header: header, Deadline: deadline}
}

// ExpireRetransmits moves every TIES_RTX entry whose deadline has passed
// back onto TIES_TX (spec §5).
func (q *Queues) ExpireRetransmits(now time.Time, scope FloodScope) {
	for id, e := range q.rtx {
		if !now.Before(e.Deadline) {
			delete(q.rtx, id)
			q.TryToTransmitTie(e.Header, scope)
		}
	}
}

// DrainTX removes and returns every queued TX header, for the driver to
// place on the wire.
func (q *Queues) DrainTX() []rift.TIEHeader {
	out := make([]rift.TIEHeader, 0, len(q.tx))
	for _, h := range q.tx {
		out = append(out, h)
	}
	q.tx = make(map[rift.TIEID]rift.TIEHeader)
	return out
}

// TX/ACK/REQ read-only accessors, used by tests and TIDE/TIRE generation.
func (q *Queues) TXLen() int  { return len(q.tx) }
func (q *Queues) ACKLen() int { return len(q.ack) }
func (q *Queues) REQLen() int { return len(q.req) }
func (q *Queues) RTXLen() int { return len(q.rtx) }

func (q *Queues) ACKEntries() []packet.HeaderWithLifetime {
	out := make([]packet.HeaderWithLifetime, 0, len(q.ack))
	for _, h := range q.ack {
		out = append(out, h)
	}
	return out
}

func (q *Queues) REQEntries() []rift.TIEHeader {
	out := make([]rift.TIEHeader, 0, len(q.req))
	for _, h := range q.req {
		out = append(out, h)
	}
	return out
}
