package flooding

import (
	"errors"
	"time"

	"github.com/rift/core/internal/packet"
	"github.com/rift/core/internal/riftlog"
	"github.com/rift/core/internal/rift"
)

// ErrAdjacencyReset is returned by ProcessTide when the peer's headers are
// not monotonically non-decreasing by TIEID (spec §4.4/§7/§8): the caller
// (the node driver) must drop the adjacency to OneWay via the normal LIE
// events, exactly as any other CLEANUP path.
var ErrAdjacencyReset = errors.New("flooding: tide headers out of order, adjacency reset")

// DefaultTIRDEsPerPkt bounds how many headers one TIDE packet carries, chosen
// so the resulting PDU fits under a link's MTU (spec §4.4 step 3). The node
// driver passes it as GenerateTide's chunkSize on every interface; the value
// matches the RIFT draft's suggested value for a standard Ethernet MTU.
const DefaultTIRDEsPerPkt = 50

// FSM is one adjacency's TIE flooding state machine: it runs only while
// the adjacency's LIE FSM is in ThreeWay (spec §4.4), operating on the
// shared node-wide LSDB and its own four queues.
type FSM struct {
	lsdb   *LSDB
	queues *Queues
	scope  FloodScope
	self   rift.SystemID

	retransmitInterval time.Duration
	now                func() time.Time

	log *riftlog.Logger
}

type Option func(*FSM)

func WithFloodScope(s FloodScope) Option           { return func(f *FSM) { f.scope = s } }
func WithRetransmitInterval(d time.Duration) Option { return func(f *FSM) { f.retransmitInterval = d } }
func WithClock(now func() time.Time) Option        { return func(f *FSM) { f.now = now } }
func WithLogger(l *riftlog.Logger) Option          { return func(f *FSM) { f.log = l } }

func New(lsdb *LSDB, self rift.SystemID, opts ...Option) *FSM {
	f := &FSM{
		lsdb:               lsdb,
		queues:             NewQueues(),
		scope:              DefaultFloodScope,
		self:               self,
		retransmitInterval: 2 * time.Second,
		now:                time.Now,
		log:                riftlog.NewDiscard(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *FSM) Queues() *Queues { return f.queues }

// GenerateTide implements TIDE generation (spec §4.4): chunk the filtered,
// sorted LSDB into TIDE packets of at most chunkSize headers each
// (DefaultTIRDEsPerPkt when chunkSize <= 0) covering the full TIEID range.
func (f *FSM) GenerateTide(remainingLifetime func(rift.TIEID) uint32, chunkSize int) []packet.TidePacket {
	if chunkSize <= 0 {
		chunkSize = DefaultTIRDEsPerPkt
	}
	headers := f.lsdb.SortedHeaders(remainingLifetime, f.scope)

	if len(headers) == 0 {
		return []packet.TidePacket{{StartRange: rift.MinTIEID, EndRange: rift.MaxTIEID}}
	}

	var out []packet.TidePacket
	for i := 0; i < len(headers); i += chunkSize {
		end := i + chunkSize
		if end > len(headers) {
			end = len(headers)
		}
		chunk := headers[i:end]
		start := chunk[0].Header.TIEID
		if i == 0 {
			start = rift.MinTIEID
		}
		last := chunk[len(chunk)-1].Header.TIEID
		if end == len(headers) {
			last = rift.MaxTIEID
		}
		out = append(out, packet.TidePacket{StartRange: start, EndRange: last, Headers: append([]packet.HeaderWithLifetime(nil), chunk...)})
	}
	return out
}

// ProcessTide implements TIDE processing (spec §4.4). LASTPROCESSED is
// tracked as a TIEID cursor (the draft initializes it from tide.start_range,
// itself a TIEID, and advances it per header).
func (f *FSM) ProcessTide(tide packet.TidePacket, fromNorthbound bool) error {
	lastProcessed := tide.StartRange
	var txKeys, reqKeys, clearKeys []rift.TIEID

	appendLSDBBetween := func(lo, hi rift.TIEID, inclusiveHi bool) {
		for id := range f.lsdb.entries {
			if id.Compare(lo) <= 0 {
				continue
			}
			if inclusiveHi {
				if id.Compare(hi) > 0 {
					continue
				}
			} else if id.Compare(hi) >= 0 {
				continue
			}
			txKeys = append(txKeys, id)
		}
	}

	for _, hwl := range tide.Headers {
		header := hwl.Header
		dbTie, present := f.lsdb.Get(header.TIEID)

		if header.TIEID.Less(lastProcessed) {
			return ErrAdjacencyReset
		}

		appendLSDBBetween(lastProcessed, header.TIEID, false)
		lastProcessed = header.TIEID

		switch {
		case !present:
			if header.TIEID.Originator == f.self {
				f.bumpOwnTie(header)
			} else {
				reqKeys = append(reqKeys, header.TIEID)
			}
		case dbTie.Header.Compare(header) < 0:
			if header.TIEID.Originator == f.self {
				f.bumpOwnTie(header)
			} else if header.TIEID.Direction == rift.DirectionNorth && fromNorthbound {
				f.lsdb.Put(TIEEntry{Header: header, Content: dbTie.Content})
			} else {
				reqKeys = append(reqKeys, header.TIEID)
			}
		case dbTie.Header.Compare(header) > 0:
			txKeys = append(txKeys, dbTie.Header.TIEID)
		default:
			if dbTie.HasContent() {
				clearKeys = append(clearKeys, header.TIEID)
			} else {
				reqKeys = append(reqKeys, header.TIEID)
			}
		}
	}

	appendLSDBBetween(lastProcessed, tide.EndRange, true)

	for _, id := range txKeys {
		if e, ok := f.lsdb.Get(id); ok {
			f.queues.TryToTransmitTie(e.Header, f.scope)
		}
	}
	for _, id := range reqKeys {
		if e, ok := f.lsdb.Get(id); ok {
			f.queues.RequestTie(e.Header, f.scope)
		} else {
			f.queues.RequestTie(rift.TIEHeader{TIEID: id}, f.scope)
		}
	}
	for _, id := range clearKeys {
		f.queues.RemoveFromAllQueues(id)
	}
	return nil
}

// GenerateTire implements TIRE generation: TIES_REQ (lifetime forced to 0,
// to force reflooding) plus TIES_ACK (normal remaining lifetime).
func (f *FSM) GenerateTire() packet.TirePacket {
	var headers []packet.HeaderWithLifetime
	for _, h := range f.queues.REQEntries() {
		headers = append(headers, packet.HeaderWithLifetime{Header: h, RemainingLifetime: 0})
	}
	headers = append(headers, f.queues.ACKEntries()...)
	return packet.TirePacket{Headers: headers}
}

// ProcessTire implements TIRE processing (spec §4.4).
func (f *FSM) ProcessTire(tire packet.TirePacket) {
	var txKeys, reqKeys []rift.TIEID
	var ackKeys []packet.HeaderWithLifetime
	for _, hwl := range tire.Headers {
		dbTie, ok := f.lsdb.Get(hwl.Header.TIEID)
		if !ok {
			continue
		}
		switch {
		case dbTie.Header.Compare(hwl.Header) < 0:
			reqKeys = append(reqKeys, hwl.Header.TIEID)
		case dbTie.Header.Compare(hwl.Header) > 0:
			txKeys = append(txKeys, dbTie.Header.TIEID)
		default:
			ackKeys = append(ackKeys, hwl)
		}
	}
	for _, id := range txKeys {
		if e, ok := f.lsdb.Get(id); ok {
			f.queues.TryToTransmitTie(e.Header, f.scope)
		}
	}
	for _, id := range reqKeys {
		if e, ok := f.lsdb.Get(id); ok {
			f.queues.RequestTie(e.Header, f.scope)
		}
	}
	for _, hwl := range ackKeys {
		f.queues.TieBeenAcked(hwl.Header.TIEID)
	}
}

// ProcessTie implements TIE processing (spec §4.4): ingest a single TIE
// packet into the LSDB, deciding whether to (re)transmit or ack.
func (f *FSM) ProcessTie(tie packet.TiePacket) {
	incoming := TIEEntry{Header: tie.Header, Content: tie.Element}
	dbTie, present := f.lsdb.Get(tie.Header.TIEID)

	var txTie, ackTie *TIEEntry

	switch {
	case !present:
		if tie.Header.TIEID.Originator == f.self {
			f.bumpOwnTieShortLifetime(tie.Header)
		} else {
			f.lsdb.Put(incoming)
			ackTie = &incoming
		}
	case dbTie.Header.Equal(tie.Header):
		if dbTie.HasContent() {
			ackTie = &incoming
		} else if tie.Header.TIEID.Originator == f.self {
			f.bumpOwnTie(tie.Header)
		} else {
			f.lsdb.Put(incoming)
			ackTie = &incoming
		}
	case dbTie.Header.Compare(tie.Header) < 0:
		if tie.Header.TIEID.Originator == f.self {
			f.bumpOwnTie(tie.Header)
		} else {
			f.lsdb.Put(incoming)
			ackTie = &incoming
		}
	default: // dbTie.Header > tie.Header
		if dbTie.HasContent() {
			txTie = &dbTie
		} else {
			ackTie = &dbTie
		}
	}

	if txTie != nil {
		f.queues.TryToTransmitTie(txTie.Header, f.scope)
	}
	if ackTie != nil {
		f.queues.AckTie(packet.HeaderWithLifetime{Header: ackTie.Header, RemainingLifetime: remainingOf(ackTie.Header)})
	}
}

func remainingOf(h rift.TIEHeader) uint32 {
	if h.OriginationLifetime != nil {
		return *h.OriginationLifetime
	}
	return 0
}

// bumpOwnTie implements bump_own_tie: re-originate a self-originated TIE
// with a strictly greater seq_nr.
func (f *FSM) bumpOwnTie(remoteHeader rift.TIEHeader) {
	dbTie, ok := f.lsdb.Get(remoteHeader.TIEID)
	nextSeq := remoteHeader.SeqNr + 1
	if ok && dbTie.Header.SeqNr >= nextSeq {
		nextSeq = dbTie.Header.SeqNr + 1
	}
	h := remoteHeader
	h.SeqNr = nextSeq
	content := []byte(nil)
	if ok {
		content = dbTie.Content
	}
	f.lsdb.Put(TIEEntry{Header: h, Content: content})
	f.queues.TryToTransmitTie(h, f.scope)
}

// bumpOwnTieShortLifetime re-originates a TIE the node no longer recognizes
// (purge path: spec §4.4's TIE-processing "absent, self-originated" branch)
// with a short remaining lifetime so it ages out of peers' LSDBs quickly.
func (f *FSM) bumpOwnTieShortLifetime(remoteHeader rift.TIEHeader) {
	shortLifetime := uint32(5)
	h := remoteHeader
	h.SeqNr++
	h.OriginationLifetime = &shortLifetime
	f.lsdb.Put(TIEEntry{Header: h})
	f.queues.TryToTransmitTie(h, f.scope)
}

// ExpireRetransmits re-arms any TIES_RTX entry whose deadline has passed.
func (f *FSM) ExpireRetransmits() { f.queues.ExpireRetransmits(f.now(), f.scope) }

// DrainTX returns and clears every queued outgoing TIE header, arming each
// for retransmission.
func (f *FSM) DrainTX() []rift.TIEHeader {
	headers := f.queues.DrainTX()
	deadline := f.now().Add(f.retransmitInterval)
	for _, h := range headers {
		f.queues.ArmRetransmit(h, deadline)
	}
	return headers
}
