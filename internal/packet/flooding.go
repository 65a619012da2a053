package packet

import "github.com/rift/core/internal/rift"

// HeaderWithLifetime pairs a TIEHeader with its remaining lifetime, the unit
// carried in TIDE and TIRE entries (spec §4.4).
type HeaderWithLifetime struct {
	Header            rift.TIEHeader
	RemainingLifetime uint32
}

// TidePacket is the TIDE body (spec §4.4): a [start_range, end_range] window
// plus the sorted headers covering it.
type TidePacket struct {
	StartRange rift.TIEID
	EndRange   rift.TIEID
	Headers    []HeaderWithLifetime
}

// TirePacket is the TIRE body (spec §4.4): a request/ack vector of headers.
type TirePacket struct {
	Headers []HeaderWithLifetime
}

// TiePacket is a single TIE (spec §3, §4.4): a header plus an opaque element
// payload. The element content is outside this spec's scope (route/prefix
// information bodies); it is carried as opaque bytes, with HasContent
// reporting the "empty content" case the flooding logic checks explicitly
// (e.g. TIDE generation step 1, TIE processing's "has content" branches).
type TiePacket struct {
	Header  rift.TIEHeader
	Element []byte
}

func (t TiePacket) HasContent() bool { return len(t.Element) > 0 }

func encodeTIEID(w *writer, id rift.TIEID) {
	w.byte(byte(id.Direction))
	w.u64(uint64(id.Originator))
	w.u32(id.Subtype)
	w.u32(id.TIENr)
}

func decodeTIEID(r *reader) rift.TIEID {
	return rift.TIEID{
		Direction:  rift.TIEDirection(r.byte()),
		Originator: rift.SystemID(r.u64()),
		Subtype:    r.u32(),
		TIENr:      r.u32(),
	}
}

func encodeTIEHeader(w *writer, h rift.TIEHeader) {
	encodeTIEID(w, h.TIEID)
	w.u32(h.SeqNr)
	w.optionalU64(h.OriginationTime)
	w.optionalU32(h.OriginationLifetime)
}

func decodeTIEHeader(r *reader) rift.TIEHeader {
	id := decodeTIEID(r)
	seq := r.u32()
	ot := r.optionalU64()
	ol := r.optionalU32()
	return rift.TIEHeader{TIEID: id, SeqNr: seq, OriginationTime: ot, OriginationLifetime: ol}
}

func encodeHeaderWithLifetime(w *writer, h HeaderWithLifetime) {
	encodeTIEHeader(w, h.Header)
	w.u32(h.RemainingLifetime)
}

func decodeHeaderWithLifetime(r *reader) HeaderWithLifetime {
	h := decodeTIEHeader(r)
	lt := r.u32()
	return HeaderWithLifetime{Header: h, RemainingLifetime: lt}
}

func encodeTide(w *writer, t TidePacket) {
	encodeTIEID(w, t.StartRange)
	encodeTIEID(w, t.EndRange)
	w.u32(uint32(len(t.Headers)))
	for _, h := range t.Headers {
		encodeHeaderWithLifetime(w, h)
	}
}

func decodeTide(r *reader) TidePacket {
	var t TidePacket
	t.StartRange = decodeTIEID(r)
	t.EndRange = decodeTIEID(r)
	n := r.u32()
	t.Headers = make([]HeaderWithLifetime, 0, n)
	for i := uint32(0); i < n; i++ {
		t.Headers = append(t.Headers, decodeHeaderWithLifetime(r))
	}
	return t
}

func encodeTire(w *writer, t TirePacket) {
	w.u32(uint32(len(t.Headers)))
	for _, h := range t.Headers {
		encodeHeaderWithLifetime(w, h)
	}
}

func decodeTire(r *reader) TirePacket {
	var t TirePacket
	n := r.u32()
	t.Headers = make([]HeaderWithLifetime, 0, n)
	for i := uint32(0); i < n; i++ {
		t.Headers = append(t.Headers, decodeHeaderWithLifetime(r))
	}
	return t
}

func encodeTie(w *writer, t TiePacket) {
	encodeTIEHeader(w, t.Header)
	w.bytesField(t.Element)
}

func decodeTie(r *reader) TiePacket {
	h := decodeTIEHeader(r)
	el := r.bytesField()
	return TiePacket{Header: h, Element: el}
}

func (w *writer) optionalU64(v *uint64) {
	if v == nil {
		w.bool(false)
		return
	}
	w.bool(true)
	w.u64(*v)
}

func (r *reader) optionalU64() *uint64 {
	if !r.bool() {
		return nil
	}
	v := r.u64()
	return &v
}
