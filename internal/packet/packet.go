// Package packet implements the opaque ProtocolPacket body codec named in
// spec §1/§6: a thrift-style schema is treated there as an external,
// opaque codec, so this package owns a concrete (but equally opaque to its
// callers) binary encoding of the four packet variants (Lie/Tide/Tire/Tie)
// with a PacketHeader, grounded on the teacher's presence-bitmask optional
// field idiom (ingest/entry/enumerated.go) and fixed binary.Read/Write
// struct decoding (netflow/nfv5.go).
package packet

import (
	"encoding/binary"
	"errors"

	"github.com/rift/core/internal/rift"
)

// Kind tags which ProtocolPacket variant a body carries.
type Kind uint8

const (
	KindLie Kind = iota + 1
	KindTide
	KindTire
	KindTie
)

var ErrCodec = errors.New("packet: malformed body")

// PacketHeader is common to all four variants (spec §6).
type PacketHeader struct {
	MajorVersion uint8
	MinorVersion uint8
	Sender       rift.SystemID
	Level        rift.Level
}

// ProtocolPacket is the parsed/to-be-serialized packet: a header plus
// exactly one of the four body variants.
type ProtocolPacket struct {
	Header PacketHeader
	Lie    *LiePacket
	Tide   *TidePacket
	Tire   *TirePacket
	Tie    *TiePacket
}

func (p ProtocolPacket) Kind() Kind {
	switch {
	case p.Lie != nil:
		return KindLie
	case p.Tide != nil:
		return KindTide
	case p.Tire != nil:
		return KindTire
	case p.Tie != nil:
		return KindTie
	}
	return 0
}

// Encode serializes a ProtocolPacket to bytes.
func Encode(p ProtocolPacket) ([]byte, error) {
	w := newWriter()
	w.byte(byte(p.Kind()))
	encodeHeader(w, p.Header)
	switch p.Kind() {
	case KindLie:
		encodeLie(w, *p.Lie)
	case KindTide:
		encodeTide(w, *p.Tide)
	case KindTire:
		encodeTire(w, *p.Tire)
	case KindTie:
		encodeTie(w, *p.Tie)
	default:
		return nil, ErrCodec
	}
	return w.bytes(), nil
}

// Decode parses bytes produced by Encode.
func Decode(b []byte) (ProtocolPacket, error) {
	r := newReader(b)
	kind := Kind(r.byte())
	hdr := decodeHeader(r)
	var p ProtocolPacket
	p.Header = hdr
	switch kind {
	case KindLie:
		lie := decodeLie(r)
		p.Lie = &lie
	case KindTide:
		tide := decodeTide(r)
		p.Tide = &tide
	case KindTire:
		tire := decodeTire(r)
		p.Tire = &tire
	case KindTie:
		tie := decodeTie(r)
		p.Tie = &tie
	default:
		return ProtocolPacket{}, ErrCodec
	}
	if r.err != nil {
		return ProtocolPacket{}, ErrCodec
	}
	return p, nil
}

func encodeHeader(w *writer, h PacketHeader) {
	w.byte(h.MajorVersion)
	w.byte(h.MinorVersion)
	w.u64(uint64(h.Sender))
	w.optionalLevel(h.Level)
}

func decodeHeader(r *reader) PacketHeader {
	return PacketHeader{
		MajorVersion: r.byte(),
		MinorVersion: r.byte(),
		Sender:       rift.SystemID(r.u64()),
		Level:        r.optionalLevel(),
	}
}

// --- writer/reader helpers -------------------------------------------------

type writer struct {
	buf []byte
}

func newWriter() *writer { return &writer{} }

func (w *writer) bytes() []byte { return w.buf }

func (w *writer) byte(b byte) { w.buf = append(w.buf, b) }

func (w *writer) bool(b bool) {
	if b {
		w.byte(1)
	} else {
		w.byte(0)
	}
}

func (w *writer) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) bytesField(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) str(s string) { w.bytesField([]byte(s)) }

func (w *writer) optionalStr(s *string) {
	if s == nil {
		w.bool(false)
		return
	}
	w.bool(true)
	w.str(*s)
}

func (w *writer) optionalU32(v *uint32) {
	if v == nil {
		w.bool(false)
		return
	}
	w.bool(true)
	w.u32(*v)
}

func (w *writer) optionalU16(v *uint16) {
	if v == nil {
		w.bool(false)
		return
	}
	w.bool(true)
	w.u16(*v)
}

func (w *writer) optionalBool(v *bool) {
	if v == nil {
		w.bool(false)
		return
	}
	w.bool(true)
	w.bool(*v)
}

func (w *writer) optionalLevel(l rift.Level) {
	if !l.Defined() {
		w.bool(false)
		return
	}
	w.bool(true)
	w.byte(l.Value())
}

type reader struct {
	b   []byte
	pos int
	err error
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) need(n int) bool {
	if r.err != nil || r.pos+n > len(r.b) {
		if r.err == nil {
			r.err = ErrCodec
		}
		return false
	}
	return true
}

func (r *reader) byte() byte {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.pos]
	r.pos++
	return v
}

func (r *reader) bool() bool { return r.byte() != 0 }

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.b[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) bytesField() []byte {
	n := r.u32()
	if !r.need(int(n)) {
		return nil
	}
	v := append([]byte(nil), r.b[r.pos:r.pos+int(n)]...)
	r.pos += int(n)
	return v
}

func (r *reader) str() string { return string(r.bytesField()) }

func (r *reader) optionalStr() *string {
	if !r.bool() {
		return nil
	}
	s := r.str()
	return &s
}

func (r *reader) optionalU32() *uint32 {
	if !r.bool() {
		return nil
	}
	v := r.u32()
	return &v
}

func (r *reader) optionalU16() *uint16 {
	if !r.bool() {
		return nil
	}
	v := r.u16()
	return &v
}

func (r *reader) optionalBool() *bool {
	if !r.bool() {
		return nil
	}
	v := r.bool()
	return &v
}

func (r *reader) optionalLevel() rift.Level {
	if !r.bool() {
		return rift.UndefinedLevel
	}
	return rift.NewLevel(r.byte())
}
