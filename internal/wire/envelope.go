// Package wire implements the outer and TIE-origin security envelopes
// (spec §4.1): bit-exact framing, nonce/packet-number discipline, and
// fingerprint validation. It treats the ProtocolPacket body as an opaque
// byte slice produced by internal/packet; grounded on the teacher's
// length-prefixed binary block idiom in ingest/api.go
// (StreamConfiguration.Write/Read) and fixed-header encode/decode in
// ingest/entry/entry.go.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/rift/core/internal/keychain"
	"github.com/rift/core/internal/rift"
)

// Magic is the required first two bytes of every outer envelope.
const Magic uint16 = 0xA1F7

// RemainingTIELifetimeSentinel marks "no TIE-origin envelope follows".
const RemainingTIELifetimeSentinel uint32 = 0xFFFFFFFF

// ProtocolMajorVersion is the implementation's outer-envelope major version.
const ProtocolMajorVersion uint8 = 1

var (
	ErrNotMagical           = errors.New("wire: bad magic")
	ErrWrongMajorVersion    = errors.New("wire: wrong major version")
	ErrOutOfRange           = errors.New("wire: buffer truncated")
	ErrInvalidOuterEnvelope = errors.New("wire: outer envelope fingerprint mismatch")
	ErrInvalidTIEEnvelope   = errors.New("wire: TIE-origin envelope fingerprint mismatch")
)

// OuterHeader is the outer security envelope header (spec §4.1, §6).
type OuterHeader struct {
	PacketNumber        rift.PacketNumber
	MajorVersion        uint8
	OuterKeyID          rift.KeyID
	Fingerprint         []byte
	WeakNonceLocal      uint16
	WeakNonceRemote     uint16
	RemainingTIELifetime *uint32 // nil means the sentinel: no TIE-origin envelope
}

// TIEOriginHeader is the optional TIE-origin security envelope (spec §4.1).
type TIEOriginHeader struct {
	TIEOriginKeyID uint32 // low 24 bits significant
	Fingerprint    []byte
}

// Parsed is the result of parsing one sealed datagram.
type Parsed struct {
	Outer   OuterHeader
	TIE     *TIEOriginHeader
	Payload []byte // the raw ProtocolPacket bytes, still opaque here
}

// ParseAndValidate implements spec §4.1's parse_and_validate: decode the
// outer (and optional TIE-origin) envelope, check magic/version, and verify
// the fingerprint(s) against keystore. It does not decode the
// ProtocolPacket payload itself (that is internal/packet's job).
func ParseAndValidate(b []byte, store *keychain.Store) (Parsed, error) {
	outer, rest, err := parseOuterHeader(b)
	if err != nil {
		return Parsed{}, err
	}

	var tieHdr *TIEOriginHeader
	payload := rest
	if outer.RemainingTIELifetime != nil {
		th, rest2, err := parseTIEOriginHeader(rest)
		if err != nil {
			return Parsed{}, err
		}
		tieHdr = &th
		payload = rest2
	}

	if err := verifyFingerprints(outer, tieHdr, payload, store); err != nil {
		return Parsed{}, err
	}

	return Parsed{Outer: outer, TIE: tieHdr, Payload: payload}, nil
}

func parseOuterHeader(b []byte) (OuterHeader, []byte, error) {
	if len(b) < 8 {
		return OuterHeader{}, nil, ErrOutOfRange
	}
	magic := binary.BigEndian.Uint16(b[0:2])
	if magic != Magic {
		return OuterHeader{}, nil, ErrNotMagical
	}
	pn := binary.BigEndian.Uint16(b[2:4])
	// b[4] reserved
	major := b[5]
	if major != ProtocolMajorVersion {
		return OuterHeader{}, nil, ErrWrongMajorVersion
	}
	keyID := b[6]
	fplen4 := int(b[7])
	fpLen := fplen4 * 4
	fpEnd := 8 + fpLen
	if fpEnd+8 > len(b) {
		return OuterHeader{}, nil, ErrOutOfRange
	}
	fp := append([]byte(nil), b[8:fpEnd]...)
	nonceLocal := binary.BigEndian.Uint16(b[fpEnd : fpEnd+2])
	nonceRemote := binary.BigEndian.Uint16(b[fpEnd+2 : fpEnd+4])
	lifetime := binary.BigEndian.Uint32(b[fpEnd+4 : fpEnd+8])

	var lifetimePtr *uint32
	if lifetime != RemainingTIELifetimeSentinel {
		l := lifetime
		lifetimePtr = &l
	}

	hdr := OuterHeader{
		PacketNumber:         rift.NewPacketNumber(pn),
		MajorVersion:         major,
		OuterKeyID:           rift.NewKeyID(uint32(keyID)),
		Fingerprint:          fp,
		WeakNonceLocal:       nonceLocal,
		WeakNonceRemote:      nonceRemote,
		RemainingTIELifetime: lifetimePtr,
	}
	return hdr, b[fpEnd+8:], nil
}

func parseTIEOriginHeader(b []byte) (TIEOriginHeader, []byte, error) {
	if len(b) < 4 {
		return TIEOriginHeader{}, nil, ErrOutOfRange
	}
	keyID := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	fpLen := int(b[3]) * 4
	fpEnd := 4 + fpLen
	if fpEnd > len(b) {
		return TIEOriginHeader{}, nil, ErrOutOfRange
	}
	fp := append([]byte(nil), b[4:fpEnd]...)
	return TIEOriginHeader{TIEOriginKeyID: keyID, Fingerprint: fp}, b[fpEnd:], nil
}

// TIEOriginInput carries the TIE-origin fields needed to seal or validate a
// packet that carries a TIE-origin envelope (spec §4.1's
// "[tie_origin_first_four_bytes ‖ tie_origin_fingerprint]?" fingerprint
// input).
type TIEOriginInput struct {
	Header  TIEOriginHeader
	Key     keychain.Key
	HasKey  bool
}

func verifyFingerprints(outer OuterHeader, tie *TIEOriginHeader, payload []byte, store *keychain.Store) error {
	key, hasKey := store.Lookup(outer.OuterKeyID)
	if !outer.OuterKeyID.Valid() {
		// No key configured: validation trivially succeeds (spec §4.1).
	} else if !hasKey {
		return ErrInvalidOuterEnvelope
	} else {
		lifetime := RemainingTIELifetimeSentinel
		if outer.RemainingTIELifetime != nil {
			lifetime = *outer.RemainingTIELifetime
		}
		want, err := computeOuterFingerprint(key, false, outer.WeakNonceLocal, outer.WeakNonceRemote, lifetime, tie, payload)
		if err != nil {
			return err
		}
		if !fingerprintsEqual(want, outer.Fingerprint) {
			return ErrInvalidOuterEnvelope
		}
	}

	if tie != nil {
		tkey, ok := store.Lookup(rift.NewKeyID(tie.TIEOriginKeyID))
		if rift.NewKeyID(tie.TIEOriginKeyID).Valid() {
			if !ok {
				return ErrInvalidTIEEnvelope
			}
			want, err := keychain.ComputeFingerprint(tkey, false, payload)
			if err != nil {
				return err
			}
			if !fingerprintsEqual(want, tie.Fingerprint) {
				return ErrInvalidTIEEnvelope
			}
		}
	}
	return nil
}

func fingerprintsEqual(a, b []byte) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// computeOuterFingerprint builds the payload sequence spec §4.1 describes
// for the outer fingerprint: secret ‖ local_nonce ‖ remote_nonce ‖
// lifetime_u32 ‖ [tie_origin_first_four_bytes ‖ tie_origin_fingerprint]? ‖
// payload, then applies the key's hash via keychain.ComputeFingerprint
// (which itself prefixes the secret).
func computeOuterFingerprint(key keychain.Key, sealing bool, nonceLocal, nonceRemote uint16, lifetime uint32, tie *TIEOriginHeader, payload []byte) ([]byte, error) {
	var nonceBuf [4]byte
	binary.BigEndian.PutUint16(nonceBuf[0:2], nonceLocal)
	binary.BigEndian.PutUint16(nonceBuf[2:4], nonceRemote)

	var lifetimeBuf [4]byte
	binary.BigEndian.PutUint32(lifetimeBuf[:], lifetime)

	parts := [][]byte{nonceBuf[:], lifetimeBuf[:]}
	if tie != nil {
		// tie_origin_first_four_bytes: the 3 key-id bytes plus the
		// fingerprint_length byte, matching encodeTIEOriginHeader's wire
		// layout bit-for-bit so this hashes the same bytes a reference peer
		// sees on the wire.
		var tieBuf [4]byte
		tieBuf[0] = byte(tie.TIEOriginKeyID >> 16)
		tieBuf[1] = byte(tie.TIEOriginKeyID >> 8)
		tieBuf[2] = byte(tie.TIEOriginKeyID)
		tieBuf[3] = byte(keychain.RoundUp4(len(tie.Fingerprint)) / 4)
		parts = append(parts, tieBuf[:], tie.Fingerprint)
	}
	parts = append(parts, payload)
	return keychain.ComputeFingerprint(key, sealing, parts...)
}
