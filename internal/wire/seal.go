package wire

import (
	"encoding/binary"

	"github.com/rift/core/internal/keychain"
)

// SealParams carries everything needed to seal one outgoing packet (spec
// §4.1's seal operation).
type SealParams struct {
	PacketNumber    uint16
	OuterKeyID      uint32 // 0 => no outer key, empty fingerprint
	OuterKey        keychain.Key
	HasOuterKey     bool
	WeakNonceLocal  uint16
	WeakNonceRemote uint16
	// RemainingTIELifetime, when non-nil, causes a TIE-origin envelope to
	// be emitted using TIEOriginKey/TIEOriginKeyID.
	RemainingTIELifetime *uint32
	TIEOriginKeyID       uint32
	TIEOriginKey         keychain.Key
	HasTIEOriginKey      bool
}

// Seal implements spec §4.1's seal operation: build the outer envelope (and
// optional TIE-origin envelope) around payload, computing fingerprints from
// the configured keys. When no key is configured the fingerprint is empty
// and validation will later return true for KeyID=Invalid.
func Seal(p SealParams, payload []byte) ([]byte, error) {
	lifetime := RemainingTIELifetimeSentinel
	if p.RemainingTIELifetime != nil {
		lifetime = *p.RemainingTIELifetime
	}

	var tieHdr *TIEOriginHeader
	var tieBlock []byte
	if p.RemainingTIELifetime != nil {
		var fp []byte
		if p.HasTIEOriginKey {
			var err error
			fp, err = keychain.ComputeFingerprint(p.TIEOriginKey, true, payload)
			if err != nil {
				return nil, err
			}
		}
		th := TIEOriginHeader{TIEOriginKeyID: p.TIEOriginKeyID & 0xFFFFFF, Fingerprint: fp}
		tieHdr = &th
		tieBlock = encodeTIEOriginHeader(th)
	}

	var outerFp []byte
	if p.HasOuterKey {
		var err error
		outerFp, err = computeOuterFingerprint(p.OuterKey, true, p.WeakNonceLocal, p.WeakNonceRemote, lifetime, tieHdr, payload)
		if err != nil {
			return nil, err
		}
	}

	outer := encodeOuterHeader(p.PacketNumber, uint8(p.OuterKeyID), outerFp, p.WeakNonceLocal, p.WeakNonceRemote, lifetime)

	out := make([]byte, 0, len(outer)+len(tieBlock)+len(payload))
	out = append(out, outer...)
	out = append(out, tieBlock...)
	out = append(out, payload...)
	return out, nil
}

func encodeOuterHeader(pn uint16, keyID uint8, fp []byte, nonceLocal, nonceRemote uint16, lifetime uint32) []byte {
	padded := padFingerprint(fp)
	buf := make([]byte, 8+len(padded)+8)
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	binary.BigEndian.PutUint16(buf[2:4], pn)
	buf[4] = 0 // reserved
	buf[5] = ProtocolMajorVersion
	buf[6] = keyID
	buf[7] = byte(len(padded) / 4)
	copy(buf[8:8+len(padded)], padded)
	off := 8 + len(padded)
	binary.BigEndian.PutUint16(buf[off:off+2], nonceLocal)
	binary.BigEndian.PutUint16(buf[off+2:off+4], nonceRemote)
	binary.BigEndian.PutUint32(buf[off+4:off+8], lifetime)
	return buf
}

func encodeTIEOriginHeader(h TIEOriginHeader) []byte {
	padded := padFingerprint(h.Fingerprint)
	buf := make([]byte, 4+len(padded))
	buf[0] = byte(h.TIEOriginKeyID >> 16)
	buf[1] = byte(h.TIEOriginKeyID >> 8)
	buf[2] = byte(h.TIEOriginKeyID)
	buf[3] = byte(len(padded) / 4)
	copy(buf[4:], padded)
	return buf
}

// padFingerprint rounds the fingerprint up to a multiple of 4 bytes, as
// required by spec §4.1 ("Fingerprint_length is always a multiple of 4
// bytes on the wire; implementations round up").
func padFingerprint(fp []byte) []byte {
	n := keychain.RoundUp4(len(fp))
	if n == len(fp) {
		return fp
	}
	out := make([]byte, n)
	copy(out, fp)
	return out
}
