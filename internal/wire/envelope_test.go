package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rift/core/internal/keychain"
	"github.com/rift/core/internal/rift"
)

func testKey() keychain.Key {
	return keychain.Key{
		ID:        rift.NewKeyID(3),
		Algorithm: keychain.AlgorithmSHA256,
		Secret:    []byte("correct horse battery staple"),
	}
}

func TestSealParseRoundTrip(t *testing.T) {
	key := testKey()
	store := keychain.NewStore([]keychain.Key{key})
	payload := []byte("hello rift")

	sealed, err := Seal(SealParams{
		PacketNumber:    7,
		OuterKeyID:      3,
		OuterKey:        key,
		HasOuterKey:     true,
		WeakNonceLocal:  42,
		WeakNonceRemote: 99,
	}, payload)
	require.NoError(t, err)

	parsed, err := ParseAndValidate(sealed, store)
	require.NoError(t, err)
	require.Equal(t, payload, parsed.Payload)
	require.Equal(t, uint16(7), parsed.Outer.PacketNumber.Value())
	require.Equal(t, uint16(42), parsed.Outer.WeakNonceLocal)
	require.Equal(t, uint16(99), parsed.Outer.WeakNonceRemote)
	require.Nil(t, parsed.Outer.RemainingTIELifetime)
}

func TestSealParseRoundTripWithTIEOrigin(t *testing.T) {
	key := testKey()
	tieKey := keychain.Key{ID: rift.NewKeyID(5), Algorithm: keychain.AlgorithmSHA256, Secret: []byte("tie secret")}
	store := keychain.NewStore([]keychain.Key{key, tieKey})
	payload := []byte("a tie packet body")
	lifetime := uint32(300)

	sealed, err := Seal(SealParams{
		PacketNumber:         1,
		OuterKeyID:           3,
		OuterKey:             key,
		HasOuterKey:          true,
		RemainingTIELifetime: &lifetime,
		TIEOriginKeyID:       5,
		TIEOriginKey:         tieKey,
		HasTIEOriginKey:      true,
	}, payload)
	require.NoError(t, err)

	parsed, err := ParseAndValidate(sealed, store)
	require.NoError(t, err)
	require.NotNil(t, parsed.TIE)
	require.Equal(t, uint32(5), parsed.TIE.TIEOriginKeyID)
	require.Equal(t, payload, parsed.Payload)
	require.NotNil(t, parsed.Outer.RemainingTIELifetime)
	require.Equal(t, lifetime, *parsed.Outer.RemainingTIELifetime)
}

func TestParseRejectsBadMagic(t *testing.T) {
	b := make([]byte, 16)
	_, err := ParseAndValidate(b, keychain.NewStore(nil))
	require.ErrorIs(t, err, ErrNotMagical)
}

func TestParseRejectsTamperedFingerprint(t *testing.T) {
	key := testKey()
	store := keychain.NewStore([]keychain.Key{key})
	sealed, err := Seal(SealParams{OuterKeyID: 3, OuterKey: key, HasOuterKey: true}, []byte("payload"))
	require.NoError(t, err)

	// Flip every bit of the first fingerprint byte (byte 8, right after the header).
	sealed[8] ^= 0xFF
	_, err = ParseAndValidate(sealed, store)
	require.ErrorIs(t, err, ErrInvalidOuterEnvelope)
}

func TestParseNoKeyConfiguredSucceeds(t *testing.T) {
	store := keychain.NewStore(nil)
	sealed, err := Seal(SealParams{}, []byte("unsealed"))
	require.NoError(t, err)
	parsed, err := ParseAndValidate(sealed, store)
	require.NoError(t, err)
	require.Equal(t, []byte("unsealed"), parsed.Payload)
}

func TestOutOfRangeTruncatedTIEEnvelope(t *testing.T) {
	key := testKey()
	store := keychain.NewStore([]keychain.Key{key})
	lifetime := uint32(10)
	sealed, err := Seal(SealParams{OuterKeyID: 3, OuterKey: key, HasOuterKey: true, RemainingTIELifetime: &lifetime}, []byte("x"))
	require.NoError(t, err)

	// Truncate right after the outer envelope (8 + 32-byte SHA-256
	// fingerprint + 8) so the TIE-origin envelope is absent even though
	// remaining_tie_lifetime says to expect one.
	outerOnly := sealed[:48]
	_, err = ParseAndValidate(outerOnly, store)
	require.ErrorIs(t, err, ErrOutOfRange)
}
