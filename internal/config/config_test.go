package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `
[Node]
Name = leaf1
System-ID = 1
Configured-Level = leaf
RX-Multicast-IPv4 = 224.0.0.120

[Key "3"]
Algorithm = sha-256
Secret = correct horse battery staple

[Interface "eth0"]
TX-LIE-Port = 911
RX-LIE-Port = 911
RX-TIE-Port = 912
Active-Key = 3
Accept-Keys = 3
Local-Address = 10.0.0.1
Remote-Address = 10.0.0.2
`

func TestLoadBytesValid(t *testing.T) {
	cfg, err := LoadBytes([]byte(sample))
	require.NoError(t, err)
	require.Equal(t, "leaf1", cfg.Name)
	require.EqualValues(t, 1, cfg.SystemID)
	require.True(t, cfg.ConfiguredLevel.Defined())
	require.Equal(t, uint8(0), cfg.ConfiguredLevel.Value())
	require.Len(t, cfg.Keys, 1)
	require.Contains(t, cfg.Interfaces, "eth0")
	iface := cfg.Interfaces["eth0"]
	require.True(t, iface.ActiveKey.Valid())
	require.True(t, iface.AcceptKeys[3])
}

func TestLoadBytesMissingSystemID(t *testing.T) {
	_, err := LoadBytes([]byte("[Node]\nName = x\n"))
	require.ErrorIs(t, err, ErrMissingSystemID)
}

func TestLoadBytesUnknownKeyReference(t *testing.T) {
	const bad = `
[Node]
Name = leaf1
System-ID = 1

[Interface "eth0"]
Active-Key = 9
`
	_, err := LoadBytes([]byte(bad))
	require.ErrorIs(t, err, ErrUnknownKeyReference)
}

func TestParseLevelNamed(t *testing.T) {
	lvl, err := parseLevel("top-of-fabric")
	require.NoError(t, err)
	require.Equal(t, uint8(24), lvl.Value())

	lvl, err = parseLevel("")
	require.NoError(t, err)
	require.False(t, lvl.Defined())

	lvl, err = parseLevel("12")
	require.NoError(t, err)
	require.Equal(t, uint8(12), lvl.Value())

	_, err = parseLevel("99")
	require.ErrorIs(t, err, ErrInvalidLevel)
}
