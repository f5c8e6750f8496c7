package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	addr := key.PubKey().Address()
	encoded := addr.String()
	require.True(t, strings.HasPrefix(encoded, "coa1"), "unexpected encoding %s", encoded)

	decoded, err := DecodeAddress(encoded)
	require.NoError(t, err)
	require.True(t, bytes.Equal(addr.Bytes(), decoded.Bytes()))
	require.Equal(t, CoAPrefix, decoded.Prefix())
}

func TestParseAddressRejectsForeignPrefix(t *testing.T) {
	var raw [20]byte
	raw[0] = 0x42
	foreign := MustNewAddress(AddressPrefix("art"), raw[:]).String()
	if _, err := ParseAddress(foreign); err == nil {
		t.Fatalf("expected foreign prefix to be rejected")
	}
	if _, err := ParseAddress("  "); err == nil {
		t.Fatalf("expected empty address to be rejected")
	}
}

func TestFormatAddressMatchesParse(t *testing.T) {
	var raw [20]byte
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	parsed, err := ParseAddress(FormatAddress(raw))
	require.NoError(t, err)
	require.Equal(t, raw, parsed)
}

func TestNewAddressRejectsBadLength(t *testing.T) {
	if _, err := NewAddress(CoAPrefix, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected short address to be rejected")
	}
}

func TestPrivateKeyBytesRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	restored, err := PrivateKeyFromBytes(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().String(), restored.PubKey().Address().String())
}
