// ABOUTME: Tests for discovery beacon encoding and parsing.
// ABOUTME: Also covers static coordinator address parsing and hostname validation.

package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeacon_RoundTrip(t *testing.T) {
	addr := CoordinatorAddress{IP: "192.168.1.20", Port: 12345}
	data := EncodeBeacon(addr)
	assert.Equal(t, "ADMIN_SERVER_DISCOVERY:192.168.1.20:12345", string(data))

	got, err := ParseBeacon(data)
	require.NoError(t, err)
	assert.Equal(t, addr, got)
	assert.Equal(t, "192.168.1.20:12345", got.String())
}

func TestParseBeacon_Malformed(t *testing.T) {
	cases := []string{
		"",
		"HELLO:1.2.3.4:12345",
		"ADMIN_SERVER_DISCOVERY",
		"ADMIN_SERVER_DISCOVERY:1.2.3.4",
		"ADMIN_SERVER_DISCOVERY:1.2.3.4:",
		"ADMIN_SERVER_DISCOVERY:not-an-ip:12345",
		"ADMIN_SERVER_DISCOVERY:1.2.3.4:0",
		"ADMIN_SERVER_DISCOVERY:1.2.3.4:70000",
		"ADMIN_SERVER_DISCOVERY:1.2.3.4:port",
	}
	for _, c := range cases {
		_, err := ParseBeacon([]byte(c))
		assert.ErrorIs(t, err, ErrMalformedBeacon, "input %q", c)
	}
}

func TestParseBeacon_TrailingWhitespace(t *testing.T) {
	got, err := ParseBeacon([]byte("ADMIN_SERVER_DISCOVERY:10.0.0.1:4000\n"))
	require.NoError(t, err)
	assert.Equal(t, CoordinatorAddress{IP: "10.0.0.1", Port: 4000}, got)
}

func TestParseAddress(t *testing.T) {
	got, err := ParseAddress("10.0.0.5:12345")
	require.NoError(t, err)
	assert.Equal(t, CoordinatorAddress{IP: "10.0.0.5", Port: 12345}, got)

	_, err = ParseAddress("10.0.0.5")
	assert.Error(t, err)
	_, err = ParseAddress(":12345")
	assert.Error(t, err)
	_, err = ParseAddress("host:99999")
	assert.Error(t, err)
}

func TestValidateHostname(t *testing.T) {
	assert.NoError(t, ValidateHostname("alice"))
	assert.ErrorIs(t, ValidateHostname(""), ErrEmptyHostname)
	assert.ErrorIs(t, ValidateHostname(strings.Repeat("h", MaxHostnameLength+1)), ErrHostnameTooLong)
}
