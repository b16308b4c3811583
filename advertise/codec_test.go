package advertise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeHostPortRoundTrips(t *testing.T) {
	p, err := EncodeHostPort("10.0.0.5:4040")
	require.NoError(t, err)
	assert.Equal(t, uint16(4040), p.Port)
	assert.Equal(t, "10.0.0.5:4040", DecodeHostPort(p))
}

func TestEncodeHostPortRejectsNonIPv4(t *testing.T) {
	_, err := EncodeHostPort("not-an-ip:4040")
	assert.Error(t, err)
}

func TestEncodeHostPortRejectsMissingPort(t *testing.T) {
	_, err := EncodeHostPort("10.0.0.5")
	assert.Error(t, err)
}
