package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("103")
	require.NoError(t, err)
	assert.Equal(t, KindSenseGuard, k)

	k, err = ParseKind(" Blue_Home ")
	require.NoError(t, err)
	assert.Equal(t, KindBlueHome, k)

	_, err = ParseKind("102")
	assert.Error(t, err)

	_, err = ParseKind("toaster")
	assert.Error(t, err)

	assert.Equal(t, "blue_professional", KindBlueProfessional.String())
	assert.Equal(t, "kind(7)", Kind(7).String())
}

func TestIdentity_SupportsVersion(t *testing.T) {
	id := Identity{ApplianceID: "a1", FirmwareVersion: "03.6.2"}

	assert.True(t, id.SupportsVersion("3.6"))
	assert.True(t, id.SupportsVersion("3.1"))
	assert.False(t, id.SupportsVersion("3.7"))
	assert.False(t, id.SupportsVersion(""))
	assert.False(t, id.SupportsVersion("latest"))

	id.FirmwareVersion = ""
	assert.False(t, id.SupportsVersion("1.0"))
}
