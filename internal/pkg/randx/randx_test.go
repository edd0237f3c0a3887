package randx

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPartyCodeShape(t *testing.T) {
	code, err := PartyCode()
	require.NoError(t, err)
	require.Len(t, code, PartyCodeLength)

	for _, char := range code {
		require.True(t, strings.ContainsRune(Base62Chars, char), "unexpected character %q in code %q", char, code)
	}
}

func TestPartyCodesAreNotConstant(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := PartyCode()
		require.NoError(t, err)
		seen[code] = true
	}

	require.Greater(t, len(seen), 1, "50 generated codes should not all collide")
}

func TestIsValidPartyCode(t *testing.T) {
	code, err := PartyCode()
	require.NoError(t, err)
	require.True(t, IsValidPartyCode(code))

	require.False(t, IsValidPartyCode(""))
	require.False(t, IsValidPartyCode("AB12C"))
	require.False(t, IsValidPartyCode("AB12CDE"))
	require.False(t, IsValidPartyCode("AB12C!"))
	require.False(t, IsValidPartyCode("AB 2CD"))
}

func TestMessageIDIsUUID(t *testing.T) {
	id := MessageID()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(4), parsed.Version())

	require.NotEqual(t, id, MessageID())
}
