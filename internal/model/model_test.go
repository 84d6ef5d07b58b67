package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"plain", "@alice", true},
		{"shortest", "@ab", true},
		{"mixed charset", "@Bob_the.builder-2", true},
		{"missing sigil", "alice", false},
		{"too short", "@a", false},
		{"empty", "", false},
		{"space", "@al ice", false},
		{"unicode", "@alicé", false},
		{"too long", "@" + strings.Repeat("a", MaxNameLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.input)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, ErrInvalidName))
		})
	}
}

func TestValidateRoomID(t *testing.T) {
	req := require.New(t)

	req.NoError(ValidateRoomID("r1"))
	req.NoError(ValidateRoomID("9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"))
	req.ErrorIs(ValidateRoomID(""), ErrInvalidInput)
	req.ErrorIs(ValidateRoomID("has space"), ErrInvalidInput)
	req.ErrorIs(ValidateRoomID(strings.Repeat("a", MaxRoomIDLength+1)), ErrInvalidInput)
}

func TestDirectKey_OrderAndCaseIndependent(t *testing.T) {
	req := require.New(t)

	k1 := DirectKey("@alice", "@bob")
	k2 := DirectKey("@bob", "@alice")
	k3 := DirectKey("@Alice", "@BOB")

	req.Equal(k1, k2)
	req.Equal(k1, k3)
	req.True(k1.IsDirect())
	req.False(k1.IsRoom())
	req.NotEqual(k1, DirectKey("@alice", "@carol"))
}

func TestDirectKey_NoConcatenationCollision(t *testing.T) {
	require.NotEqual(t, DirectKey("@ab", "@c"), DirectKey("@a", "@bc"))
}

func TestRoomKey(t *testing.T) {
	req := require.New(t)

	k := RoomKey("r1")
	req.True(k.IsRoom())
	req.False(k.IsDirect())
	req.Equal("room:r1", k.String())
}
