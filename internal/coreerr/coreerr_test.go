package coreerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulseengine/wrt-sub004/internal/coreerr"
)

func TestIsMatchesCategoryAndCode(t *testing.T) {
	err := coreerr.New(coreerr.Capacity, coreerr.CodeCapacityExceeded, "vector full")
	require.True(t, errors.Is(err, coreerr.ErrCapacityExceeded))
	require.False(t, errors.Is(err, coreerr.ErrOutOfBounds))
}

func TestHostAbortCarriesDetailNotString(t *testing.T) {
	err := coreerr.HostAbort(42)
	require.Equal(t, coreerr.Host, err.Category)
	require.Equal(t, uint32(42), err.Detail)
	require.True(t, errors.Is(err, coreerr.New(coreerr.Host, coreerr.CodeHostAbort, "anything")))
}

func TestErrorStringIsStable(t *testing.T) {
	require.Equal(t, "capacity[1001]: access out of bounds", coreerr.ErrOutOfBounds.Error())
}
