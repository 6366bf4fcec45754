package memprovider_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/memprovider"
)

func TestNoStdProviderAllocateWriteRead(t *testing.T) {
	p := memprovider.NewNoStdProvider(64, 4, memprovider.Standard)
	h, err := p.Allocate(16)
	require.NoError(t, err)

	require.NoError(t, p.Write(h, 0, []byte("hello wasm!!!!!!")))
	got, err := p.Read(h, 0, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestNoStdProviderCapacityExceeded(t *testing.T) {
	p := memprovider.NewNoStdProvider(8, 4, memprovider.Off)
	_, err := p.Allocate(9)
	require.True(t, errors.Is(err, coreerr.ErrCapacityExceeded))
}

func TestHandleScopedToProvider(t *testing.T) {
	p1 := memprovider.NewNoStdProvider(16, 2, memprovider.Off)
	p2 := memprovider.NewNoStdProvider(16, 2, memprovider.Off)
	h, err := p1.Allocate(4)
	require.NoError(t, err)

	_, err = p2.Read(h, 0, 1)
	require.True(t, errors.Is(err, coreerr.ErrInvalidHandle))
}

func TestDeallocateThenUseIsInvalidHandle(t *testing.T) {
	p := memprovider.NewStdProvider(2, memprovider.Off)
	h, err := p.Allocate(4)
	require.NoError(t, err)
	require.NoError(t, p.Deallocate(h))

	_, err = p.Read(h, 0, 1)
	require.True(t, errors.Is(err, coreerr.ErrInvalidHandle))
}

func TestOutOfBoundsRead(t *testing.T) {
	p := memprovider.NewStdProvider(2, memprovider.Off)
	h, err := p.Allocate(4)
	require.NoError(t, err)
	_, err = p.Read(h, 3, 4)
	require.True(t, errors.Is(err, coreerr.ErrOutOfBounds))
}
