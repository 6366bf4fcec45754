package hostbridge_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/hostbridge"
	"github.com/pulseengine/wrt-sub004/internal/wasm"
)

func TestRegisterAndLookup(t *testing.T) {
	r := hostbridge.NewRegistry(4)
	sig := wasm.FunctionType{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
	r.Register("env", "double", sig, func(_ *wasm.Instance, args []api.Value) ([]api.Value, error) {
		return []api.Value{api.I32(args[0].I32() * 2)}, nil
	})

	got, id, ok := r.Lookup("env", "double")
	require.True(t, ok)
	require.Equal(t, sig, got)

	results, err := r.Invoke(nil, id, []api.Value{api.I32(21)})
	require.NoError(t, err)
	require.Equal(t, int32(42), results[0].I32())
}

func TestLookupMissingFails(t *testing.T) {
	r := hostbridge.NewRegistry(4)
	_, _, ok := r.Lookup("env", "missing")
	require.False(t, ok)
}

// TestReentrancyCap exercises §8 scenario 6: a host function that calls back
// into the registry via itself, bounded by max_reentry_depth.
func TestReentrancyCap(t *testing.T) {
	r := hostbridge.NewRegistry(4)
	var id uint64
	var recurse hostbridge.Func
	recurse = func(caller *wasm.Instance, args []api.Value) ([]api.Value, error) {
		return r.Invoke(caller, id, args)
	}
	r.Register("env", "h", wasm.FunctionType{}, recurse)
	_, resolvedID, ok := r.Lookup("env", "h")
	require.True(t, ok)
	id = resolvedID

	_, err := r.Invoke(nil, id, nil)
	require.True(t, errors.Is(err, coreerr.ErrStackOverflow))
	require.Equal(t, 0, r.Depth())
}
