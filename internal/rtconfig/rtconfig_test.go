package rtconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulseengine/wrt-sub004/internal/memprovider"
	"github.com/pulseengine/wrt-sub004/internal/rtconfig"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_reentry_depth = 8
verification_level = "critical"
cfi_enabled = true
`), 0o644))

	f, err := rtconfig.Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, f.MaxReentryDepth)
	require.True(t, f.CfiEnabled)
	// untouched fields keep their §6 defaults
	require.Equal(t, uint32(65536), f.MaxPagesPerMemory)
	require.Equal(t, 1024, f.MaxInstancesPerStore)

	level, err := rtconfig.ParseVerificationLevel(f.VerificationLevel)
	require.NoError(t, err)
	require.Equal(t, memprovider.Critical, level)
}

func TestParseVerificationLevelRejectsUnknown(t *testing.T) {
	_, err := rtconfig.ParseVerificationLevel("extreme")
	require.Error(t, err)
}

func TestCostTableOverridesParsesHexAndDecimalKeys(t *testing.T) {
	ct, err := rtconfig.CostTableOverrides(map[string]uint32{
		"0x10": 99, // call
		"17":   5,  // call_indirect, decimal form of 0x11
	})
	require.NoError(t, err)
	require.Equal(t, uint32(99), ct.CostOf(0x10))
	require.Equal(t, uint32(5), ct.CostOf(0x11))
}
