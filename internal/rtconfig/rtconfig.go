// Package rtconfig loads the §6 "Configuration" table from a TOML file for
// driver-style deployments, as a companion to corert.RuntimeConfig's
// programmatic fluent builder (§2.3). Grounded in grafana-k6's and the
// Creative-Workz-Studio-LLC config loaders' direct dependency on
// github.com/BurntSushi/toml.
package rtconfig

import (
	"strconv"

	"github.com/BurntSushi/toml"

	pkgerrors "github.com/pkg/errors"

	"github.com/pulseengine/wrt-sub004/internal/ir"
	"github.com/pulseengine/wrt-sub004/internal/memprovider"
)

// File is the on-disk shape of the §6 configuration table. Field names
// match the spec table verbatim so an operator's TOML file reads as the
// spec itself.
type File struct {
	MaxPagesPerMemory   uint32            `toml:"max_pages_per_memory"`
	MaxTablesPerInstance int              `toml:"max_tables_per_instance"`
	MaxInstancesPerStore int              `toml:"max_instances_per_store"`
	MaxReentryDepth      int              `toml:"max_reentry_depth"`
	MaxCallDepth         int              `toml:"max_call_depth"`
	MaxValueStackDepth   int              `toml:"max_value_stack_depth"`
	VerificationLevel    string           `toml:"verification_level"`
	CfiEnabled           bool             `toml:"cfi_enabled"`
	// FuelCostTable overrides the default per-opcode fuel cost, keyed by the
	// opcode's raw numeric value (TOML table keys are strings; see
	// CostTableOverrides for the uint32 conversion).
	FuelCostTable map[string]uint32 `toml:"fuel_cost_table"`
}

// Defaults mirrors §6's stated defaults exactly, so a zero-value File
// merged over Defaults always produces a valid configuration.
func Defaults() File {
	return File{
		MaxPagesPerMemory:    65536,
		MaxTablesPerInstance: 1,
		MaxInstancesPerStore: 1024,
		MaxReentryDepth:      64,
		MaxCallDepth:         1024,
		MaxValueStackDepth:   64 * 1024,
		VerificationLevel:    "standard",
		CfiEnabled:           false,
	}
}

// Load decodes a TOML file at path into File, starting from Defaults() so
// any field the operator omits keeps its spec-mandated default.
func Load(path string) (File, error) {
	f := Defaults()
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return File{}, pkgerrors.Wrapf(err, "loading runtime configuration from %s", path)
	}
	return f, nil
}

// ParseVerificationLevel maps the TOML string form onto
// memprovider.VerificationLevel, matching the five names §4.1 enumerates.
func ParseVerificationLevel(s string) (memprovider.VerificationLevel, error) {
	switch s {
	case "off", "":
		return memprovider.Off, nil
	case "minimal":
		return memprovider.Minimal, nil
	case "standard":
		return memprovider.Standard, nil
	case "full":
		return memprovider.Full, nil
	case "critical":
		return memprovider.Critical, nil
	default:
		return memprovider.Off, pkgerrors.Errorf("unknown verification_level %q", s)
	}
}

// CostTableOverrides converts the TOML fuel_cost_table's string-keyed map
// (TOML tables never have numeric keys) into ir.CostTableFromOverrides'
// expected Opcode-keyed map, parsing each key as a base-0 integer so either
// decimal ("17") or hex ("0x11") opcode values work in the TOML file.
func CostTableOverrides(raw map[string]uint32) (ir.CostTable, error) {
	overrides := make(map[ir.Opcode]uint32, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseUint(k, 0, 32)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "fuel_cost_table key %q is not a numeric opcode", k)
		}
		overrides[ir.Opcode(n)] = v
	}
	return ir.CostTableFromOverrides(overrides), nil
}
