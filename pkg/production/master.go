package production

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// TypeConfig is the static master record for one machine variant.
type TypeConfig struct {
	ProductionType    int     `toml:"production_type"`
	Name              string  `toml:"name"`
	Fully             int     `toml:"fully"`
	SecondsPerProduct float64 `toml:"seconds_per_product"`
}

// Master holds the production-type table for one line. Immutable after
// load; safe for concurrent readers.
type Master struct {
	line    string
	configs map[int]TypeConfig
}

type masterFile struct {
	Types map[string]TypeConfig `toml:"types"`
}

// LoadMaster reads <dir>/<line>.toml and returns the
// validated table. Loaded once at process start.
func LoadMaster(dir, line string) (*Master, error) {
	path := filepath.Join(dir, line+".toml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("production: read master for line %q: %w", line, err)
	}

	var mf masterFile
	if err := toml.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("production: parse %s: %w", path, err)
	}
	if len(mf.Types) == 0 {
		return nil, fmt.Errorf("%w: %s defines no types", ErrMasterInvalid, path)
	}

	configs := make(map[int]TypeConfig, len(mf.Types))
	for key, tc := range mf.Types {
		n, err := strconv.Atoi(key)
		if err != nil || n < 0 || n > 32 {
			return nil, fmt.Errorf("%w: bad type key %q in %s", ErrMasterInvalid, key, path)
		}
		if tc.ProductionType != n {
			return nil, fmt.Errorf("%w: type key %q does not match production_type %d", ErrMasterInvalid, key, tc.ProductionType)
		}
		if tc.Fully <= 0 {
			return nil, fmt.Errorf("%w: type %d has fully=%d", ErrMasterInvalid, n, tc.Fully)
		}
		if tc.SecondsPerProduct <= 0 {
			return nil, fmt.Errorf("%w: type %d has seconds_per_product=%v", ErrMasterInvalid, n, tc.SecondsPerProduct)
		}
		configs[n] = tc
	}

	return &Master{line: line, configs: configs}, nil
}

// NewMaster builds a Master from an in-memory table. Used by tests.
func NewMaster(line string, configs map[int]TypeConfig) *Master {
	cp := make(map[int]TypeConfig, len(configs))
	for k, v := range configs {
		cp[k] = v
	}
	return &Master{line: line, configs: cp}
}

// Line returns the line name the master was loaded for.
func (m *Master) Line() string { return m.line }

// Config resolves a production type to its master record.
func (m *Master) Config(productionType int) (TypeConfig, error) {
	if productionType < 0 || productionType > 32 {
		return TypeConfig{}, fmt.Errorf("%w: %d", ErrTypeOutOfRange, productionType)
	}
	tc, ok := m.configs[productionType]
	if !ok {
		return TypeConfig{}, fmt.Errorf("%w: type %d on line %s", ErrTypeUndefined, productionType, m.line)
	}
	return tc, nil
}

// Types returns the configured production types in no particular order.
func (m *Master) Types() []int {
	out := make([]int, 0, len(m.configs))
	for k := range m.configs {
		out = append(out, k)
	}
	return out
}
