package resolver

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"eventLabeler/internal/contractabi"
)

// LoadOverrides reads a manual override file mapping "<chain_id>:<address>"
// to an ABI JSON array. Used for contracts whose explorer listing is missing
// or misleading. An empty path yields an empty table.
func LoadOverrides(path string) (map[string]*contractabi.ContractABI, error) {
	out := make(map[string]*contractabi.ContractABI)
	if path == "" {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse overrides: %w", err)
	}

	for key, abiJSON := range raw {
		parsed, err := contractabi.Parse(abiJSON)
		if err != nil {
			return nil, fmt.Errorf("override %s: %w", key, err)
		}
		out[strings.ToLower(key)] = parsed
	}

	return out, nil
}
