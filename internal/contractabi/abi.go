package contractabi

import (
	"encoding/json"
	"fmt"
	"strings"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ArgumentDef is one event input as declared in the contract ABI.
type ArgumentDef struct {
	Name    string
	Type    ethabi.Type
	Indexed bool
}

// EventDef is a single event entry with its canonical signature and topic
// hash, both computed once at parse time.
type EventDef struct {
	Name      string
	Anonymous bool
	Inputs    []ArgumentDef
	Signature string
	ID        common.Hash
}

// ContractABI holds a contract's event definitions in declaration order.
type ContractABI struct {
	Events []EventDef
}

type jsonInput struct {
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	InternalType string      `json:"internalType"`
	Indexed      bool        `json:"indexed"`
	Components   []jsonInput `json:"components"`
}

type jsonEntry struct {
	Type      string      `json:"type"`
	Name      string      `json:"name"`
	Anonymous bool        `json:"anonymous"`
	Inputs    []jsonInput `json:"inputs"`
}

// Parse decodes contract ABI JSON, keeping only event entries and preserving
// their declaration order. Non-event entries (functions, constructors,
// errors) are ignored.
func Parse(raw []byte) (*ContractABI, error) {
	var entries []jsonEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse abi json: %w", err)
	}

	out := &ContractABI{}
	for _, entry := range entries {
		if entry.Type != "event" {
			continue
		}

		event := EventDef{
			Name:      entry.Name,
			Anonymous: entry.Anonymous,
			Inputs:    make([]ArgumentDef, 0, len(entry.Inputs)),
		}

		types := make([]string, 0, len(entry.Inputs))
		for i, input := range entry.Inputs {
			typ, err := ethabi.NewType(input.Type, input.InternalType, marshalComponents(input.Components))
			if err != nil {
				return nil, fmt.Errorf("event %s input %d: %w", entry.Name, i, err)
			}

			name := input.Name
			if name == "" {
				name = fmt.Sprintf("arg%d", i)
			}

			event.Inputs = append(event.Inputs, ArgumentDef{
				Name:    name,
				Type:    typ,
				Indexed: input.Indexed,
			})
			types = append(types, typ.String())
		}

		event.Signature = fmt.Sprintf("%s(%s)", entry.Name, strings.Join(types, ","))
		event.ID = crypto.Keccak256Hash([]byte(event.Signature))
		out.Events = append(out.Events, event)
	}

	return out, nil
}

func marshalComponents(inputs []jsonInput) []ethabi.ArgumentMarshaling {
	if len(inputs) == 0 {
		return nil
	}
	out := make([]ethabi.ArgumentMarshaling, 0, len(inputs))
	for _, input := range inputs {
		out = append(out, ethabi.ArgumentMarshaling{
			Name:         input.Name,
			Type:         input.Type,
			InternalType: input.InternalType,
			Components:   marshalComponents(input.Components),
			Indexed:      input.Indexed,
		})
	}
	return out
}
