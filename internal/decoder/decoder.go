package decoder

import (
	"fmt"
	"strings"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"eventLabeler/internal/contractabi"
	"eventLabeler/internal/model"
)

// Decode turns a matched event definition plus a raw log into a decoded
// event. Indexed arguments are read from topics[1..] in declaration order;
// non-indexed arguments are unpacked from the data blob per the ABI head/tail
// layout. Dynamic indexed arguments (string, bytes, arrays, tuples) exist in
// the topic only as their hash and are surfaced as the raw topic hex.
func Decode(event *contractabi.EventDef, log model.LogRecord) (*model.DecodedEvent, error) {
	topics, err := parseTopics(log.Topics)
	if err != nil {
		return nil, err
	}

	indexed := make([]contractabi.ArgumentDef, 0, len(event.Inputs))
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(topics) != len(indexed)+1 {
		return nil, fmt.Errorf("event %s expects %d topics, got %d", event.Name, len(indexed)+1, len(topics))
	}

	values := make(map[string]interface{}, len(event.Inputs))

	staticArgs := make(ethabi.Arguments, 0, len(indexed))
	staticTopics := make([]common.Hash, 0, len(indexed))
	for i, arg := range indexed {
		topic := topics[i+1]
		if isDynamic(arg.Type) {
			// Hash reference only; the original value is unrecoverable.
			values[arg.Name] = topic
			continue
		}
		staticArgs = append(staticArgs, ethabi.Argument{Name: arg.Name, Type: arg.Type, Indexed: true})
		staticTopics = append(staticTopics, topic)
	}
	if len(staticArgs) > 0 {
		if err := ethabi.ParseTopicsIntoMap(values, staticArgs, staticTopics); err != nil {
			return nil, fmt.Errorf("parse topics for %s: %w", event.Name, err)
		}
	}

	nonIndexed := make(ethabi.Arguments, 0, len(event.Inputs))
	for _, input := range event.Inputs {
		if !input.Indexed {
			nonIndexed = append(nonIndexed, ethabi.Argument{Name: input.Name, Type: input.Type})
		}
	}
	if len(nonIndexed) > 0 {
		data, err := hexutil.Decode(log.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid data: %w", err)
		}
		unpacked, err := nonIndexed.Unpack(data)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
		}
		if len(unpacked) != len(nonIndexed) {
			return nil, fmt.Errorf("unpack %s: expected %d values, got %d", event.Name, len(nonIndexed), len(unpacked))
		}
		for i, arg := range nonIndexed {
			values[arg.Name] = unpacked[i]
		}
	}

	args := make(map[string]string, len(values))
	for name, value := range values {
		args[name] = valueString(value)
	}

	return &model.DecodedEvent{
		ChainID:         log.ChainID,
		BlockNumber:     log.BlockNumber,
		TxHash:          log.TxHash,
		LogIndex:        log.LogIndex,
		ContractAddress: strings.ToLower(log.Address),
		EventName:       event.Name,
		Args:            args,
		Values:          values,
	}, nil
}

func parseTopics(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) != 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func isDynamic(typ ethabi.Type) bool {
	switch typ.T {
	case ethabi.StringTy, ethabi.BytesTy, ethabi.SliceTy, ethabi.ArrayTy, ethabi.TupleTy:
		return true
	default:
		return false
	}
}
