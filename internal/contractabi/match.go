package contractabi

import "github.com/ethereum/go-ethereum/common"

// FindEvent returns the first event, in declaration order, whose computed
// topic hash equals topic0. Anonymous events carry no topic0 and never match.
// A nil result means the log is undecodable with this ABI, not an error.
func (c *ContractABI) FindEvent(topic0 common.Hash) *EventDef {
	for i := range c.Events {
		event := &c.Events[i]
		if event.Anonymous {
			continue
		}
		if event.ID == topic0 {
			return event
		}
	}
	return nil
}
