package model

// DecodedEvent is a labeled log ready for the warehouse sink. Args holds the
// stringified argument values that are persisted; Values keeps the typed
// go-ethereum values for in-process consumers and is never serialized.
//
// A decoded event is uniquely identified by (transaction_hash, log_index).
type DecodedEvent struct {
	ChainID         uint64            `json:"chain_id"`
	BlockNumber     uint64            `json:"block_number"`
	TxHash          string            `json:"transaction_hash"`
	LogIndex        uint64            `json:"log_index"`
	ContractAddress string            `json:"contract_address"`
	EventName       string            `json:"event_name"`
	ContractName    string            `json:"contract_name,omitempty"`
	ContractSymbol  string            `json:"contract_symbol,omitempty"`
	Args            map[string]string `json:"args"`

	Values map[string]interface{} `json:"-"`
}
