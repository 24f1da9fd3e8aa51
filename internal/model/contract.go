package model

// Contract is a registry row describing a contract whose logs should be labeled.
type Contract struct {
	ID      int64  `json:"id"`
	ChainID uint64 `json:"chain_id"`
	Address string `json:"contract_address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}
