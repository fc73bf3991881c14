package bridge

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TxContextKind tags where a transaction came from.
type TxContextKind string

const (
	TxContextDApp     TxContextKind = "dapp"
	TxContextTransfer TxContextKind = "transfer"
)

// TxContext carries provenance for the approval UI. It never affects the
// transaction fields.
type TxContext struct {
	Kind     TxContextKind `json:"kind"`
	DAppName string        `json:"dappName,omitempty"`
	DAppURL  string        `json:"dappUrl,omitempty"`
}

// UnconfirmedTransaction is a transaction waiting for user approval and signing.
// To is nil for contract creation; GasLimit, GasPrice and Nonce are nil when the
// dApp left them for the wallet to fill.
type UnconfirmedTransaction struct {
	Context  TxContext
	From     *common.Address
	To       *common.Address
	Value    *big.Int
	Data     []byte
	GasLimit *big.Int
	GasPrice *big.Int
	Nonce    *big.Int
	TokenID  *big.Int
}

// NewTransfer builds a transaction for an in-app transfer intent.
func NewTransfer(to common.Address, value *big.Int) *UnconfirmedTransaction {
	if value == nil {
		value = new(big.Int)
	}
	return &UnconfirmedTransaction{
		Context: TxContext{Kind: TxContextTransfer},
		To:      &to,
		Value:   new(big.Int).Set(value),
		Data:    []byte{},
	}
}

func (t *UnconfirmedTransaction) IsContractCreation() bool {
	return t.To == nil
}

// WithContext returns a copy tagged with ctx.
func (t *UnconfirmedTransaction) WithContext(ctx TxContext) *UnconfirmedTransaction {
	cp := *t
	cp.Context = ctx
	return &cp
}

type txJSON struct {
	Context  TxContext       `json:"context"`
	From     *common.Address `json:"from,omitempty"`
	To       *common.Address `json:"to,omitempty"`
	Value    *hexutil.Big    `json:"value"`
	Data     hexutil.Bytes   `json:"data"`
	GasLimit *hexutil.Big    `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Nonce    *hexutil.Big    `json:"nonce,omitempty"`
	TokenID  *hexutil.Big    `json:"tokenId,omitempty"`
}

func (t *UnconfirmedTransaction) MarshalJSON() ([]byte, error) {
	value := t.Value
	if value == nil {
		value = new(big.Int)
	}
	data := t.Data
	if data == nil {
		data = []byte{}
	}
	return json.Marshal(txJSON{
		Context:  t.Context,
		From:     t.From,
		To:       t.To,
		Value:    (*hexutil.Big)(value),
		Data:     data,
		GasLimit: (*hexutil.Big)(t.GasLimit),
		GasPrice: (*hexutil.Big)(t.GasPrice),
		Nonce:    (*hexutil.Big)(t.Nonce),
		TokenID:  (*hexutil.Big)(t.TokenID),
	})
}
