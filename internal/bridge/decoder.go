package bridge

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/tidwall/gjson"
)

// Wire method names understood by the decoder.
const (
	MethodSign                 = "eth_sign"
	MethodPersonalSign         = "personal_sign"
	MethodSignTypedData        = "eth_signTypedData"
	MethodSignTypedDataV3      = "eth_signTypedData_v3"
	MethodSignTypedDataV4      = "eth_signTypedData_v4"
	MethodSignTransaction      = "eth_signTransaction"
	MethodSendTransaction      = "eth_sendTransaction"
	MethodSendRawTransaction   = "eth_sendRawTransaction"
	MethodGetTransactionCount  = "eth_getTransactionCount"
	defaultTransactionCountTag = "latest"
)

// Request is a decoded, validated dApp call.
type Request interface {
	Method() string
}

type SignMessageRequest struct {
	Address common.Address
	Message []byte
}

type SignPersonalMessageRequest struct {
	Address common.Address
	Message []byte
}

// SignTypedDataRequest holds either an EIP-712 document (TypedData set) or a
// legacy eth_signTypedData v1 parameter list (Legacy true, TypedData nil).
type SignTypedDataRequest struct {
	Address   common.Address
	Raw       json.RawMessage
	TypedData *apitypes.TypedData
	Legacy    bool
	method    string
}

type SignTransactionRequest struct {
	Transaction *UnconfirmedTransaction
}

type SendTransactionRequest struct {
	Transaction *UnconfirmedTransaction
}

type SendRawTransactionRequest struct {
	Raw string
}

type GetTransactionCountRequest struct {
	Address common.Address
	Filter  string
}

// UnknownRequest is any method the decoder does not recognise.
type UnknownRequest struct {
	Name   string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (SignMessageRequest) Method() string         { return MethodSign }
func (SignPersonalMessageRequest) Method() string { return MethodPersonalSign }
func (r SignTypedDataRequest) Method() string {
	if r.method == "" {
		return MethodSignTypedDataV4
	}
	return r.method
}
func (SignTransactionRequest) Method() string     { return MethodSignTransaction }
func (SendTransactionRequest) Method() string     { return MethodSendTransaction }
func (SendRawTransactionRequest) Method() string  { return MethodSendRawTransaction }
func (GetTransactionCountRequest) Method() string { return MethodGetTransactionCount }
func (r UnknownRequest) Method() string           { return r.Name }

// Decode turns a relay call into a Request. Unknown methods decode to
// UnknownRequest; malformed required fields fail with a decode-error.
func Decode(call Call) (Request, error) {
	params := gjson.ParseBytes(call.Params)
	switch call.Method {
	case MethodSign:
		return decodeSign(params)
	case MethodPersonalSign:
		return decodePersonalSign(params)
	case MethodSignTypedData, MethodSignTypedDataV3, MethodSignTypedDataV4:
		return decodeSignTypedData(call.Method, params)
	case MethodSignTransaction:
		tx, err := decodeTransactionParams(params)
		if err != nil {
			return nil, err
		}
		return SignTransactionRequest{Transaction: tx}, nil
	case MethodSendTransaction:
		tx, err := decodeTransactionParams(params)
		if err != nil {
			return nil, err
		}
		return SendTransactionRequest{Transaction: tx}, nil
	case MethodSendRawTransaction:
		return decodeSendRaw(params)
	case MethodGetTransactionCount:
		return decodeTransactionCount(params)
	default:
		raw := append(json.RawMessage(nil), call.Params...)
		return UnknownRequest{Name: call.Method, Params: raw}, nil
	}
}

func positional(params gjson.Result, min int) ([]gjson.Result, error) {
	if !params.IsArray() {
		return nil, decodeError("params must be an array")
	}
	list := params.Array()
	if len(list) < min {
		return nil, decodeError("expected at least %d params, got %d", min, len(list))
	}
	return list, nil
}

func requireAddress(v gjson.Result, field string) (common.Address, error) {
	if v.Type != gjson.String || !common.IsHexAddress(v.Str) {
		return common.Address{}, decodeError("%s is not a valid address", field)
	}
	return common.HexToAddress(v.Str), nil
}

func isAddress(v gjson.Result) bool {
	return v.Type == gjson.String && common.IsHexAddress(v.Str)
}

func decodeSign(params gjson.Result) (Request, error) {
	list, err := positional(params, 2)
	if err != nil {
		return nil, err
	}
	addr, err := requireAddress(list[0], "address")
	if err != nil {
		return nil, err
	}
	if list[1].Type != gjson.String {
		return nil, decodeError("message must be a hex string")
	}
	msg, err := decodeHexBytes(list[1].Str)
	if err != nil {
		return nil, decodeError("message is not valid hex")
	}
	return SignMessageRequest{Address: addr, Message: msg}, nil
}

// personal_sign is [message, address]; some dApps send [address, message].
func decodePersonalSign(params gjson.Result) (Request, error) {
	list, err := positional(params, 2)
	if err != nil {
		return nil, err
	}
	msgField, addrField := list[0], list[1]
	if isAddress(msgField) && !isAddress(addrField) {
		msgField, addrField = addrField, msgField
	}
	addr, err := requireAddress(addrField, "address")
	if err != nil {
		return nil, err
	}
	if msgField.Type != gjson.String {
		return nil, decodeError("message must be a string")
	}
	return SignPersonalMessageRequest{Address: addr, Message: personalMessageBytes(msgField.Str)}, nil
}

// personalMessageBytes decodes 0x-prefixed hex, otherwise takes the text as UTF-8.
func personalMessageBytes(s string) []byte {
	if has0xPrefix(s) {
		if b, err := hexutil.Decode(s); err == nil {
			return b
		}
	}
	return []byte(s)
}

func decodeSignTypedData(method string, params gjson.Result) (Request, error) {
	list, err := positional(params, 2)
	if err != nil {
		return nil, err
	}
	// legacy v1: [typedDataArray, address]
	if method == MethodSignTypedData && list[0].IsArray() {
		addr, err := requireAddress(list[1], "address")
		if err != nil {
			return nil, err
		}
		return SignTypedDataRequest{Address: addr, Raw: json.RawMessage(list[0].Raw), Legacy: true, method: method}, nil
	}
	addr, err := requireAddress(list[0], "address")
	if err != nil {
		return nil, err
	}
	var raw string
	switch {
	case list[1].Type == gjson.String:
		raw = list[1].Str
	case list[1].IsObject():
		raw = list[1].Raw
	default:
		return nil, decodeError("typed data must be an object or a JSON string")
	}
	var td apitypes.TypedData
	if err := json.Unmarshal([]byte(raw), &td); err != nil {
		return nil, decodeError("typed data is not valid EIP-712: %v", err)
	}
	if td.PrimaryType == "" || len(td.Types) == 0 {
		return nil, decodeError("typed data misses types or primaryType")
	}
	return SignTypedDataRequest{Address: addr, Raw: json.RawMessage(raw), TypedData: &td, method: method}, nil
}

func decodeSendRaw(params gjson.Result) (Request, error) {
	list, err := positional(params, 1)
	if err != nil {
		return nil, err
	}
	if list[0].Type != gjson.String {
		return nil, decodeError("raw transaction must be a hex string")
	}
	b, err := decodeHexBytes(list[0].Str)
	if err != nil || len(b) == 0 {
		return nil, decodeError("raw transaction is not valid hex")
	}
	return SendRawTransactionRequest{Raw: hexutil.Encode(b)}, nil
}

func decodeTransactionCount(params gjson.Result) (Request, error) {
	list, err := positional(params, 1)
	if err != nil {
		return nil, err
	}
	addr, err := requireAddress(list[0], "address")
	if err != nil {
		return nil, err
	}
	filter := defaultTransactionCountTag
	if len(list) > 1 && list[1].Type == gjson.String && list[1].Str != "" {
		filter = strings.ToLower(list[1].Str)
		switch filter {
		case "latest", "pending", "earliest":
		default:
			if _, ok := parseHexBig(filter); !ok {
				return nil, decodeError("unsupported block filter %q", list[1].Str)
			}
		}
	}
	return GetTransactionCountRequest{Address: addr, Filter: filter}, nil
}

func decodeTransactionParams(params gjson.Result) (*UnconfirmedTransaction, error) {
	list, err := positional(params, 1)
	if err != nil {
		return nil, err
	}
	return DecodeTransaction(list[0])
}

// DecodeTransaction builds an UnconfirmedTransaction from a transaction object.
// value defaults to zero when absent or unparsable; nonce, gas and gasPrice are
// optional and stay nil when absent or unparsable; data defaults to empty.
// A structured gasLimit, a quirk of some dApps, is treated as absent.
func DecodeTransaction(obj gjson.Result) (*UnconfirmedTransaction, error) {
	if !obj.IsObject() {
		return nil, decodeError("transaction must be an object")
	}
	tx := &UnconfirmedTransaction{
		Context: TxContext{Kind: TxContextDApp},
		Value:   new(big.Int),
		Data:    []byte{},
	}
	if to := obj.Get("to"); present(to) {
		addr, err := requireAddress(to, "to")
		if err != nil {
			return nil, err
		}
		tx.To = &addr
	}
	if from := obj.Get("from"); present(from) {
		addr, err := requireAddress(from, "from")
		if err != nil {
			return nil, err
		}
		tx.From = &addr
	}
	if v, ok := optionalHexBig(obj.Get("value")); ok {
		tx.Value = v
	}
	if v, ok := optionalHexBig(obj.Get("nonce")); ok {
		tx.Nonce = v
	}
	gasLimit := obj.Get("gasLimit")
	if gasLimit.IsObject() || gasLimit.IsArray() {
		gasLimit = gjson.Result{}
	}
	if v, ok := optionalHexBig(gasLimit); ok {
		tx.GasLimit = v
	} else if v, ok := optionalHexBig(obj.Get("gas")); ok {
		tx.GasLimit = v
	}
	if v, ok := optionalHexBig(obj.Get("gasPrice")); ok {
		tx.GasPrice = v
	}
	if data := obj.Get("data"); present(data) {
		if data.Type != gjson.String {
			return nil, decodeError("data must be a hex string")
		}
		b, err := decodeHexBytes(data.Str)
		if err != nil {
			return nil, decodeError("data is not valid hex")
		}
		tx.Data = b
	}
	return tx, nil
}

// present is false for missing fields, JSON null and empty strings.
func present(v gjson.Result) bool {
	if !v.Exists() || v.Type == gjson.Null {
		return false
	}
	return !(v.Type == gjson.String && v.Str == "")
}

func optionalHexBig(v gjson.Result) (*big.Int, bool) {
	if v.Type != gjson.String {
		return nil, false
	}
	return parseHexBig(v.Str)
}

// parseHexBig parses a base-16 integer with an optional 0x prefix.
func parseHexBig(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if has0xPrefix(s) {
		s = s[2:]
	}
	if s == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

func decodeHexBytes(s string) ([]byte, error) {
	if !has0xPrefix(s) {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
