package bridge

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moff.io/wallet-bridge/pkg/errors"
)

func decode(t *testing.T, method, params string) (Request, error) {
	t.Helper()
	return Decode(Call{ID: 1, PeerID: "dapp", Method: method, Params: json.RawMessage(params)})
}

func TestDecodeSendTransaction(t *testing.T) {
	req, err := decode(t, MethodSendTransaction, `[{"to":"`+recipient+`","value":"0x2710","data":"0x"}]`)
	require.NoError(t, err)
	send, ok := req.(SendTransactionRequest)
	require.True(t, ok)

	tx := send.Transaction
	assert.Equal(t, big.NewInt(10000), tx.Value)
	require.NotNil(t, tx.To)
	assert.Equal(t, common.HexToAddress(recipient), *tx.To)
	assert.NotNil(t, tx.Data)
	assert.Empty(t, tx.Data)
	assert.Nil(t, tx.GasLimit)
	assert.Nil(t, tx.GasPrice)
	assert.Nil(t, tx.Nonce)
	assert.False(t, tx.IsContractCreation())
}

func TestDecodeTransactionDefaults(t *testing.T) {
	cases := []struct {
		name     string
		params   string
		value    int64
		gasLimit *big.Int
		data     []byte
		create   bool
	}{
		{name: "missing value", params: `[{"to":"` + recipient + `"}]`, value: 0, data: []byte{}},
		{name: "non hex value", params: `[{"to":"` + recipient + `","value":"lots"}]`, value: 0, data: []byte{}},
		{name: "numeric value", params: `[{"to":"` + recipient + `","value":12}]`, value: 0, data: []byte{}},
		{name: "contract creation", params: `[{"data":"0x6080"}]`, data: []byte{0x60, 0x80}, create: true},
		{name: "empty to", params: `[{"to":"","data":"6080"}]`, data: []byte{0x60, 0x80}, create: true},
		{name: "nested gasLimit", params: `[{"to":"` + recipient + `","gasLimit":{"_hex":"0x5208"}}]`, data: []byte{}},
		{name: "nested gasLimit with gas", params: `[{"to":"` + recipient + `","gasLimit":{"_hex":"0x1"},"gas":"0x5208"}]`, gasLimit: big.NewInt(21000), data: []byte{}},
		{name: "gasLimit", params: `[{"to":"` + recipient + `","gasLimit":"0x5208","gas":"0x1"}]`, gasLimit: big.NewInt(21000), data: []byte{}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			req, err := decode(t, MethodSignTransaction, c.params)
			require.NoError(t, err)
			tx := req.(SignTransactionRequest).Transaction
			assert.Equal(t, big.NewInt(c.value), tx.Value)
			assert.Equal(t, c.gasLimit, tx.GasLimit)
			assert.Equal(t, c.data, tx.Data)
			assert.Equal(t, c.create, tx.IsContractCreation())
		})
	}
}

func TestDecodeTransactionOptionalFields(t *testing.T) {
	req, err := decode(t, MethodSendTransaction,
		`[{"from":"`+recipient+`","to":"`+recipient+`","nonce":"0x3","gasPrice":"0x3b9aca00","gas":"0x5208","value":"0x0"}]`)
	require.NoError(t, err)
	tx := req.(SendTransactionRequest).Transaction
	assert.Equal(t, big.NewInt(3), tx.Nonce)
	assert.Equal(t, big.NewInt(1000000000), tx.GasPrice)
	assert.Equal(t, big.NewInt(21000), tx.GasLimit)
	require.NotNil(t, tx.From)
	assert.Equal(t, TxContextDApp, tx.Context.Kind)
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name   string
		method string
		params string
	}{
		{"tx not array", MethodSendTransaction, `{"to":"` + recipient + `"}`},
		{"tx empty", MethodSendTransaction, `[]`},
		{"tx not object", MethodSendTransaction, `["0x1"]`},
		{"tx invalid to", MethodSendTransaction, `[{"to":"0x1234"}]`},
		{"tx invalid from", MethodSignTransaction, `[{"from":42}]`},
		{"tx data not hex", MethodSendTransaction, `[{"to":"` + recipient + `","data":"0xzz"}]`},
		{"tx data odd", MethodSendTransaction, `[{"to":"` + recipient + `","data":"0xabc"}]`},
		{"tx data number", MethodSendTransaction, `[{"to":"` + recipient + `","data":7}]`},
		{"sign bad address", MethodSign, `["nope","0xdeadbeef"]`},
		{"sign bad message", MethodSign, `["` + recipient + `","hello"]`},
		{"sign missing message", MethodSign, `["` + recipient + `"]`},
		{"personal no address", MethodPersonalSign, `["0x68656c6c6f","0x12"]`},
		{"typed data invalid json", MethodSignTypedDataV4, `["` + recipient + `","{not json"]`},
		{"typed data missing types", MethodSignTypedDataV4, `["` + recipient + `",{"primaryType":"Mail"}]`},
		{"typed data number", MethodSignTypedDataV3, `["` + recipient + `",5]`},
		{"raw empty", MethodSendRawTransaction, `["0x"]`},
		{"raw not hex", MethodSendRawTransaction, `["0xgg"]`},
		{"count bad address", MethodGetTransactionCount, `["0x12"]`},
		{"count bad filter", MethodGetTransactionCount, `["` + recipient + `","safe-ish"]`},
		{"garbage", MethodPersonalSign, `not json`},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			req, err := decode(t, c.method, c.params)
			require.Error(t, err)
			assert.Nil(t, req)
			assert.True(t, errors.Is(err, ErrDecode), "got %v", err)
		})
	}
}

func TestDecodeSign(t *testing.T) {
	req, err := decode(t, MethodSign, `["`+recipient+`","0xdeadbeef"]`)
	require.NoError(t, err)
	sign := req.(SignMessageRequest)
	assert.Equal(t, common.HexToAddress(recipient), sign.Address)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, sign.Message)
}

func TestDecodePersonalSign(t *testing.T) {
	cases := map[string]struct {
		params  string
		message []byte
	}{
		"hex message":  {`["0x68656c6c6f","` + recipient + `"]`, []byte("hello")},
		"text message": {`["hello world","` + recipient + `"]`, []byte("hello world")},
		"swapped":      {`["` + recipient + `","0x68656c6c6f"]`, []byte("hello")},
		"bad hex text": {`["0xnothex","` + recipient + `"]`, []byte("0xnothex")},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			req, err := decode(t, MethodPersonalSign, c.params)
			require.NoError(t, err)
			sign := req.(SignPersonalMessageRequest)
			assert.Equal(t, common.HexToAddress(recipient), sign.Address)
			assert.Equal(t, c.message, sign.Message)
		})
	}
}

const typedDataDoc = `{"types":{"EIP712Domain":[{"name":"name","type":"string"}],"Mail":[{"name":"contents","type":"string"}]},"primaryType":"Mail","domain":{"name":"Ether Mail"},"message":{"contents":"Hello"}}`

func TestDecodeSignTypedData(t *testing.T) {
	t.Run("v4 string", func(t *testing.T) {
		quoted, _ := json.Marshal(typedDataDoc)
		req, err := decode(t, MethodSignTypedDataV4, `["`+recipient+`",`+string(quoted)+`]`)
		require.NoError(t, err)
		td := req.(SignTypedDataRequest)
		assert.Equal(t, MethodSignTypedDataV4, td.Method())
		require.NotNil(t, td.TypedData)
		assert.Equal(t, "Mail", td.TypedData.PrimaryType)
		assert.JSONEq(t, typedDataDoc, string(td.Raw))
		assert.False(t, td.Legacy)
	})
	t.Run("v3 object", func(t *testing.T) {
		req, err := decode(t, MethodSignTypedDataV3, `["`+recipient+`",`+typedDataDoc+`]`)
		require.NoError(t, err)
		td := req.(SignTypedDataRequest)
		assert.Equal(t, MethodSignTypedDataV3, td.Method())
		assert.Equal(t, "Ether Mail", td.TypedData.Domain.Name)
	})
	t.Run("legacy v1", func(t *testing.T) {
		req, err := decode(t, MethodSignTypedData, `[[{"type":"string","name":"message","value":"Hi"}],"`+recipient+`"]`)
		require.NoError(t, err)
		td := req.(SignTypedDataRequest)
		assert.True(t, td.Legacy)
		assert.Nil(t, td.TypedData)
		assert.Equal(t, common.HexToAddress(recipient), td.Address)
	})
}

func TestDecodeRawAndCount(t *testing.T) {
	req, err := decode(t, MethodSendRawTransaction, `["F86B"]`)
	require.NoError(t, err)
	assert.Equal(t, "0xf86b", req.(SendRawTransactionRequest).Raw)

	req, err = decode(t, MethodGetTransactionCount, `["`+recipient+`"]`)
	require.NoError(t, err)
	assert.Equal(t, "latest", req.(GetTransactionCountRequest).Filter)

	req, err = decode(t, MethodGetTransactionCount, `["`+recipient+`","PENDING"]`)
	require.NoError(t, err)
	assert.Equal(t, "pending", req.(GetTransactionCountRequest).Filter)

	req, err = decode(t, MethodGetTransactionCount, `["`+recipient+`","0x10"]`)
	require.NoError(t, err)
	assert.Equal(t, "0x10", req.(GetTransactionCountRequest).Filter)
}

func TestDecodeUnknown(t *testing.T) {
	req, err := decode(t, "wallet_switchEthereumChain", `[{"chainId":"0x38"}]`)
	require.NoError(t, err)
	unknown := req.(UnknownRequest)
	assert.Equal(t, "wallet_switchEthereumChain", unknown.Method())
	assert.JSONEq(t, `[{"chainId":"0x38"}]`, string(unknown.Params))
}

func FuzzDecodeTransaction(f *testing.F) {
	f.Add(`[{"to":"` + recipient + `","value":"0x2710","data":"0x"}]`)
	f.Add(`[{"gasLimit":{"a":[1,2]},"value":"-0x1"}]`)
	f.Add(`[{"to":null,"nonce":"0xffffffffffffffffffffffffffff"}]`)
	f.Add(`[[]]`)
	f.Fuzz(func(t *testing.T, params string) {
		for _, method := range []string{MethodSendTransaction, MethodSignTransaction, MethodPersonalSign, MethodSignTypedDataV4} {
			req, err := Decode(Call{Method: method, Params: json.RawMessage(params)})
			if err != nil {
				if !errors.Is(err, ErrDecode) {
					t.Fatalf("%s: unexpected error kind %v", method, err)
				}
				continue
			}
			if send, ok := req.(SendTransactionRequest); ok {
				if send.Transaction.Value == nil || send.Transaction.Data == nil {
					t.Fatalf("defaults not applied: %+v", send.Transaction)
				}
			}
		}
	})
}
