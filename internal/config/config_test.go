package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
log:
  level: debug
wallet:
  accounts: ["0x1111111111111111111111111111111111111111"]
  default_chain_id: 56
  enabled_chain_ids: [1, 56]
  meta:
    name: test wallet
    icons: ["https://example.com/icon.png"]
relay:
  read_timeout: 1m
bridge:
  approval_timeout: 30s
  rate_limit_per_minute: 60
redis:
  address: 127.0.0.1
  port: "6379"
http:
  address: ":9090"
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, ioutil.WriteFile(path, []byte(sample), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Log.Level)
	assert.EqualValues(t, 56, c.Wallet.DefaultChainID)
	assert.Equal(t, []int64{1, 56}, c.Wallet.Networks().IDs())
	assert.Equal(t, "test wallet", c.Wallet.Meta.Name)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", c.Wallet.Addresses()[0].Hex())
	assert.Equal(t, time.Minute, c.Relay.ReadTimeout)
	// untouched fields keep their defaults
	assert.Equal(t, 10*time.Second, c.Relay.WriteTimeout)
	assert.Equal(t, 1024, c.Bridge.QueueSize)
	assert.Equal(t, 30*time.Second, c.Bridge.ApprovalTimeout)
	assert.True(t, c.Redis.Enabled())
	assert.Equal(t, "127.0.0.1:6379", c.Redis.GetRedisAddress())
	assert.Equal(t, ":9090", c.HTTP.Address)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestParseInvalid(t *testing.T) {
	account := `["0x1111111111111111111111111111111111111111"]`
	cases := map[string]string{
		"no accounts":      "wallet: {accounts: []}",
		"bad account":      `wallet: {accounts: ["0xnope"]}`,
		"unknown chain":    "wallet: {accounts: " + account + ", enabled_chain_ids: [424242], default_chain_id: 424242}",
		"default disabled": "wallet: {accounts: " + account + ", enabled_chain_ids: [1], default_chain_id: 56}",
		"bad level":        "log: {level: loud}\nwallet: {accounts: " + account + "}",
		"unknown field":    "wallet: {accounts: " + account + "}\nkafka-server: localhost",
		"zero queue":       "wallet: {accounts: " + account + "}\nbridge: {queue_size: 0}",
	}
	for name, doc := range cases {
		doc := doc
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte(`wallet: {accounts: ["0x1111111111111111111111111111111111111111"]}`))
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.Wallet.DefaultChainID)
	assert.False(t, c.Redis.Enabled())
	assert.Equal(t, ":8080", c.HTTP.Address)
	assert.Equal(t, time.Minute, c.Reporting.Silent)
}

func TestExampleConfigParses(t *testing.T) {
	c, err := Load("config.example.yml")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 56, 137}, c.Wallet.Networks().IDs())
	assert.False(t, c.Relay.ResetDedup)
	assert.True(t, c.Redis.Enabled())
	assert.Equal(t, "127.0.0.1:6379", c.Redis.GetRedisAddress())
}
