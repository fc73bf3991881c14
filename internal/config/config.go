package config

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"moff.io/wallet-bridge/internal/chains"
	"moff.io/wallet-bridge/pkg/errors"
)

// DBCredential struct
type DBCredential struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

// GetRedisAddress prints redis credential info.
func (c *DBCredential) GetRedisAddress() string {
	return fmt.Sprintf("%v:%v", c.Address, c.Port)
}

func (c *DBCredential) Enabled() bool {
	return c.Address != ""
}

// Configuration struct
type Configuration struct {
	Log       Log          `yaml:"log"`
	Wallet    Wallet       `yaml:"wallet"`
	Relay     Relay        `yaml:"relay"`
	Bridge    Bridge       `yaml:"bridge"`
	Redis     DBCredential `yaml:"redis"`
	HTTP      HTTP         `yaml:"http"`
	Reporting Reporting    `yaml:"reporting"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Wallet struct {
	Accounts        []string `yaml:"accounts"`
	DefaultChainID  int64    `yaml:"default_chain_id"`
	EnabledChainIDs []int64  `yaml:"enabled_chain_ids"`
	Meta            Meta     `yaml:"meta"`
}

// Addresses returns the configured accounts, the active identity first.
func (w Wallet) Addresses() []common.Address {
	out := make([]common.Address, 0, len(w.Accounts))
	for _, a := range w.Accounts {
		out = append(out, common.HexToAddress(a))
	}
	return out
}

func (w Wallet) Networks() chains.NetworkSet {
	return chains.NewNetworkSet(w.EnabledChainIDs...)
}

type Meta struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	URL         string   `yaml:"url"`
	Icons       []string `yaml:"icons"`
}

type Relay struct {
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	DedupTTL     time.Duration `yaml:"dedup_ttl"`
	// ResetDedup 启动时清空redis中已记录的消息
	ResetDedup   bool          `yaml:"reset_dedup"`
}

type Bridge struct {
	// ApprovalTimeout 为0表示一直等待用户确认
	ApprovalTimeout    time.Duration `yaml:"approval_timeout"`
	QueueSize          int           `yaml:"queue_size"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	RejectWhenDetached bool          `yaml:"reject_when_detached"`
}

type HTTP struct {
	Address        string        `yaml:"address"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Reporting struct {
	Environment string        `yaml:"environment"`
	SentryDSN   string        `yaml:"sentry_dsn"`
	LarkWebhook string        `yaml:"lark_webhook"`
	LarkTitle   string        `yaml:"lark_title"`
	Silent      time.Duration `yaml:"silent"`
}

const ethereumChainID = 1

func defaults() Configuration {
	return Configuration{
		Log: Log{Level: "info"},
		Wallet: Wallet{
			DefaultChainID:  ethereumChainID,
			EnabledChainIDs: []int64{ethereumChainID},
			Meta:            Meta{Name: "Wallet Bridge", Icons: []string{}},
		},
		Relay: Relay{
			ReadTimeout:  time.Minute * 5,
			WriteTimeout: 10 * time.Second,
			DialTimeout:  15 * time.Second,
			DedupTTL:     10 * time.Minute,
		},
		Bridge: Bridge{QueueSize: 1024},
		HTTP:   HTTP{Address: ":8080", RequestTimeout: 30 * time.Second},
		Reporting: Reporting{
			Environment: "dev",
			LarkTitle:   "wallet bridge alarm",
			Silent:      time.Minute,
		},
	}
}

// Load reads the yaml file at path over the defaults and validates the result.
func Load(path string) (*Configuration, error) {
	dat, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("file %s does not exist", path)
		}
		return nil, errors.Wrap(err, "read config file")
	}
	return Parse(dat)
}

func Parse(dat []byte) (*Configuration, error) {
	t := defaults()
	if err := yaml.UnmarshalStrict(dat, &t); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Configuration) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	if len(c.Wallet.Accounts) == 0 {
		return errors.New("wallet.accounts: at least one account required")
	}
	for _, a := range c.Wallet.Accounts {
		if !common.IsHexAddress(a) {
			return errors.Errorf("wallet.accounts: %q is not a hex address", a)
		}
	}
	if len(c.Wallet.EnabledChainIDs) == 0 {
		return errors.New("wallet.enabled_chain_ids: at least one chain required")
	}
	for _, id := range c.Wallet.EnabledChainIDs {
		if !chains.Known(id) {
			return errors.Errorf("wallet.enabled_chain_ids: unknown chain %d", id)
		}
	}
	if !c.Wallet.Networks().Enabled(c.Wallet.DefaultChainID) {
		return errors.Errorf("wallet.default_chain_id: chain %d is not enabled", c.Wallet.DefaultChainID)
	}
	if c.Bridge.QueueSize <= 0 {
		return errors.New("bridge.queue_size must be positive")
	}
	if c.Bridge.RateLimitPerMinute < 0 || c.Bridge.ApprovalTimeout < 0 {
		return errors.New("bridge: negative rate limit or approval timeout")
	}
	return nil
}

var Global *Configuration

// Read reads configuration information from yml.
func Read() {
	configFilePath := flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	flag.Parse()
	logrus.Infof("Loading configuration file from %s", *configFilePath)
	globalConfig, err := Load(*configFilePath)
	if err != nil {
		logrus.Fatal(err)
	}
	Global = globalConfig
}
