// Package chainconfig loads the per-chain YAML configuration files that
// parameterize one coordinator instance per chain: the node RPC endpoint,
// the pool's payout and primary addresses, fee schedule, and webhook
// targets.
package chainconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chimerapool/stakepool-coordinator/internal/config"
	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
	"github.com/chimerapool/stakepool-coordinator/internal/validation"
)

// NodeConfig holds the connection details for one chain's daemon.
type NodeConfig struct {
	RPCUser            string `yaml:"rpc_user"`
	RPCPassword        string `yaml:"rpc_password"`
	RPCHost            string `yaml:"rpc_host"`
	RPCPort            int    `yaml:"rpc_port"`
	ZMQPortBlockNotify int    `yaml:"zmq_port_blocknotify"`
}

// Chain is the fully resolved configuration for one chain's coordinator.
type Chain struct {
	ChainName          string                     `yaml:"chain_name"`
	ChainID            poolmodel.CurrencyAddress  `yaml:"chain_id"`
	PoolAddress        poolmodel.CurrencyAddress  `yaml:"pool_address"`
	PoolPrimaryAddress poolmodel.CurrencyAddress  `yaml:"pool_primary_address"`
	Fee                string                     `yaml:"fee"`
	MinPayoutSats      int64                      `yaml:"min_payout"`
	TxFeeSats          int64                      `yaml:"tx_fee"`
	WebhookEndpoints   []string                   `yaml:"webhook_endpoints"`
	IsTestChain        bool                       `yaml:"is_test_chain"`
	Node               NodeConfig                 `yaml:"chain_config"`
}

// FeeFraction returns the configured fee as a Money fraction (e.g. 0.01 == 1%).
func (c Chain) FeeFraction() (poolmodel.Money, error) {
	return poolmodel.NewMoneyFromString(c.Fee)
}

// MinPayout returns the configured payout threshold.
func (c Chain) MinPayout() poolmodel.Money {
	return poolmodel.NewMoneyFromSats(c.MinPayoutSats)
}

// TxFee returns the configured chain transaction fee.
func (c Chain) TxFee() poolmodel.Money {
	return poolmodel.NewMoneyFromSats(c.TxFeeSats)
}

// Load reads and validates one chain configuration file. Environment
// variables of the form STAKEPOOL_<CHAIN_ID>_<KEY>, with KEY one of
// RPC_USER, RPC_PASSWORD, RPC_HOST, RPC_PORT and ZMQ_PORT_BLOCKNOTIFY,
// override the matching chain_config fields so secrets don't need to live
// in the YAML file on disk.
func Load(path string) (*Chain, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &poolmodel.ConfigError{Field: "path", Err: err}
	}

	var c Chain
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, &poolmodel.ConfigError{Field: "yaml", Err: err}
	}

	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *Chain) applyEnvOverrides() error {
	prefix := envPrefix(c.ChainID)
	c.Node.RPCUser = config.GetEnv(prefix+"_RPC_USER", c.Node.RPCUser)
	c.Node.RPCPassword = config.GetEnv(prefix+"_RPC_PASSWORD", c.Node.RPCPassword)
	c.Node.RPCHost = config.GetEnv(prefix+"_RPC_HOST", c.Node.RPCHost)
	c.Node.RPCPort = config.GetEnvInt(prefix+"_RPC_PORT", c.Node.RPCPort)
	c.Node.ZMQPortBlockNotify = config.GetEnvInt(prefix+"_ZMQ_PORT_BLOCKNOTIFY", c.Node.ZMQPortBlockNotify)
	return nil
}

func envPrefix(chainID poolmodel.CurrencyAddress) string {
	return "STAKEPOOL_" + string(chainID)
}

func (c *Chain) validate() error {
	if c.ChainName == "" {
		return &poolmodel.ConfigError{Field: "chain_name", Err: fmt.Errorf("must not be empty")}
	}
	if c.ChainID == "" {
		return &poolmodel.ConfigError{Field: "chain_id", Err: fmt.Errorf("must not be empty")}
	}
	if err := validation.ValidateCurrencyAddress(string(c.PoolAddress)); err != nil {
		return &poolmodel.ConfigError{Field: "pool_address", Err: err}
	}
	if err := validation.ValidateTransparentAddress(string(c.PoolPrimaryAddress)); err != nil {
		return &poolmodel.ConfigError{Field: "pool_primary_address", Err: err}
	}
	fee, err := c.FeeFraction()
	if err != nil {
		return &poolmodel.ConfigError{Field: "fee", Err: err}
	}
	one := poolmodel.NewMoneyFromSats(100_000_000)
	if fee.IsNegative() || !fee.LessThan(one) {
		return &poolmodel.ConfigError{Field: "fee", Err: fmt.Errorf("must be in [0, 1)")}
	}
	if c.MinPayoutSats < 0 {
		return &poolmodel.ConfigError{Field: "min_payout", Err: fmt.Errorf("must be >= 0")}
	}
	if c.Node.RPCHost == "" {
		return &poolmodel.ConfigError{Field: "chain_config.rpc_host", Err: fmt.Errorf("must not be empty")}
	}
	if c.Node.RPCPort <= 0 {
		return &poolmodel.ConfigError{Field: "chain_config.rpc_port", Err: fmt.Errorf("must be > 0")}
	}
	if c.Node.ZMQPortBlockNotify <= 0 {
		return &poolmodel.ConfigError{Field: "chain_config.zmq_port_blocknotify", Err: fmt.Errorf("must be > 0")}
	}
	return nil
}

// LoadDir loads every *.yaml file in a directory, one chain configuration
// per file. One coordinator runs per chain; all of them share one store.
func LoadDir(dir string) ([]*Chain, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &poolmodel.ConfigError{Field: "dir", Err: err}
	}

	var chains []*Chain
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !hasYAMLExt(name) {
			continue
		}
		c, err := Load(dir + "/" + name)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", name, err)
		}
		chains = append(chains, c)
	}
	return chains, nil
}

func hasYAMLExt(name string) bool {
	if len(name) > 5 && name[len(name)-5:] == ".yaml" {
		return true
	}
	return len(name) > 4 && name[len(name)-4:] == ".yml"
}
