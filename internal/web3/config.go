package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultNetwork is the profile used when no network is configured.
const DefaultNetwork = "kiteai"

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single network profile entry.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	ChainID     uint64 `yaml:"chain_id"`
	RPCURL      string `yaml:"rpc_url"`
	ExplorerURL string `yaml:"explorer_url"`
	Symbol      string `yaml:"symbol"`
	Decimals    *int32 `yaml:"decimals"`
	Description string `yaml:"description"`
}

// Profile converts the definition into an immutable network profile.
func (d ChainDefinition) Profile(name string) (Profile, error) {
	if t := strings.ToLower(strings.TrimSpace(d.Type)); t != "" && t != "evm" {
		return Profile{}, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, d.Type)
	}
	if d.ChainID == 0 {
		return Profile{}, fmt.Errorf("链 %s 缺少 chain_id", name)
	}
	if strings.TrimSpace(d.RPCURL) == "" {
		return Profile{}, fmt.Errorf("链 %s 缺少 rpc_url", name)
	}
	decimals := int32(18)
	if d.Decimals != nil {
		decimals = *d.Decimals
	}
	symbol := strings.TrimSpace(d.Symbol)
	if symbol == "" {
		symbol = "ETH"
	}
	return Profile{
		Name:        name,
		ChainID:     d.ChainID,
		RPCURL:      strings.TrimSpace(d.RPCURL),
		ExplorerURL: strings.TrimSpace(d.ExplorerURL),
		Symbol:      symbol,
		Decimals:    decimals,
	}, nil
}

// DefaultProfiles returns the built-in network table.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		DefaultNetwork: {
			Name:        DefaultNetwork,
			ChainID:     2368,
			RPCURL:      "https://rpc-testnet.gokite.ai",
			ExplorerURL: "https://testnet.kitescan.ai/",
			Symbol:      "KITE",
			Decimals:    18,
		},
	}
}

// LoadChainDefinitions parses the YAML file containing network metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}
