package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"AgentFleet/internal/config"
	xerrors "AgentFleet/internal/errors"
	"AgentFleet/internal/web3"
	"AgentFleet/internal/web3/ethereum"
)

// Registry holds the immutable network profiles and connects per-account
// clients to the default network.
type Registry struct {
	defaultNetwork string
	profiles       map[string]web3.Profile
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// NewRegistry merges the built-in profiles with configs/chain.yaml entries.
func NewRegistry(cfg config.Web3Config) (*Registry, error) {
	profiles := web3.DefaultProfiles()

	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	for name, def := range defs.Chains {
		profile, err := def.Profile(name)
		if err != nil {
			return nil, err
		}
		profiles[name] = profile
	}

	network := strings.TrimSpace(cfg.Network)
	if network == "" {
		network = web3.DefaultNetwork
	}
	if _, ok := profiles[network]; !ok {
		return nil, fmt.Errorf("默认网络 %s 未在配置中找到", network)
	}

	return &Registry{
		defaultNetwork: network,
		profiles:       profiles,
		confirmTimeout: cfg.ConfirmTimeout(),
		pollInterval:   cfg.PollInterval(),
	}, nil
}

// Default returns the profile workers connect to.
func (r *Registry) Default() web3.Profile {
	return r.profiles[r.defaultNetwork]
}

// Profile returns the profile identified by name.
func (r *Registry) Profile(name string) (web3.Profile, bool) {
	if r == nil {
		return web3.Profile{}, false
	}
	profile, ok := r.profiles[name]
	return profile, ok
}

// Networks returns the registered network names.
func (r *Registry) Networks() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connect derives the signer for identity and dials the default network.
// Every failure here is a setup failure for the owning account.
func (r *Registry) Connect(ctx context.Context, identity string) (web3.Client, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "未初始化的网络注册表")
	}
	signer, err := ethereum.ParseIdentity(identity)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "账户私钥或助记词无效")
	}
	client, err := ethereum.Dial(ctx, ethereum.Config{
		Profile:        r.Default(),
		ConfirmTimeout: r.confirmTimeout,
		PollInterval:   r.pollInterval,
	}, signer)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, fmt.Sprintf("连接网络 %s 失败", r.defaultNetwork))
	}
	return client, nil
}
