package main

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	flags "github.com/jessevdk/go-flags"
	"github.com/vulpemventures/go-elements/network"
)

const defaultNetwork = "liquid"

// config defines the configuration options for descinfo.
//
// See loadConfig for details on the configuration load process.
type config struct {
	Network string `short:"n" long:"network" description:"Network to encode addresses for {liquid, testnet, regtest}"`
	Index   uint32 `short:"i" long:"index" description:"Derivation index used for wildcard descriptors"`
	Blinder string `long:"blinder" description:"Hex encoded blinding public key, yields confidential addresses"`
	Scripts bool   `short:"s" long:"scripts" description:"Show the output script and the underlying witness or redeem script"`
	Split   bool   `long:"split" description:"Split multipath descriptors into their single path descriptors"`
}

// netParams maps the network flag to its parameters.
func netParams(name string) (*network.Network, error) {
	switch name {
	case "liquid":
		return &network.Liquid, nil
	case "testnet":
		return &network.Testnet, nil
	case "regtest":
		return &network.Regtest, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, []string, error) {
	cfg := config{
		Network: defaultNetwork,
	}
	parser := flags.NewParser(&cfg, flags.Default)
	parser.Usage = "[OPTIONS] DESCRIPTOR..."
	remainingArgs, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}
	if len(remainingArgs) == 0 {
		return nil, nil, fmt.Errorf("no descriptors given")
	}
	if _, err := netParams(cfg.Network); err != nil {
		return nil, nil, err
	}
	return &cfg, remainingArgs, nil
}

// blindingKey parses the optional blinding public key flag.
func (cfg *config) blindingKey() (*btcec.PublicKey, error) {
	if cfg.Blinder == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(cfg.Blinder)
	if err != nil {
		return nil, fmt.Errorf("invalid blinding key: %v", err)
	}
	return btcec.ParsePubKey(raw)
}
