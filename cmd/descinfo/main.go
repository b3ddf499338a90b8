// descinfo inspects Elements output descriptors: it classifies the
// descriptor, normalizes it to its checksummed form and computes the output
// script and address, deriving wildcard keys at a chosen index.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btclog"

	"github.com/vulpemventures/go-descriptors/descriptor"
)

var (
	backend = btclog.NewBackend(os.Stderr)
	log     = backend.Logger("DESC")
)

func main() {
	cfg, args, err := loadConfig()
	if err != nil {
		os.Exit(1)
	}

	failed := false
	for _, arg := range args {
		if err := describe(cfg, arg); err != nil {
			log.Errorf("%s: %v", arg, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func describe(cfg *config, s string) error {
	info, err := descriptor.Info(s)
	if err != nil {
		return err
	}
	fmt.Printf("type: %s\n", info.Type)
	if info.IsPegin || info.IsLegacyPegin {
		// Pegin descriptors are classified but not resolved.
		return nil
	}

	d, keyMap, err := descriptor.ParseWithSecrets(s)
	if err != nil {
		return err
	}
	fmt.Printf("descriptor: %s\n", d.String())
	if tr, ok := d.(*descriptor.Tr[*descriptor.DescriptorPublicKey]); ok {
		if tr.HasExtension() {
			fmt.Println("tapscript extensions: covenant")
		}
	}
	if info.HasSecret {
		fmt.Printf("secret keys: %d\n", len(keyMap))
	}
	if err := d.SanityCheck(); err != nil {
		fmt.Printf("sanity: %v\n", err)
	}

	if cfg.Split && descriptor.IsMultipath(d) {
		singles, err := descriptor.IntoSingleDescriptors(d)
		if err != nil {
			return err
		}
		for _, single := range singles {
			fmt.Printf("single path: %s\n", single.String())
			if err := describeScripts(cfg, single); err != nil {
				return err
			}
		}
		return nil
	}
	if descriptor.IsMultipath(d) {
		// Addresses need a concrete derivation path.
		return nil
	}
	return describeScripts(cfg, d)
}

func describeScripts(cfg *config,
	d descriptor.Descriptor[*descriptor.DescriptorPublicKey]) error {

	net, err := netParams(cfg.Network)
	if err != nil {
		return err
	}
	blinder, err := cfg.blindingKey()
	if err != nil {
		return err
	}

	derived, err := descriptor.DerivedDescriptor(d, cfg.Index)
	if err != nil {
		return err
	}
	if descriptor.HasWildcard(d) {
		fmt.Printf("derivation index: %d\n", cfg.Index)
	}

	addr, err := derived.Address(net, blinder)
	switch {
	case errors.Is(err, descriptor.ErrNoAddress):
		fmt.Println("address: none")
	case err != nil:
		return err
	default:
		fmt.Printf("address: %s\n", addr)
	}

	if !cfg.Scripts {
		return nil
	}
	spk, err := derived.ScriptPubKey()
	if err != nil {
		return err
	}
	fmt.Printf("script pubkey: %x\n", spk)

	script, err := derived.ExplicitScript()
	switch {
	case errors.Is(err, descriptor.ErrTrNoScript):
	case err != nil:
		return err
	case hex.EncodeToString(script) != hex.EncodeToString(spk):
		fmt.Printf("script: %x\n", script)
	}

	weight, err := derived.MaxWeightToSatisfy()
	if err == nil {
		fmt.Printf("max satisfaction weight: %d\n", weight)
	}
	return nil
}
