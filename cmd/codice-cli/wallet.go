package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"codice/crypto"
)

func (c *cli) runKey(args []string) int {
	if len(args) == 0 {
		return c.fail("key requires a subcommand (new, address)")
	}
	switch args[0] {
	case "new":
		return c.runKeyNew(args[1:])
	case "address":
		return c.runKeyAddress(args[1:])
	default:
		return c.fail("unknown key subcommand %q", args[0])
	}
}

func (c *cli) runKeyNew(args []string) int {
	fs := newFlagSet("key new", c.stderr)
	out := fs.String("out", "wallet.json", "keystore file to create")
	lightKDF := fs.Bool("light-kdf", false, "use weak scrypt parameters (development only)")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !*force {
		if _, err := os.Stat(*out); err == nil {
			return c.fail("%s already exists; pass --force to overwrite", *out)
		} else if !errors.Is(err, os.ErrNotExist) {
			return c.fail("%v", err)
		}
	}
	pass, err := c.pass.Get()
	if err != nil {
		return c.fail("%v", err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return c.fail("generate key: %v", err)
	}
	var opts []crypto.KeystoreOption
	if *lightKDF {
		opts = append(opts, crypto.WithLightKDF())
	}
	if err := crypto.SaveToKeystore(*out, key, pass, opts...); err != nil {
		return c.fail("write keystore: %v", err)
	}
	fmt.Fprintf(c.stdout, "Keystore written to %s\n", *out)
	fmt.Fprintf(c.stdout, "Address: %s\n", key.PubKey().Address().String())
	return 0
}

func (c *cli) runKeyAddress(args []string) int {
	fs := newFlagSet("key address", c.stderr)
	keyFile := fs.String("key", "", "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := c.loadKey(*keyFile)
	if err != nil {
		return c.fail("%v", err)
	}
	fmt.Fprintln(c.stdout, key.PubKey().Address().String())
	return 0
}

func (c *cli) loadKey(path string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("--key is required")
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("keystore %s not found; run `codice-cli key new --out %s` first", path, path)
		}
		return nil, err
	}
	pass, err := c.pass.Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}
