package main

import (
	"encoding/json"
	"strings"
	"time"

	"codice/core/types"
	"codice/crypto"
)

func (c *cli) runAccount(args []string) int {
	if len(args) != 1 {
		return c.fail("usage: account <address>")
	}
	raw, err := c.rpc.call("coa_getAccount", strings.TrimSpace(args[0]))
	if err != nil {
		return c.fail("%v", err)
	}
	return c.printJSON(raw)
}

func (c *cli) runReceipt(args []string) int {
	if len(args) != 1 {
		return c.fail("usage: receipt <0x-hash>")
	}
	raw, err := c.rpc.call("coa_getReceipt", strings.TrimSpace(args[0]))
	if err != nil {
		return c.fail("%v", err)
	}
	return c.printJSON(raw)
}

// runCall forwards a read method with an optional JSON object parameter.
func (c *cli) runCall(args []string) int {
	if len(args) == 0 || len(args) > 2 {
		return c.fail("usage: call <method> [json-params]")
	}
	method := strings.TrimSpace(args[0])
	if method == "coa_sendTransaction" {
		return c.fail("use the tx commands to submit transactions")
	}
	var params []interface{}
	if len(args) == 2 {
		var param json.RawMessage
		if err := json.Unmarshal([]byte(args[1]), &param); err != nil {
			return c.fail("params must be valid JSON: %v", err)
		}
		params = append(params, param)
	}
	raw, err := c.rpc.call(method, params...)
	if err != nil {
		return c.fail("%v", err)
	}
	return c.printJSON(raw)
}

// runAuthenticate signs a short-lived read request and asks the node for the
// token's authentication document.
func (c *cli) runAuthenticate(args []string) int {
	fs := newFlagSet("authenticate", c.stderr)
	keyFile := fs.String("key", "", "keystore file of the caller")
	ledgerFlag := fs.String("ledger", "", "ledger address")
	token := fs.Uint64("token", 0, "token id")
	ttl := fs.Duration("ttl", time.Minute, "how long the signed request stays valid")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := required("ledger", *ledgerFlag); err != nil {
		return c.fail("%v", err)
	}
	if *ttl <= 0 {
		return c.fail("--ttl must be positive")
	}
	ledger, err := crypto.ParseAddress(*ledgerFlag)
	if err != nil {
		return c.fail("ledger address: %v", err)
	}
	key, err := c.loadKey(*keyFile)
	if err != nil {
		return c.fail("%v", err)
	}
	var chainID uint64
	if err := c.rpc.callInto(&chainID, "coa_chainId"); err != nil {
		return c.fail("fetch chain id: %v", err)
	}

	req := &types.ReadRequest{
		ChainID: chainID,
		Ledger:  ledger,
		TokenID: *token,
		Expiry:  time.Now().Add(*ttl).Unix(),
	}
	if err := req.Sign(key.PrivateKey); err != nil {
		return c.fail("sign request: %v", err)
	}
	raw, err := c.rpc.call("certificate_authenticate", map[string]interface{}{
		"chainId": req.ChainID,
		"ledger":  crypto.FormatAddress(req.Ledger),
		"tokenId": req.TokenID,
		"expiry":  req.Expiry,
		"r":       req.R,
		"s":       req.S,
		"v":       req.V,
	})
	if err != nil {
		return c.fail("%v", err)
	}
	return c.printJSON(raw)
}
