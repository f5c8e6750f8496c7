package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"codice/cmd/internal/passphrase"
)

const defaultRPCEndpoint = "http://localhost:8080/rpc"

type passphraseSource interface {
	Get() (string, error)
}

// cli carries the process-wide settings shared by every command.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	rpc    *rpcClient
	pass   passphraseSource
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	endpoint := os.Getenv("CODICE_RPC_URL")
	if strings.TrimSpace(endpoint) == "" {
		endpoint = defaultRPCEndpoint
	}
	args, endpoint, err := applyGlobalFlags(args, endpoint)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	c := &cli{
		stdout: stdout,
		stderr: stderr,
		rpc:    newRPCClient(endpoint, os.Getenv("CODICE_RPC_TOKEN")),
		pass:   passphrase.NewSource(passphrase.DefaultEnvVar, ""),
	}
	return c.dispatch(args)
}

func (c *cli) dispatch(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, usage())
		return 1
	}
	switch args[0] {
	case "key":
		return c.runKey(args[1:])
	case "account":
		return c.runAccount(args[1:])
	case "receipt":
		return c.runReceipt(args[1:])
	case "tx":
		return c.runTx(args[1:])
	case "authenticate":
		return c.runAuthenticate(args[1:])
	case "call":
		return c.runCall(args[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(c.stdout, usage())
		return 0
	default:
		fmt.Fprintf(c.stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(c.stderr, usage())
		return 1
	}
}

func applyGlobalFlags(args []string, endpoint string) ([]string, string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, "", fmt.Errorf("missing value for --rpc")
			}
			endpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			endpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, endpoint, nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func (c *cli) fail(format string, args ...interface{}) int {
	fmt.Fprintf(c.stderr, "Error: "+format+"\n", args...)
	return 1
}

func (c *cli) printJSON(raw json.RawMessage) int {
	var pretty interface{}
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fmt.Fprintln(c.stdout, string(raw))
		return 0
	}
	encoded, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return c.fail("format result: %v", err)
	}
	fmt.Fprintln(c.stdout, string(encoded))
	return 0
}

func usage() string {
	return strings.TrimSpace(`
Usage: codice-cli [--rpc <url>] <command> [flags]

Wallet:
  key new --out <file> [--light-kdf]     generate a key into an encrypted keystore
  key address --key <file>                print the address of a keystore

Reads:
  account <address>                       nonce and native balance
  receipt <0x-hash>                       committed transaction receipt
  call <method> [json-params]             raw JSON-RPC read
  authenticate --key <file> --ledger <address> --token <id> [--ttl 1m]

Transactions (all take --key <file>):
  tx transfer --to <address> --amount <n>
  tx deploy-ledger --base-uri <uri> [--name <s>] [--symbol <s>]
  tx deploy-coordinator --fee-percent <0-100>
  tx mint --ledger <address> --to <address> --value <n> --currency <code> --artist <s> --object <s> --auth-uri <uri>
  tx mint-batch --ledger <address> --to <address> --currency <code> --artist <s> --values a,b --objects a,b --auth-uris a,b
  tx transfer-value --ledger <address> --from <address> --to <address> --token <id> --value <n> [--currency <code>]
  tx approve --ledger <address> --to <address> --token <id>
  tx approve-all --ledger <address> --operator <address> [--revoke]
  tx grant-role|revoke-role --ledger <address> --role <ADMIN|MINTER|AUTHENTICATOR> --account <address>
  tx renounce-role --ledger <address> --role <name>
  tx list --coordinator <address> --ledger <address> --token <id> [--claimer <address>] [--price <n>]
  tx claim --coordinator <address> --item <id> --payment <n>

Environment: CODICE_RPC_URL, CODICE_RPC_TOKEN, CODICE_KEYSTORE_PASSPHRASE`)
}
