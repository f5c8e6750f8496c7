package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"codice/core/types"
	"codice/crypto"
)

// txSpec is an unsigned transaction assembled from command flags.
type txSpec struct {
	txType  types.TxType
	to      string
	value   *big.Int
	payload interface{}
}

// txBuilder registers its flags and returns a function that assembles the
// transaction once the flags are parsed.
type txBuilder func(fs *flag.FlagSet) func() (txSpec, error)

var txBuilders = map[string]txBuilder{
	"transfer":           buildTransfer,
	"deploy-ledger":      buildDeployLedger,
	"deploy-coordinator": buildDeployCoordinator,
	"mint":               buildMint,
	"mint-batch":         buildMintBatch,
	"transfer-value":     buildTransferValue,
	"approve":            buildApprove,
	"approve-all":        buildApproveAll,
	"grant-role":         buildRole(types.TxTypeGrantRole, true),
	"revoke-role":        buildRole(types.TxTypeRevokeRole, true),
	"renounce-role":      buildRole(types.TxTypeRenounceRole, false),
	"list":               buildList,
	"claim":              buildClaim,
}

func (c *cli) runTx(args []string) int {
	if len(args) == 0 {
		return c.fail("tx requires a subcommand (%s)", strings.Join(txCommandNames(), ", "))
	}
	builder, ok := txBuilders[args[0]]
	if !ok {
		return c.fail("unknown tx subcommand %q", args[0])
	}
	fs := newFlagSet("tx "+args[0], c.stderr)
	keyFile := fs.String("key", "", "keystore file of the signer")
	build := builder(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return c.fail("unexpected positional arguments: %s", strings.Join(fs.Args(), " "))
	}
	spec, err := build()
	if err != nil {
		return c.fail("%v", err)
	}
	key, err := c.loadKey(*keyFile)
	if err != nil {
		return c.fail("%v", err)
	}
	receipt, err := c.submit(key, spec)
	if err != nil {
		return c.fail("%v", err)
	}
	return c.printJSON(receipt)
}

func txCommandNames() []string {
	names := make([]string, 0, len(txBuilders))
	for name := range txBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// submit fetches the chain id and the signer's nonce, signs the transaction
// and sends it. The node's receipt is returned verbatim.
func (c *cli) submit(key *crypto.PrivateKey, spec txSpec) (json.RawMessage, error) {
	var chainID uint64
	if err := c.rpc.callInto(&chainID, "coa_chainId"); err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	var account struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := c.rpc.callInto(&account, "coa_getAccount", key.PubKey().Address().String()); err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}

	tx := &types.Transaction{
		ChainID: chainID,
		Type:    spec.txType,
		Nonce:   account.Nonce,
		Value:   spec.value,
	}
	if spec.to != "" {
		to, err := crypto.ParseAddress(spec.to)
		if err != nil {
			return nil, fmt.Errorf("target address: %w", err)
		}
		tx.To = to[:]
	}
	if spec.payload != nil {
		if err := tx.SetPayload(spec.payload); err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return c.rpc.call("coa_sendTransaction", tx)
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}

func parsePositiveAmount(name, raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("--%s must be a non-negative integer", name)
	}
	return amount, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func buildTransfer(fs *flag.FlagSet) func() (txSpec, error) {
	to := fs.String("to", "", "recipient address")
	amount := fs.String("amount", "", "native amount")
	return func() (txSpec, error) {
		if err := required("to", *to); err != nil {
			return txSpec{}, err
		}
		value, err := parsePositiveAmount("amount", *amount)
		if err != nil {
			return txSpec{}, err
		}
		return txSpec{txType: types.TxTypeTransfer, to: *to, value: value}, nil
	}
}

func buildDeployLedger(fs *flag.FlagSet) func() (txSpec, error) {
	name := fs.String("name", "", "collection name")
	symbol := fs.String("symbol", "", "collection symbol")
	baseURI := fs.String("base-uri", "", "base URI for token metadata")
	return func() (txSpec, error) {
		return txSpec{
			txType:  types.TxTypeDeployLedger,
			payload: types.DeployLedgerPayload{Name: *name, Symbol: *symbol, BaseURI: *baseURI},
		}, nil
	}
}

func buildDeployCoordinator(fs *flag.FlagSet) func() (txSpec, error) {
	fee := fs.Uint64("fee-percent", 0, "fee charged on claims, 0-100")
	return func() (txSpec, error) {
		if *fee > 100 {
			return txSpec{}, errors.New("--fee-percent must be between 0 and 100")
		}
		return txSpec{
			txType:  types.TxTypeDeployCoordinator,
			payload: types.DeployCoordinatorPayload{FeePercent: *fee},
		}, nil
	}
}

func buildMint(fs *flag.FlagSet) func() (txSpec, error) {
	ledger := fs.String("ledger", "", "ledger address")
	to := fs.String("to", "", "initial owner")
	value := fs.String("value", "0", "initial valuation")
	currency := fs.String("currency", "", "valuation currency code")
	artist := fs.String("artist", "", "artist name")
	object := fs.String("object", "", "object name")
	authURI := fs.String("auth-uri", "", "authentication document URI")
	return func() (txSpec, error) {
		for _, f := range []struct{ name, value string }{{"ledger", *ledger}, {"to", *to}, {"currency", *currency}} {
			if err := required(f.name, f.value); err != nil {
				return txSpec{}, err
			}
		}
		return txSpec{
			txType: types.TxTypeMint,
			to:     *ledger,
			payload: types.MintPayload{
				To:         *to,
				Value:      *value,
				Currency:   *currency,
				ArtistName: *artist,
				ObjectName: *object,
				AuthURI:    *authURI,
			},
		}, nil
	}
}

func buildMintBatch(fs *flag.FlagSet) func() (txSpec, error) {
	ledger := fs.String("ledger", "", "ledger address")
	to := fs.String("to", "", "initial owner of every item")
	currency := fs.String("currency", "", "valuation currency code")
	artist := fs.String("artist", "", "artist name")
	values := fs.String("values", "", "comma separated valuations")
	objects := fs.String("objects", "", "comma separated object names")
	authURIs := fs.String("auth-uris", "", "comma separated authentication URIs")
	return func() (txSpec, error) {
		for _, f := range []struct{ name, value string }{{"ledger", *ledger}, {"to", *to}, {"currency", *currency}, {"values", *values}} {
			if err := required(f.name, f.value); err != nil {
				return txSpec{}, err
			}
		}
		return txSpec{
			txType: types.TxTypeMintBatch,
			to:     *ledger,
			payload: types.MintBatchPayload{
				To:          *to,
				Currency:    *currency,
				ArtistName:  *artist,
				Values:      splitList(*values),
				ObjectNames: splitList(*objects),
				AuthURIs:    splitList(*authURIs),
			},
		}, nil
	}
}

func buildTransferValue(fs *flag.FlagSet) func() (txSpec, error) {
	ledger := fs.String("ledger", "", "ledger address")
	from := fs.String("from", "", "current owner")
	to := fs.String("to", "", "new owner")
	token := fs.Uint64("token", 0, "token id")
	value := fs.String("value", "", "new valuation")
	currency := fs.String("currency", "", "new currency code (defaults to the current one)")
	return func() (txSpec, error) {
		for _, f := range []struct{ name, value string }{{"ledger", *ledger}, {"from", *from}, {"to", *to}, {"value", *value}} {
			if err := required(f.name, f.value); err != nil {
				return txSpec{}, err
			}
		}
		return txSpec{
			txType: types.TxTypeTransferValue,
			to:     *ledger,
			payload: types.TransferValuePayload{
				From:        *from,
				To:          *to,
				TokenID:     *token,
				NewValue:    *value,
				NewCurrency: *currency,
			},
		}, nil
	}
}

func buildApprove(fs *flag.FlagSet) func() (txSpec, error) {
	ledger := fs.String("ledger", "", "ledger address")
	to := fs.String("to", "", "approved address")
	token := fs.Uint64("token", 0, "token id")
	return func() (txSpec, error) {
		if err := required("ledger", *ledger); err != nil {
			return txSpec{}, err
		}
		return txSpec{
			txType:  types.TxTypeApprove,
			to:      *ledger,
			payload: types.ApprovePayload{To: *to, TokenID: *token},
		}, nil
	}
}

func buildApproveAll(fs *flag.FlagSet) func() (txSpec, error) {
	ledger := fs.String("ledger", "", "ledger address")
	operator := fs.String("operator", "", "operator address")
	revoke := fs.Bool("revoke", false, "revoke instead of grant")
	return func() (txSpec, error) {
		for _, f := range []struct{ name, value string }{{"ledger", *ledger}, {"operator", *operator}} {
			if err := required(f.name, f.value); err != nil {
				return txSpec{}, err
			}
		}
		return txSpec{
			txType:  types.TxTypeSetApprovalForAll,
			to:      *ledger,
			payload: types.ApprovalForAllPayload{Operator: *operator, Approved: !*revoke},
		}, nil
	}
}

func buildRole(txType types.TxType, needsAccount bool) txBuilder {
	return func(fs *flag.FlagSet) func() (txSpec, error) {
		ledger := fs.String("ledger", "", "ledger address")
		role := fs.String("role", "", "role label or 0x-prefixed id")
		var account *string
		if needsAccount {
			account = fs.String("account", "", "account address")
		}
		return func() (txSpec, error) {
			for _, f := range []struct{ name, value string }{{"ledger", *ledger}, {"role", *role}} {
				if err := required(f.name, f.value); err != nil {
					return txSpec{}, err
				}
			}
			payload := types.RolePayload{Role: *role}
			if needsAccount {
				if err := required("account", *account); err != nil {
					return txSpec{}, err
				}
				payload.Account = *account
			}
			return txSpec{txType: txType, to: *ledger, payload: payload}, nil
		}
	}
}

func buildList(fs *flag.FlagSet) func() (txSpec, error) {
	coordinator := fs.String("coordinator", "", "coordinator address")
	ledger := fs.String("ledger", "", "ledger address")
	token := fs.Uint64("token", 0, "token id")
	claimer := fs.String("claimer", "", "designated claimer (anyone when empty)")
	price := fs.String("price", "", "claim price")
	return func() (txSpec, error) {
		for _, f := range []struct{ name, value string }{{"coordinator", *coordinator}, {"ledger", *ledger}} {
			if err := required(f.name, f.value); err != nil {
				return txSpec{}, err
			}
		}
		return txSpec{
			txType:  types.TxTypeListCertificate,
			to:      *coordinator,
			payload: types.ListPayload{Ledger: *ledger, TokenID: *token, Claimer: *claimer, Price: *price},
		}, nil
	}
}

func buildClaim(fs *flag.FlagSet) func() (txSpec, error) {
	coordinator := fs.String("coordinator", "", "coordinator address")
	item := fs.Uint64("item", 0, "listing item id")
	payment := fs.String("payment", "0", "maximum native amount to pay")
	return func() (txSpec, error) {
		if err := required("coordinator", *coordinator); err != nil {
			return txSpec{}, err
		}
		value, err := parsePositiveAmount("payment", *payment)
		if err != nil {
			return txSpec{}, err
		}
		return txSpec{
			txType:  types.TxTypeClaimListing,
			to:      *coordinator,
			value:   value,
			payload: types.ClaimPayload{ItemID: *item},
		}, nil
	}
}
