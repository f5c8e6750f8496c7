package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"codice/core/events"
	"codice/core/state"
	"codice/core/types"
	"codice/crypto"
	"codice/native/certificate"
	"codice/native/common"
	"codice/native/listing"
)

// txContext carries the per-transaction overlay and outputs.
type txContext struct {
	mgr     *state.Manager
	emitter events.Emitter
	sender  [20]byte
	tx      *types.Transaction
	receipt *types.Receipt
}

// NativeTransferEvent records a plain balance transfer.
type NativeTransferEvent struct {
	From   [20]byte
	To     [20]byte
	Amount string
}

const EventTypeNativeTransfer = "account.transfer"

func (NativeTransferEvent) EventType() string { return EventTypeNativeTransfer }

func (e NativeTransferEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeNativeTransfer, Attributes: map[string]string{
		"from":   crypto.FormatAddress(e.From),
		"to":     crypto.FormatAddress(e.To),
		"amount": e.Amount,
	}}
}

func (n *Node) execute(c *txContext) error {
	tx := c.tx
	if tx.Value != nil && tx.Value.Sign() != 0 {
		switch tx.Type {
		case types.TxTypeTransfer, types.TxTypeClaimListing:
		default:
			return ErrUnexpectedValue
		}
	}
	switch tx.Type {
	case types.TxTypeTransfer:
		return n.applyNativeTransfer(c)
	case types.TxTypeDeployLedger:
		return n.applyDeployLedger(c)
	case types.TxTypeDeployCoordinator:
		return n.applyDeployCoordinator(c)
	case types.TxTypeMint, types.TxTypeMintBatch, types.TxTypeTransferValue,
		types.TxTypeApprove, types.TxTypeSetApprovalForAll,
		types.TxTypeGrantRole, types.TxTypeRevokeRole, types.TxTypeRenounceRole:
		return n.applyLedgerTx(c)
	case types.TxTypeListCertificate, types.TxTypeClaimListing:
		return n.applyCoordinatorTx(c)
	default:
		return fmt.Errorf("%w: 0x%02x", ErrUnknownTxType, byte(tx.Type))
	}
}

func decodePayload(data []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func target(tx *types.Transaction) ([20]byte, error) {
	var out [20]byte
	if len(tx.To) != len(out) {
		return out, fmt.Errorf("%w: target must be a 20 byte address", ErrInvalidPayload)
	}
	copy(out[:], tx.To)
	return out, nil
}

func parseAddress(field, raw string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return addr, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, field, err)
	}
	return addr, nil
}

// parseOptionalAddress maps an empty string to the zero address.
func parseOptionalAddress(field, raw string) ([20]byte, error) {
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, nil
	}
	return parseAddress(field, raw)
}

func parseValue(field, raw string) (*uint256.Int, error) {
	value, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, field, err)
	}
	return value, nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidPayload, field)
	}
	return amount, nil
}

func parseCurrency(field, raw string) (certificate.Currency, error) {
	currency, err := certificate.ParseCurrency(raw)
	if err != nil {
		return currency, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, field, err)
	}
	return currency, nil
}

func (n *Node) applyNativeTransfer(c *txContext) error {
	to, err := target(c.tx)
	if err != nil {
		return err
	}
	amount := c.tx.Value
	if amount == nil {
		amount = big.NewInt(0)
	}
	if err := c.mgr.TransferBalance(c.sender[:], to[:], amount); err != nil {
		return err
	}
	c.emitter.Emit(NativeTransferEvent{From: c.sender, To: to, Amount: amount.String()})
	return nil
}

// contractAddress derives the address of a contract deployed by sender at the
// given nonce.
func contractAddress(sender [20]byte, nonce uint64) [20]byte {
	return [20]byte(ethcrypto.CreateAddress(ethcommon.Address(sender), nonce))
}

func (n *Node) applyDeployLedger(c *txContext) error {
	if err := common.Guard(n.pauses, common.ModuleCertificate); err != nil {
		return err
	}
	var payload types.DeployLedgerPayload
	if err := decodePayload(c.tx.Data, &payload); err != nil {
		return err
	}
	addr := contractAddress(c.sender, c.tx.Nonce)
	if err := c.mgr.RegisterContract(addr[:], state.ContractLedger, c.sender[:]); err != nil {
		return err
	}
	engine := n.certificateEngine(c.mgr, addr, c.emitter)
	if _, err := engine.Deploy(c.sender, payload.Name, payload.Symbol, payload.BaseURI); err != nil {
		return err
	}
	c.receipt.Contract = addr
	return nil
}

func (n *Node) applyDeployCoordinator(c *txContext) error {
	if err := common.Guard(n.pauses, common.ModuleListing); err != nil {
		return err
	}
	var payload types.DeployCoordinatorPayload
	if err := decodePayload(c.tx.Data, &payload); err != nil {
		return err
	}
	addr := contractAddress(c.sender, c.tx.Nonce)
	if err := c.mgr.RegisterContract(addr[:], state.ContractCoordinator, c.sender[:]); err != nil {
		return err
	}
	engine := n.listingEngine(c.mgr, addr, c.emitter)
	if err := engine.Deploy(c.sender, payload.FeePercent); err != nil {
		return err
	}
	c.receipt.Contract = addr
	return nil
}

func quotaKey(sender [20]byte) []byte {
	return append([]byte("quota/"), sender[:]...)
}

// chargeQuota counts one request and minted certificates against the sender's
// allowance for the current epoch.
func (n *Node) chargeQuota(c *txContext, minted uint64) error {
	if !n.quota.Enabled() {
		return nil
	}
	var prev common.QuotaNow
	if _, err := c.mgr.KVGet(quotaKey(c.sender), &prev); err != nil {
		return err
	}
	next, err := common.CheckQuota(n.quota, n.quota.EpochAt(n.now().Unix()), prev, 1, minted)
	if err != nil {
		return err
	}
	return c.mgr.KVPut(quotaKey(c.sender), next)
}

func (n *Node) applyLedgerTx(c *txContext) error {
	if err := common.Guard(n.pauses, common.ModuleCertificate); err != nil {
		return err
	}
	addr, err := target(c.tx)
	if err != nil {
		return err
	}
	if err := requireKind(c.mgr, addr, state.ContractLedger); err != nil {
		return err
	}
	engine := n.certificateEngine(c.mgr, addr, c.emitter)

	switch c.tx.Type {
	case types.TxTypeMint:
		var payload types.MintPayload
		if err := decodePayload(c.tx.Data, &payload); err != nil {
			return err
		}
		req := certificate.MintRequest{
			ArtistName: payload.ArtistName,
			ObjectName: payload.ObjectName,
			AuthURI:    payload.AuthURI,
		}
		if req.To, err = parseAddress("to", payload.To); err != nil {
			return err
		}
		if req.Value, err = parseValue("value", payload.Value); err != nil {
			return err
		}
		if req.Currency, err = parseCurrency("currency", payload.Currency); err != nil {
			return err
		}
		if err := n.chargeQuota(c, 1); err != nil {
			return err
		}
		id, err := engine.Mint(c.sender, req)
		if err != nil {
			return err
		}
		c.receipt.TokenIDs = []uint64{id}
		return nil

	case types.TxTypeMintBatch:
		var payload types.MintBatchPayload
		if err := decodePayload(c.tx.Data, &payload); err != nil {
			return err
		}
		req := certificate.BatchMintRequest{
			ArtistName:  payload.ArtistName,
			ObjectNames: payload.ObjectNames,
			AuthURIs:    payload.AuthURIs,
		}
		if req.To, err = parseAddress("to", payload.To); err != nil {
			return err
		}
		if req.Currency, err = parseCurrency("currency", payload.Currency); err != nil {
			return err
		}
		req.Values = make([]*uint256.Int, len(payload.Values))
		for i, raw := range payload.Values {
			if req.Values[i], err = parseValue(fmt.Sprintf("values[%d]", i), raw); err != nil {
				return err
			}
		}
		if err := n.chargeQuota(c, uint64(len(req.Values))); err != nil {
			return err
		}
		ids, err := engine.MintBatch(c.sender, req)
		if err != nil {
			return err
		}
		c.receipt.TokenIDs = ids
		return nil

	case types.TxTypeTransferValue:
		var payload types.TransferValuePayload
		if err := decodePayload(c.tx.Data, &payload); err != nil {
			return err
		}
		req := certificate.TransferRequest{TokenID: payload.TokenID}
		if req.From, err = parseAddress("from", payload.From); err != nil {
			return err
		}
		if req.To, err = parseOptionalAddress("to", payload.To); err != nil {
			return err
		}
		if req.NewValue, err = parseValue("newValue", payload.NewValue); err != nil {
			return err
		}
		if strings.TrimSpace(payload.NewCurrency) != "" {
			if req.NewCurrency, err = parseCurrency("newCurrency", payload.NewCurrency); err != nil {
				return err
			}
		}
		if err := n.chargeQuota(c, 0); err != nil {
			return err
		}
		if err := engine.TransferWithValue(c.sender, req); err != nil {
			return err
		}
		c.receipt.TokenIDs = []uint64{payload.TokenID}
		return nil

	case types.TxTypeApprove:
		var payload types.ApprovePayload
		if err := decodePayload(c.tx.Data, &payload); err != nil {
			return err
		}
		to, err := parseOptionalAddress("to", payload.To)
		if err != nil {
			return err
		}
		if err := engine.Approve(c.sender, to, payload.TokenID); err != nil {
			return err
		}
		c.receipt.TokenIDs = []uint64{payload.TokenID}
		return nil

	case types.TxTypeSetApprovalForAll:
		var payload types.ApprovalForAllPayload
		if err := decodePayload(c.tx.Data, &payload); err != nil {
			return err
		}
		operator, err := parseAddress("operator", payload.Operator)
		if err != nil {
			return err
		}
		return engine.SetApprovalForAll(c.sender, operator, payload.Approved)

	default:
		var payload types.RolePayload
		if err := decodePayload(c.tx.Data, &payload); err != nil {
			return err
		}
		role, err := certificate.ParseRole(payload.Role)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if c.tx.Type == types.TxTypeRenounceRole {
			return engine.RenounceRole(c.sender, role)
		}
		account, err := parseAddress("account", payload.Account)
		if err != nil {
			return err
		}
		if c.tx.Type == types.TxTypeGrantRole {
			return engine.GrantRole(c.sender, role, account)
		}
		return engine.RevokeRole(c.sender, role, account)
	}
}

func (n *Node) applyCoordinatorTx(c *txContext) error {
	if err := common.Guard(n.pauses, common.ModuleListing); err != nil {
		return err
	}
	addr, err := target(c.tx)
	if err != nil {
		return err
	}
	if err := requireKind(c.mgr, addr, state.ContractCoordinator); err != nil {
		return err
	}
	engine := n.listingEngine(c.mgr, addr, c.emitter)

	if c.tx.Type == types.TxTypeListCertificate {
		var payload types.ListPayload
		if err := decodePayload(c.tx.Data, &payload); err != nil {
			return err
		}
		req := listing.ListRequest{TokenID: payload.TokenID}
		if req.Ledger, err = parseAddress("ledger", payload.Ledger); err != nil {
			return err
		}
		if req.Claimer, err = parseOptionalAddress("claimer", payload.Claimer); err != nil {
			return err
		}
		if req.Price, err = parseAmount("price", payload.Price); err != nil {
			return err
		}
		id, err := engine.List(c.sender, req)
		if err != nil {
			return err
		}
		c.receipt.ItemID = &id
		c.receipt.TokenIDs = []uint64{payload.TokenID}
		return nil
	}

	// Claims move a certificate, so they honour the certificate pause too.
	if err := common.Guard(n.pauses, common.ModuleCertificate); err != nil {
		return err
	}
	var payload types.ClaimPayload
	if err := decodePayload(c.tx.Data, &payload); err != nil {
		return err
	}
	if err := engine.Claim(c.sender, payload.ItemID, c.tx.Value); err != nil {
		return err
	}
	id := payload.ItemID
	c.receipt.ItemID = &id
	return nil
}
