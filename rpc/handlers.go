package rpc

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"

	"codice/core/types"
	"codice/crypto"
	"codice/native/certificate"
	"codice/native/listing"
)

// contractParams is the single parameter object accepted by the certificate,
// listing and provenance read methods. Each method uses the fields it needs.
type contractParams struct {
	Ledger      string  `json:"ledger,omitempty"`
	Coordinator string  `json:"coordinator,omitempty"`
	TokenID     *uint64 `json:"tokenId,omitempty"`
	ItemID      *uint64 `json:"itemId,omitempty"`
	Owner       string  `json:"owner,omitempty"`
	Operator    string  `json:"operator,omitempty"`
	Role        string  `json:"role,omitempty"`
	Account     string  `json:"account,omitempty"`
}

func parseAddressParam(field, raw string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return addr, invalidParams("invalid "+field, err.Error())
	}
	return addr, nil
}

func (p contractParams) ledger() ([20]byte, error) { return parseAddressParam("ledger", p.Ledger) }

func (p contractParams) coordinator() ([20]byte, error) {
	return parseAddressParam("coordinator", p.Coordinator)
}

func (p contractParams) tokenID() (uint64, error) {
	if p.TokenID == nil {
		return 0, invalidParams("tokenId required", nil)
	}
	return *p.TokenID, nil
}

func (p contractParams) ledgerAndToken() ([20]byte, uint64, error) {
	ledger, err := p.ledger()
	if err != nil {
		return ledger, 0, err
	}
	id, err := p.tokenID()
	return ledger, id, err
}

func decodeContractParams(req *RPCRequest) (contractParams, error) {
	var params contractParams
	err := decodeParam(req, 0, &params)
	return params, err
}

func (s *Server) handleChainID(_ context.Context, _ *RPCRequest) (interface{}, error) {
	return s.node.ChainID(), nil
}

func (s *Server) handleSendTransaction(_ context.Context, req *RPCRequest) (interface{}, error) {
	var tx types.Transaction
	if err := decodeParam(req, 0, &tx); err != nil {
		return nil, err
	}
	receipt, err := s.node.ApplyTransaction(&tx)
	if err != nil {
		return nil, err
	}
	return receiptResult(receipt), nil
}

func (s *Server) handleGetAccount(_ context.Context, req *RPCRequest) (interface{}, error) {
	var raw string
	if err := decodeParam(req, 0, &raw); err != nil {
		return nil, err
	}
	addr, err := parseAddressParam("address", raw)
	if err != nil {
		return nil, err
	}
	account, err := s.node.Account(addr)
	if err != nil {
		return nil, err
	}
	return AccountResult{Address: crypto.FormatAddress(addr), Nonce: account.Nonce, Balance: account.Balance.String()}, nil
}

func (s *Server) handleGetReceipt(_ context.Context, req *RPCRequest) (interface{}, error) {
	var raw string
	if err := decodeParam(req, 0, &raw); err != nil {
		return nil, err
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil || len(decoded) != 32 {
		return nil, invalidParams("transaction hash must be 32 hex bytes", nil)
	}
	var hash [32]byte
	copy(hash[:], decoded)
	receipt, err := s.node.Receipt(hash)
	if err != nil {
		return nil, err
	}
	return receiptResult(receipt), nil
}

// withLedger decodes the parameters, resolves the ledger and runs fn on a
// read view of it.
func (s *Server) withLedger(req *RPCRequest, fn func(contractParams, *certificate.Engine) (interface{}, error)) (interface{}, error) {
	params, err := decodeContractParams(req)
	if err != nil {
		return nil, err
	}
	addr, err := params.ledger()
	if err != nil {
		return nil, err
	}
	var result interface{}
	err = s.node.WithLedger(addr, func(engine *certificate.Engine) error {
		var fnErr error
		result, fnErr = fn(params, engine)
		return fnErr
	})
	return result, err
}

func (s *Server) handleCollection(_ context.Context, req *RPCRequest) (interface{}, error) {
	return s.withLedger(req, func(_ contractParams, engine *certificate.Engine) (interface{}, error) {
		collection, err := engine.Collection()
		if err != nil {
			return nil, err
		}
		return collectionResult(collection), nil
	})
}

func (s *Server) handleTokenInfo(_ context.Context, req *RPCRequest) (interface{}, error) {
	return s.withLedger(req, func(p contractParams, engine *certificate.Engine) (interface{}, error) {
		id, err := p.tokenID()
		if err != nil {
			return nil, err
		}
		token, err := engine.TokenInfo(id)
		if err != nil {
			return nil, err
		}
		return tokenResult(token), nil
	})
}

func (s *Server) handleValueHistory(_ context.Context, req *RPCRequest) (interface{}, error) {
	return s.withLedger(req, func(p contractParams, engine *certificate.Engine) (interface{}, error) {
		id, err := p.tokenID()
		if err != nil {
			return nil, err
		}
		history, err := engine.ValueHistory(id)
		if err != nil {
			return nil, err
		}
		return historyResult(history), nil
	})
}

func (s *Server) handleMintedTokens(_ context.Context, req *RPCRequest) (interface{}, error) {
	return s.withLedger(req, func(_ contractParams, engine *certificate.Engine) (interface{}, error) {
		return engine.MintedTokens()
	})
}

func (s *Server) handleOwnerOf(_ context.Context, req *RPCRequest) (interface{}, error) {
	return s.withLedger(req, func(p contractParams, engine *certificate.Engine) (interface{}, error) {
		id, err := p.tokenID()
		if err != nil {
			return nil, err
		}
		owner, err := engine.OwnerOf(id)
		if err != nil {
			return nil, err
		}
		return crypto.FormatAddress(owner), nil
	})
}

func (s *Server) handleBalanceOf(_ context.Context, req *RPCRequest) (interface{}, error) {
	return s.withLedger(req, func(p contractParams, engine *certificate.Engine) (interface{}, error) {
		owner, err := parseAddressParam("owner", p.Owner)
		if err != nil {
			return nil, err
		}
		return engine.BalanceOf(owner)
	})
}

func (s *Server) handleGetApproved(_ context.Context, req *RPCRequest) (interface{}, error) {
	return s.withLedger(req, func(p contractParams, engine *certificate.Engine) (interface{}, error) {
		id, err := p.tokenID()
		if err != nil {
			return nil, err
		}
		approved, err := engine.GetApproved(id)
		if err != nil {
			return nil, err
		}
		return formatOptional(approved), nil
	})
}

func (s *Server) handleIsApprovedForAll(_ context.Context, req *RPCRequest) (interface{}, error) {
	return s.withLedger(req, func(p contractParams, engine *certificate.Engine) (interface{}, error) {
		owner, err := parseAddressParam("owner", p.Owner)
		if err != nil {
			return nil, err
		}
		operator, err := parseAddressParam("operator", p.Operator)
		if err != nil {
			return nil, err
		}
		return engine.IsApprovedForAll(owner, operator)
	})
}

func parseRoleParam(raw string) (certificate.RoleID, error) {
	role, err := certificate.ParseRole(raw)
	if err != nil {
		return role, invalidParams("invalid role", err.Error())
	}
	return role, nil
}

func (s *Server) handleRoles(_ context.Context, req *RPCRequest) (interface{}, error) {
	return s.withLedger(req, func(p contractParams, engine *certificate.Engine) (interface{}, error) {
		role, err := parseRoleParam(p.Role)
		if err != nil {
			return nil, err
		}
		members, err := engine.RoleMembers(role)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(members))
		for _, member := range members {
			out = append(out, crypto.FormatAddress(member))
		}
		return out, nil
	})
}

func (s *Server) handleHasRole(_ context.Context, req *RPCRequest) (interface{}, error) {
	return s.withLedger(req, func(p contractParams, engine *certificate.Engine) (interface{}, error) {
		role, err := parseRoleParam(p.Role)
		if err != nil {
			return nil, err
		}
		account, err := parseAddressParam("account", p.Account)
		if err != nil {
			return nil, err
		}
		return engine.HasRole(role, account), nil
	})
}

// authenticateParams is the wire form of a signed read request.
type authenticateParams struct {
	ChainID uint64   `json:"chainId"`
	Ledger  string   `json:"ledger"`
	TokenID uint64   `json:"tokenId"`
	Expiry  int64    `json:"expiry"`
	R       *big.Int `json:"r"`
	S       *big.Int `json:"s"`
	V       *big.Int `json:"v"`
}

func (s *Server) handleAuthenticate(_ context.Context, req *RPCRequest) (interface{}, error) {
	var params authenticateParams
	if err := decodeParam(req, 0, &params); err != nil {
		return nil, err
	}
	ledger, err := parseAddressParam("ledger", params.Ledger)
	if err != nil {
		return nil, err
	}
	uri, err := s.node.AuthenticateToken(&types.ReadRequest{
		ChainID: params.ChainID,
		Ledger:  ledger,
		TokenID: params.TokenID,
		Expiry:  params.Expiry,
		R:       params.R,
		S:       params.S,
		V:       params.V,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"authUri": uri}, nil
}

func (s *Server) withCoordinator(req *RPCRequest, fn func(contractParams, *listing.Engine) (interface{}, error)) (interface{}, error) {
	params, err := decodeContractParams(req)
	if err != nil {
		return nil, err
	}
	addr, err := params.coordinator()
	if err != nil {
		return nil, err
	}
	var result interface{}
	err = s.node.WithCoordinator(addr, func(engine *listing.Engine) error {
		var fnErr error
		result, fnErr = fn(params, engine)
		return fnErr
	})
	return result, err
}

func (s *Server) handleListingGet(_ context.Context, req *RPCRequest) (interface{}, error) {
	return s.withCoordinator(req, func(p contractParams, engine *listing.Engine) (interface{}, error) {
		if p.ItemID == nil {
			return nil, invalidParams("itemId required", nil)
		}
		item, err := engine.Item(*p.ItemID)
		if err != nil {
			return nil, err
		}
		return listingResult(item), nil
	})
}

func (s *Server) handleListingCount(_ context.Context, req *RPCRequest) (interface{}, error) {
	return s.withCoordinator(req, func(_ contractParams, engine *listing.Engine) (interface{}, error) {
		return engine.ListedItems()
	})
}

func (s *Server) handleListingFees(_ context.Context, req *RPCRequest) (interface{}, error) {
	return s.withCoordinator(req, func(_ contractParams, engine *listing.Engine) (interface{}, error) {
		fees, err := engine.Fees()
		if err != nil {
			return nil, err
		}
		return FeesResult{FeeAccount: crypto.FormatAddress(fees.FeeAccount), FeePercent: fees.FeePercent}, nil
	})
}

func (s *Server) provenanceParams(req *RPCRequest) ([20]byte, uint64, error) {
	if s.indexer == nil {
		return [20]byte{}, 0, unavailable("indexer disabled")
	}
	params, err := decodeContractParams(req)
	if err != nil {
		return [20]byte{}, 0, err
	}
	return params.ledgerAndToken()
}

func (s *Server) handleProvenanceEvents(ctx context.Context, req *RPCRequest) (interface{}, error) {
	ledger, id, err := s.provenanceParams(req)
	if err != nil {
		return nil, err
	}
	events, err := s.indexer.Events(ctx, ledger, id)
	if err != nil {
		return nil, err
	}
	if events == nil {
		return []interface{}{}, nil
	}
	return events, nil
}

func (s *Server) handleProvenanceTransfers(ctx context.Context, req *RPCRequest) (interface{}, error) {
	ledger, id, err := s.provenanceParams(req)
	if err != nil {
		return nil, err
	}
	transfers, err := s.indexer.Provenance(ctx, ledger, id)
	if err != nil {
		return nil, err
	}
	if transfers == nil {
		return []interface{}{}, nil
	}
	return transfers, nil
}
