package server

import (
	"math/big"
	"net/http"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"mvault/native/access"
	"mvault/native/decimals"
	"mvault/native/errs"
)

var errUnknownToken = errs.NotFound("token not found")

type tokenView struct {
	Name        string         `json:"name"`
	Address     common.Address `json:"address"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply string         `json:"totalSupply"`
}

func (s *Server) mountTokens(r chi.Router) {
	r.Get("/tokens", s.handleListTokens)
	r.Route("/tokens/{token}", func(r chi.Router) {
		r.Get("/balances/{account}", s.handleTokenBalance)
		r.Get("/allowances/{owner}/{spender}", s.handleTokenAllowance)
		r.Post("/approve", s.handleTokenApprove)
		r.Post("/transfer", s.handleTokenTransfer)
		r.Post("/mint", s.handleTokenMint)
	})
}

func (s *Server) tokenParam(r *http.Request) (common.Address, uint8, error) {
	addr, dec, ok := s.rt.ResolveToken(chi.URLParam(r, "token"))
	if !ok {
		return common.Address{}, 0, errUnknownToken
	}
	return addr, dec, nil
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.rt.Tokens))
	for name := range s.rt.Tokens {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]tokenView, 0, len(names))
	err := s.view(func() error {
		for _, name := range names {
			meta, err := s.rt.Manager.Token(s.rt.Tokens[name])
			if err != nil {
				return err
			}
			if meta == nil {
				continue
			}
			out = append(out, tokenView{
				Name:        name,
				Address:     meta.Address,
				Symbol:      meta.Symbol,
				Decimals:    meta.Decimals,
				TotalSupply: decimals.FormatUnits(meta.Supply, meta.Decimals),
			})
		}
		return nil
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	token, dec, err := s.tokenParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	account, err := addressParam(r, "account")
	if err != nil {
		s.fail(w, err)
		return
	}
	var balance *big.Int
	if err := s.view(func() error {
		var err error
		balance, err = s.rt.Manager.BalanceOf(token, account)
		return err
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": account.Hex(), "balance": decimals.FormatUnits(balance, dec)})
}

func (s *Server) handleTokenAllowance(w http.ResponseWriter, r *http.Request) {
	token, dec, err := s.tokenParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	owner, err := addressParam(r, "owner")
	if err != nil {
		s.fail(w, err)
		return
	}
	spender, err := addressParam(r, "spender")
	if err != nil {
		s.fail(w, err)
		return
	}
	var allowance *big.Int
	if err := s.view(func() error {
		var err error
		allowance, err = s.rt.Manager.Allowance(token, owner, spender)
		return err
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"allowance": decimals.FormatUnits(allowance, dec)})
}

type ledgerRequest struct {
	To      string `json:"to"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// ledgerOp decodes a ledger request, resolves the token and runs fn
// atomically with the amount in the token's native precision.
func (s *Server) ledgerOp(w http.ResponseWriter, r *http.Request, counterparty func(ledgerRequest) string, fn func(token, party common.Address, amount *big.Int) error) {
	token, dec, err := s.tokenParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req ledgerRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	party, err := parseAddress(counterparty(req))
	if err != nil {
		s.fail(w, err)
		return
	}
	amount, err := parseUnits(req.Amount, dec)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.rt.Manager.Atomic(func() error { return fn(token, party, amount) }); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, r *http.Request) {
	from := caller(r)
	s.ledgerOp(w, r, func(req ledgerRequest) string { return req.Spender }, func(token, spender common.Address, amount *big.Int) error {
		return s.rt.Manager.Approve(token, from, spender, amount)
	})
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, r *http.Request) {
	from := caller(r)
	s.ledgerOp(w, r, func(req ledgerRequest) string { return req.To }, func(token, to common.Address, amount *big.Int) error {
		return s.rt.Manager.Transfer(token, from, to, amount)
	})
}

// handleTokenMint credits tokens out of thin air. It stands in for the
// external issuers of payment tokens and is reserved to the default admin.
func (s *Server) handleTokenMint(w http.ResponseWriter, r *http.Request) {
	from := caller(r)
	s.ledgerOp(w, r, func(req ledgerRequest) string { return req.To }, func(token, to common.Address, amount *big.Int) error {
		if err := s.rt.Registry.CheckRole(access.DefaultAdminRole, from); err != nil {
			return err
		}
		return s.rt.Manager.Mint(token, to, amount)
	})
}
