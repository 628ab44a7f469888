package server

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"mvault/native/errs"
	"mvault/native/rebasing"
)

var errUnknownRebasing = errs.NotFound("rebasing token not found")

func (s *Server) mountRebasing(r chi.Router) {
	r.Get("/rebasing", s.handleListRebasing)
	r.Route("/rebasing/{name}", func(r chi.Router) {
		r.Get("/", s.handleRebasing)
		r.Get("/balances/{account}", s.handleRebasingBalance)
		r.Get("/allowances/{owner}/{spender}", s.handleRebasingAllowance)
		r.Post("/mint", s.handleRebasingMint)
		r.Post("/burn", s.handleRebasingBurn)
		r.Post("/transfer", s.handleRebasingTransfer)
		r.Post("/transfer-from", s.handleRebasingTransferFrom)
		r.Post("/approve", s.handleRebasingApprove)
		r.Post("/feed", s.handleRebasingFeed)
	})
}

func (s *Server) rebasingParam(r *http.Request) (string, *rebasing.Token, error) {
	name := chi.URLParam(r, "name")
	token, ok := s.rt.Rebasing[name]
	if !ok {
		return "", nil, errUnknownRebasing
	}
	return name, token, nil
}

type rebasingView struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	Symbol      string `json:"symbol"`
	Underlying  string `json:"underlying"`
	PriceFeed   string `json:"priceFeed"`
	Price       string `json:"price,omitempty"`
	PriceError  string `json:"priceError,omitempty"`
	TotalShares string `json:"totalShares"`
	TotalSupply string `json:"totalSupply,omitempty"`
}

func (s *Server) describeRebasing(name string, token *rebasing.Token) (rebasingView, error) {
	view := rebasingView{
		Name:       name,
		Address:    token.Address().Hex(),
		Symbol:     token.Symbol(),
		Underlying: s.rt.TokenName(token.Underlying()),
	}
	feedAddr, err := token.PriceFeed()
	if err != nil {
		return view, err
	}
	view.PriceFeed = s.rt.TokenName(feedAddr)
	shares, err := token.TotalShares()
	if err != nil {
		return view, err
	}
	_, dec, _ := s.rt.ResolveToken(token.Underlying().Hex())
	view.TotalShares = formatUnits(shares, dec)
	price, err := token.Price()
	if err != nil {
		view.PriceError = errs.Reason(err)
		return view, nil
	}
	view.Price = formatBase18(price)
	if supply, err := token.TotalSupply(); err == nil {
		view.TotalSupply = formatBase18(supply)
	}
	return view, nil
}

func (s *Server) handleListRebasing(w http.ResponseWriter, r *http.Request) {
	out := make([]rebasingView, 0, len(s.rt.Rebasing))
	if err := s.view(func() error {
		for _, name := range sortedKeys(s.rt.Rebasing) {
			view, err := s.describeRebasing(name, s.rt.Rebasing[name])
			if err != nil {
				return err
			}
			out = append(out, view)
		}
		return nil
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRebasing(w http.ResponseWriter, r *http.Request) {
	name, token, err := s.rebasingParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var view rebasingView
	if err := s.view(func() error {
		var err error
		view, err = s.describeRebasing(name, token)
		return err
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRebasingBalance(w http.ResponseWriter, r *http.Request) {
	_, token, err := s.rebasingParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	account, err := addressParam(r, "account")
	if err != nil {
		s.fail(w, err)
		return
	}
	var balance, shares *big.Int
	if err := s.view(func() error {
		var err error
		if shares, err = token.SharesOf(account); err != nil {
			return err
		}
		balance, err = token.BalanceOf(account)
		return err
	}); err != nil {
		s.fail(w, err)
		return
	}
	_, dec, _ := s.rt.ResolveToken(token.Underlying().Hex())
	writeJSON(w, http.StatusOK, map[string]string{
		"balance": formatBase18(balance),
		"shares":  formatUnits(shares, dec),
	})
}

func (s *Server) handleRebasingAllowance(w http.ResponseWriter, r *http.Request) {
	_, token, err := s.rebasingParam(r)
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
		allowance, err = token.Allowance(owner, spender)
		return err
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"allowance": formatBase18(allowance)})
}

type rebasingRequest struct {
	To      string `json:"to"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
	Shares  string `json:"shares"`
	Feed    string `json:"feed"`
}

// rebasingOp decodes a request body and runs fn against the named token.
func (s *Server) rebasingOp(w http.ResponseWriter, r *http.Request, op string, fn func(token *rebasing.Token, from common.Address, req rebasingRequest) error) {
	name, token, err := s.rebasingParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req rebasingRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if err := observe(name, op, func() error { return fn(token, caller(r), req) }); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRebasingMint wraps underlying tokens. Shares are given in the
// underlying token's units.
func (s *Server) handleRebasingMint(w http.ResponseWriter, r *http.Request) {
	s.rebasingOp(w, r, "mint", func(token *rebasing.Token, from common.Address, req rebasingRequest) error {
		to, err := parseAddress(req.To)
		if err != nil {
			return err
		}
		_, dec, _ := s.rt.ResolveToken(token.Underlying().Hex())
		shares, err := parseUnits(req.Shares, dec)
		if err != nil {
			return err
		}
		return token.Mint(from, to, shares)
	})
}

func (s *Server) handleRebasingBurn(w http.ResponseWriter, r *http.Request) {
	s.rebasingOp(w, r, "burn", func(token *rebasing.Token, from common.Address, req rebasingRequest) error {
		amount, err := parseBase18(req.Amount)
		if err != nil {
			return err
		}
		return token.Burn(from, amount)
	})
}

func (s *Server) handleRebasingTransfer(w http.ResponseWriter, r *http.Request) {
	s.rebasingOp(w, r, "transfer", func(token *rebasing.Token, from common.Address, req rebasingRequest) error {
		to, err := parseAddress(req.To)
		if err != nil {
			return err
		}
		amount, err := parseBase18(req.Amount)
		if err != nil {
			return err
		}
		return token.Transfer(from, to, amount)
	})
}

func (s *Server) handleRebasingTransferFrom(w http.ResponseWriter, r *http.Request) {
	s.rebasingOp(w, r, "transferFrom", func(token *rebasing.Token, from common.Address, req rebasingRequest) error {
		owner, err := parseAddress(req.Owner)
		if err != nil {
			return err
		}
		to, err := parseAddress(req.To)
		if err != nil {
			return err
		}
		amount, err := parseBase18(req.Amount)
		if err != nil {
			return err
		}
		return token.TransferFrom(from, owner, to, amount)
	})
}

func (s *Server) handleRebasingApprove(w http.ResponseWriter, r *http.Request) {
	s.rebasingOp(w, r, "approve", func(token *rebasing.Token, from common.Address, req rebasingRequest) error {
		spender, err := parseAddress(req.Spender)
		if err != nil {
			return err
		}
		amount, err := parseBase18(req.Amount)
		if err != nil {
			return err
		}
		return token.Approve(from, spender, amount)
	})
}

func (s *Server) handleRebasingFeed(w http.ResponseWriter, r *http.Request) {
	s.rebasingOp(w, r, "setPriceFeed", func(token *rebasing.Token, from common.Address, req rebasingRequest) error {
		f, ok := s.rt.Feeds[req.Feed]
		if !ok {
			return errUnknownFeed
		}
		return token.SetPriceFeed(from, f.Address())
	})
}
