package server

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"mvault/native/errs"
	"mvault/native/vault"
)

var (
	errUnknownVault     = errs.NotFound("vault not found")
	errWrongVaultKind   = errs.Validation("operation not supported by vault")
	errUnknownPayToken  = errs.NotFound("token not found")
	errMissingFeeChoice = errs.Validation("feeBps required")
)

const (
	kindDeposit    = "deposit"
	kindRedemption = "redemption"
	kindBuidl      = "buidl"
	kindSwapper    = "swapper"
)

// vaultRef resolves a configured vault name to its engines.
type vaultRef struct {
	name       string
	kind       string
	base       *vault.Manageable
	deposit    *vault.DepositVault
	redemption *vault.RedemptionVault
	swapper    *vault.SwapperVault
	buidl      *vault.BuidlLiquidity
}

func (s *Server) vaultParam(r *http.Request) (*vaultRef, error) {
	name := chi.URLParam(r, "vault")
	if dv, ok := s.rt.Deposits[name]; ok {
		return &vaultRef{name: name, kind: kindDeposit, base: dv.Manageable, deposit: dv}, nil
	}
	rv, ok := s.rt.Redemptions[name]
	if !ok {
		return nil, errUnknownVault
	}
	ref := &vaultRef{name: name, kind: kindRedemption, base: rv.Manageable, redemption: rv}
	if sv, ok := s.rt.Swappers[name]; ok {
		ref.kind = kindSwapper
		ref.swapper = sv
	}
	if liq, ok := s.rt.Buidl[name]; ok {
		ref.kind = kindBuidl
		ref.buidl = liq
	}
	return ref, nil
}

func (s *Server) mountVaults(r chi.Router) {
	r.Get("/vaults", s.handleListVaults)
	r.Route("/vaults/{vault}", func(r chi.Router) {
		r.Get("/", s.handleVault)
		r.Get("/requests", s.handlePendingRequests)
		r.Get("/requests/{id}", s.handleRequest)
		r.Get("/requests/{id}/estimate", s.handleEstimate)
		r.Post("/requests/{id}/fulfill", s.handleFulfill)
		r.Post("/requests/{id}/cancel", s.handleCancel)
		r.Get("/tokens/{token}", s.handleVaultToken)
		r.Get("/accounts/{account}", s.handleVaultAccount)

		r.Post("/deposit", s.handleDeposit)
		r.Post("/redeem", s.handleRedeem)
		r.Post("/redeem-instant", s.handleRedeemInstant)
		r.Post("/manual", s.handleManual)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/payment-tokens", s.handleAddPaymentToken)
			r.Delete("/payment-tokens/{token}", s.handleRemovePaymentToken)
			r.Post("/fee", s.handleSetFee)
			r.Post("/allowance", s.handleTokenAllowanceCap)
			r.Post("/withdraw", s.handleWithdraw)
			r.Post("/pause", s.handlePause)
			r.Post("/waived-fee", s.handleWaivedFee)
			r.Post("/instant-limit", s.handleInstantLimit)
			r.Post("/instant-fee", s.handleInstantFee)
			r.Post("/greenlist", s.handleGreenlist)
			r.Post("/min-amount", s.handleMinAmount)
			r.Post("/free-from-min", s.handleFreeFromMin)
			r.Post("/buidl", s.handleBuidlParams)
			r.Post("/liquidity-provider", s.handleLiquidityProvider)
		})
	})
}

type vaultSummary struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Address string `json:"address"`
}

type tokenConfigView struct {
	Token     string `json:"token"`
	Address   string `json:"address"`
	Feed      string `json:"feed,omitempty"`
	FeeBps    uint64 `json:"feeBps"`
	Allowance string `json:"allowance,omitempty"`
}

type vaultView struct {
	vaultSummary
	MToken            string            `json:"mToken"`
	Paused            bool              `json:"paused"`
	GreenlistEnabled  bool              `json:"greenlistEnabled"`
	InstantFeeBps     uint64            `json:"instantFeeBps"`
	InstantDailyLimit string            `json:"instantDailyLimit,omitempty"`
	DailyUsage        string            `json:"dailyUsage"`
	MinAmount         string            `json:"minAmount"`
	MinRequiredUsd    string            `json:"minRequiredUsd,omitempty"`
	LastRequestID     uint64            `json:"lastRequestId"`
	MTokenRate        string            `json:"mTokenRate,omitempty"`
	PaymentTokens     []tokenConfigView `json:"paymentTokens"`
	MinBuidlToRedeem  string            `json:"minBuidlToRedeem,omitempty"`
	MinBuidlBalance   string            `json:"minBuidlBalance,omitempty"`
	LiquidityProvider string            `json:"liquidityProvider,omitempty"`
	PairedVault       string            `json:"pairedVault,omitempty"`
}

type requestView struct {
	ID         uint64 `json:"id"`
	Sender     string `json:"sender"`
	Token      string `json:"token"`
	AmountIn   string `json:"amountIn"`
	Fee        string `json:"fee"`
	AmountUsd  string `json:"amountUsd"`
	TokenRate  string `json:"tokenRate"`
	MTokenRate string `json:"mTokenRate,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

func (s *Server) newRequestView(req *vault.Request) requestView {
	view := requestView{
		ID:        req.ID,
		Sender:    req.Sender.Hex(),
		Token:     s.rt.TokenName(req.Token),
		AmountIn:  formatBase18(req.AmountIn),
		Fee:       formatBase18(req.Fee),
		AmountUsd: formatBase18(req.AmountUsd),
		TokenRate: formatBase18(req.TokenRate),
		CreatedAt: req.CreatedAt,
	}
	if req.MTokenRate != nil && req.MTokenRate.Sign() > 0 {
		view.MTokenRate = formatBase18(req.MTokenRate)
	}
	return view
}

func (s *Server) newTokenConfigView(cfg *vault.TokenConfig) tokenConfigView {
	view := tokenConfigView{
		Token:   s.rt.TokenName(cfg.Token),
		Address: cfg.Token.Hex(),
		FeeBps:  cfg.FeeBps,
	}
	if cfg.Feed != (common.Address{}) {
		view.Feed = s.rt.TokenName(cfg.Feed)
	}
	if cfg.Allowance != nil {
		view.Allowance = formatBase18(cfg.Allowance)
	}
	return view
}

func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	out := make([]vaultSummary, 0, len(s.rt.Deposits)+len(s.rt.Redemptions))
	for _, name := range sortedKeys(s.rt.Deposits) {
		out = append(out, vaultSummary{Name: name, Kind: kindDeposit, Address: s.rt.Deposits[name].Address().Hex()})
	}
	for _, name := range sortedKeys(s.rt.Redemptions) {
		kind := kindRedemption
		if _, ok := s.rt.Buidl[name]; ok {
			kind = kindBuidl
		}
		if _, ok := s.rt.Swappers[name]; ok {
			kind = kindSwapper
		}
		out = append(out, vaultSummary{Name: name, Kind: kind, Address: s.rt.Redemptions[name].Address().Hex()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) describeVault(ref *vaultRef) (vaultView, error) {
	m := ref.base
	view := vaultView{
		vaultSummary: vaultSummary{Name: ref.name, Kind: ref.kind, Address: m.Address().Hex()},
		MToken:       s.rt.TokenName(m.MToken()),
	}
	var err error
	if view.Paused, err = m.Paused(); err != nil {
		return view, err
	}
	if view.GreenlistEnabled, err = m.GreenlistEnabled(); err != nil {
		return view, err
	}
	if view.InstantFeeBps, err = m.InstantFee(); err != nil {
		return view, err
	}
	limit, err := m.InstantDailyLimit()
	if err != nil {
		return view, err
	}
	if limit != nil {
		view.InstantDailyLimit = formatBase18(limit)
	}
	usage, err := m.DailyUsage(m.CurrentDay())
	if err != nil {
		return view, err
	}
	view.DailyUsage = formatBase18(usage)
	minAmount, err := m.MinAmount()
	if err != nil {
		return view, err
	}
	view.MinAmount = formatBase18(minAmount)
	if view.LastRequestID, err = m.LastRequestID(); err != nil {
		return view, err
	}
	if rate, err := m.MTokenRate(); err == nil {
		view.MTokenRate = formatBase18(rate)
	}
	tokens, err := m.PaymentTokens()
	if err != nil {
		return view, err
	}
	view.PaymentTokens = make([]tokenConfigView, 0, len(tokens))
	for _, token := range tokens {
		cfg, err := m.TokenConfig(token)
		if err != nil {
			return view, err
		}
		view.PaymentTokens = append(view.PaymentTokens, s.newTokenConfigView(cfg))
	}
	if ref.deposit != nil {
		if minUsd, err := ref.deposit.MinRequiredUsd(); err == nil {
			view.MinRequiredUsd = formatBase18(minUsd)
		}
	}
	if ref.buidl != nil {
		minRedeem, err := ref.buidl.MinBuidlToRedeem()
		if err != nil {
			return view, err
		}
		minBalance, err := ref.buidl.MinBuidlBalance()
		if err != nil {
			return view, err
		}
		view.MinBuidlToRedeem = minRedeem.String()
		view.MinBuidlBalance = minBalance.String()
	}
	if ref.swapper != nil {
		provider, err := ref.swapper.LiquidityProvider()
		if err != nil {
			return view, err
		}
		view.LiquidityProvider = provider.Hex()
		view.PairedVault = s.rt.TokenName(ref.swapper.Paired().Address())
	}
	return view, nil
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	ref, err := s.vaultParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var view vaultView
	if err := s.view(func() error {
		var err error
		view, err = s.describeVault(ref)
		return err
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePendingRequests(w http.ResponseWriter, r *http.Request) {
	ref, err := s.vaultParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var out []requestView
	if err := s.view(func() error {
		pending, err := ref.base.PendingRequests()
		if err != nil {
			return err
		}
		out = make([]requestView, 0, len(pending))
		for _, req := range pending {
			out = append(out, s.newRequestView(req))
		}
		return nil
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	ref, err := s.vaultParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	id, err := requestIDParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req *vault.Request
	if err := s.view(func() error {
		var err error
		req, err = ref.base.Request(id)
		return err
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.newRequestView(req))
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	ref, err := s.vaultParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	id, err := requestIDParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var estimate *big.Int
	if err := s.view(func() error {
		var err error
		if ref.deposit != nil {
			estimate, err = ref.deposit.EstimateMintAmount(id)
		} else {
			estimate, err = ref.redemption.EstimateAmountOut(id)
		}
		return err
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"estimate": formatBase18(estimate)})
}

func (s *Server) handleVaultToken(w http.ResponseWriter, r *http.Request) {
	ref, err := s.vaultParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	token, _, ok := s.rt.ResolveToken(chi.URLParam(r, "token"))
	if !ok {
		s.fail(w, errUnknownPayToken)
		return
	}
	var view tokenConfigView
	if err := s.view(func() error {
		cfg, err := ref.base.TokenConfig(token)
		if err != nil {
			return err
		}
		view = s.newTokenConfigView(cfg)
		return nil
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleVaultAccount(w http.ResponseWriter, r *http.Request) {
	ref, err := s.vaultParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	account, err := addressParam(r, "account")
	if err != nil {
		s.fail(w, err)
		return
	}
	var (
		total        *big.Int
		waived, free bool
	)
	if err := s.view(func() error {
		var err error
		if total, err = ref.base.Total(account); err != nil {
			return err
		}
		if waived, err = ref.base.IsWaivedFee(account); err != nil {
			return err
		}
		free, err = ref.base.IsFreeFromMin(account)
		return err
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":       formatBase18(total),
		"waivedFee":   waived,
		"freeFromMin": free,
	})
}

type flowRequest struct {
	Token      string `json:"token"`
	Amount     string `json:"amount"`
	MinReceive string `json:"minReceive"`
	User       string `json:"user"`
	AmountIn   string `json:"amountIn"`
	AmountOut  string `json:"amountOut"`
}

func (s *Server) paymentToken(raw string) (common.Address, error) {
	token, _, ok := s.rt.ResolveToken(raw)
	if !ok {
		return common.Address{}, errUnknownPayToken
	}
	return token, nil
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	ref, err := s.vaultParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if ref.deposit == nil {
		s.fail(w, errWrongVaultKind)
		return
	}
	var req flowRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	token, err := s.paymentToken(req.Token)
	if err != nil {
		s.fail(w, err)
		return
	}
	amount, err := parseBase18(req.Amount)
	if err != nil {
		s.fail(w, err)
		return
	}
	var id uint64
	err = observe(ref.name, "deposit", func() error {
		var err error
		id, err = ref.deposit.Deposit(caller(r), token, amount)
		return err
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"requestId": id})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	ref, err := s.vaultParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if ref.redemption == nil {
		s.fail(w, errWrongVaultKind)
		return
	}
	var req flowRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	token, err := s.paymentToken(req.Token)
	if err != nil {
		s.fail(w, err)
		return
	}
	amount, err := parseBase18(req.Amount)
	if err != nil {
		s.fail(w, err)
		return
	}
	var id uint64
	err = observe(ref.name, "redeem", func() error {
		var err error
		id, err = ref.redemption.InitiateRedemptionRequest(caller(r), token, amount)
		return err
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"requestId": id})
}

func (s *Server) handleRedeemInstant(w http.ResponseWriter, r *http.Request) {
	ref, err := s.vaultParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if ref.redemption == nil {
		s.fail(w, errWrongVaultKind)
		return
	}
	var req flowRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	token, err := s.paymentToken(req.Token)
	if err != nil {
		s.fail(w, err)
		return
	}
	amount, err := parseBase18(req.Amount)
	if err != nil {
		s.fail(w, err)
		return
	}
	minReceive, err := parseOptionalBase18(req.MinReceive)
	if err != nil {
		s.fail(w, err)
		return
	}
	if minReceive == nil {
		minReceive = new(big.Int)
	}
	var out *big.Int
	err = observe(ref.name, "redeemInstant", func() error {
		var err error
		out, err = ref.redemption.RedeemInstant(caller(r), token, amount, minReceive)
		return err
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amountOut": formatBase18(out)})
}

func (s *Server) handleFulfill(w http.ResponseWriter, r *http.Request) {
	ref, err := s.vaultParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	id, err := requestIDParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req flowRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	amount, err := parseBase18(req.Amount)
	if err != nil {
		s.fail(w, err)
		return
	}
	err = observe(ref.name, "fulfill", func() error {
		if ref.deposit != nil {
			return ref.deposit.FulfillDepositRequest(caller(r), id, amount)
		}
		return ref.redemption.FulfillRedemptionRequest(caller(r), id, amount)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "fulfilled"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ref, err := s.vaultParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	id, err := requestIDParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	err = observe(ref.name, "cancel", func() error {
		if ref.deposit != nil {
			return ref.deposit.CancelDepositRequest(caller(r), id)
		}
		return ref.redemption.CancelRedemptionRequest(caller(r), id)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleManual records a settlement made off-ledger. An empty token selects
// the manual fulfillment token.
func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	ref, err := s.vaultParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req flowRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		s.fail(w, err)
		return
	}
	token := vault.ManualFulfillmentToken
	if req.Token != "" {
		if token, err = s.paymentToken(req.Token); err != nil {
			s.fail(w, err)
			return
		}
	}
	amountIn, err := parseBase18(req.AmountIn)
	if err != nil {
		s.fail(w, err)
		return
	}
	amountOut, err := parseBase18(req.AmountOut)
	if err != nil {
		s.fail(w, err)
		return
	}
	err = observe(ref.name, "manual", func() error {
		if ref.deposit != nil {
			return ref.deposit.ManuallyDeposit(caller(r), user, token, amountIn, amountOut)
		}
		return ref.redemption.ManuallyRedeem(caller(r), user, token, amountIn, amountOut)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type adminRequest struct {
	Token     string  `json:"token"`
	Feed      string  `json:"feed"`
	FeeBps    *uint64 `json:"feeBps"`
	Allowance string  `json:"allowance"`
	Amount    string  `json:"amount"`
	To        string  `json:"to"`
	Account   string  `json:"account"`
	Paused    bool    `json:"paused"`
	Enabled   bool    `json:"enabled"`
	Waived    bool    `json:"waived"`
	Free      bool    `json:"free"`
	Limit     string  `json:"limit"`
	Provider  string  `json:"provider"`
	MinRedeem string  `json:"minRedeem"`
	MinHeld   string  `json:"minBalance"`
}

// adminOp decodes an admin request and runs fn for the resolved vault.
func (s *Server) adminOp(w http.ResponseWriter, r *http.Request, op string, fn func(ref *vaultRef, from common.Address, req adminRequest) error) {
	ref, err := s.vaultParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req adminRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if err := observe(ref.name, op, func() error { return fn(ref, caller(r), req) }); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAddPaymentToken(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, "addPaymentToken", func(ref *vaultRef, from common.Address, req adminRequest) error {
		token, err := s.paymentToken(req.Token)
		if err != nil {
			return err
		}
		var feedAddr common.Address
		if req.Feed != "" {
			f, ok := s.rt.Feeds[req.Feed]
			if !ok {
				return errUnknownFeed
			}
			feedAddr = f.Address()
		}
		var fee uint64
		if req.FeeBps != nil {
			fee = *req.FeeBps
		}
		return ref.base.AddPaymentToken(from, token, feedAddr, fee)
	})
}

func (s *Server) handleRemovePaymentToken(w http.ResponseWriter, r *http.Request) {
	ref, err := s.vaultParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	token, err := s.paymentToken(chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := observe(ref.name, "removePaymentToken", func() error {
		return ref.base.RemovePaymentToken(caller(r), token)
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, "setFee", func(ref *vaultRef, from common.Address, req adminRequest) error {
		token, err := s.paymentToken(req.Token)
		if err != nil {
			return err
		}
		if req.FeeBps == nil {
			return errMissingFeeChoice
		}
		return ref.base.SetFee(from, token, *req.FeeBps)
	})
}

// handleTokenAllowanceCap sets the cumulative flow cap of a payment token. An
// empty allowance removes the cap.
func (s *Server) handleTokenAllowanceCap(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, "changeTokenAllowance", func(ref *vaultRef, from common.Address, req adminRequest) error {
		token, err := s.paymentToken(req.Token)
		if err != nil {
			return err
		}
		allowance, err := parseOptionalBase18(req.Allowance)
		if err != nil {
			return err
		}
		return ref.base.ChangeTokenAllowance(from, token, allowance)
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, "withdrawToken", func(ref *vaultRef, from common.Address, req adminRequest) error {
		token, err := s.paymentToken(req.Token)
		if err != nil {
			return err
		}
		amount, err := parseBase18(req.Amount)
		if err != nil {
			return err
		}
		to, err := parseAddress(req.To)
		if err != nil {
			return err
		}
		return ref.base.WithdrawToken(from, token, amount, to)
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, "changePauseState", func(ref *vaultRef, from common.Address, req adminRequest) error {
		return ref.base.ChangePauseState(from, req.Paused)
	})
}

func (s *Server) handleWaivedFee(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, "waivedFeeAccount", func(ref *vaultRef, from common.Address, req adminRequest) error {
		account, err := parseAddress(req.Account)
		if err != nil {
			return err
		}
		if req.Waived {
			return ref.base.AddWaivedFeeAccount(from, account)
		}
		return ref.base.RemoveWaivedFeeAccount(from, account)
	})
}

// handleInstantLimit sets the daily instant volume. An empty limit removes
// the bound.
func (s *Server) handleInstantLimit(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, "setInstantDailyLimit", func(ref *vaultRef, from common.Address, req adminRequest) error {
		limit, err := parseOptionalBase18(req.Limit)
		if err != nil {
			return err
		}
		return ref.base.SetInstantDailyLimit(from, limit)
	})
}

func (s *Server) handleInstantFee(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, "setInstantFee", func(ref *vaultRef, from common.Address, req adminRequest) error {
		if req.FeeBps == nil {
			return errMissingFeeChoice
		}
		return ref.base.SetInstantFee(from, *req.FeeBps)
	})
}

func (s *Server) handleGreenlist(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, "setGreenlistEnable", func(ref *vaultRef, from common.Address, req adminRequest) error {
		return ref.base.SetGreenlistEnable(from, req.Enabled)
	})
}

func (s *Server) handleMinAmount(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, "setMinAmount", func(ref *vaultRef, from common.Address, req adminRequest) error {
		amount, err := parseBase18(req.Amount)
		if err != nil {
			return err
		}
		if ref.deposit != nil {
			return ref.deposit.SetMinAmountToDeposit(from, amount)
		}
		return ref.redemption.SetMinAmount(from, amount)
	})
}

func (s *Server) handleFreeFromMin(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, "freeFromMin", func(ref *vaultRef, from common.Address, req adminRequest) error {
		account, err := parseAddress(req.Account)
		if err != nil {
			return err
		}
		if req.Free {
			return ref.base.FreeFromMin(from, account)
		}
		return ref.base.RemoveFreeFromMin(from, account)
	})
}

// handleBuidlParams updates the BUIDL minimums. Values are integers in BUIDL
// native units; empty fields are left unchanged.
func (s *Server) handleBuidlParams(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, "setBuidlParams", func(ref *vaultRef, from common.Address, req adminRequest) error {
		if ref.buidl == nil {
			return errWrongVaultKind
		}
		if req.MinRedeem != "" {
			value, ok := new(big.Int).SetString(req.MinRedeem, 10)
			if !ok {
				return errs.ErrInvalidAmount
			}
			if err := ref.buidl.SetMinBuidlToRedeem(from, value); err != nil {
				return err
			}
		}
		if req.MinHeld != "" {
			value, ok := new(big.Int).SetString(req.MinHeld, 10)
			if !ok {
				return errs.ErrInvalidAmount
			}
			return ref.buidl.SetMinBuidlBalance(from, value)
		}
		return nil
	})
}

func (s *Server) handleLiquidityProvider(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, "setLiquidityProvider", func(ref *vaultRef, from common.Address, req adminRequest) error {
		if ref.swapper == nil {
			return errWrongVaultKind
		}
		provider, err := parseAddress(req.Provider)
		if err != nil {
			return err
		}
		return ref.swapper.SetLiquidityProvider(from, provider)
	})
}
