package vault

import (
	"errors"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"mvault/core/events"
	"mvault/native/access"
	"mvault/native/decimals"
	"mvault/native/errs"
)

const secondsPerDay = 86_400

// Manageable holds the configuration and plumbing shared by deposit and
// redemption vaults: payment tokens, fees, pause state, fee waivers, the
// greenlist switch and the instant redemption limits.
type Manageable struct {
	state   State
	ledger  Ledger
	roles   Roles
	feeds   Feeds
	cfg     Config
	emitter events.Emitter
	nowFn   func() int64
}

func newManageable(st State, ledger Ledger, roles Roles, feeds Feeds, cfg Config) (*Manageable, error) {
	if st == nil || ledger == nil || roles == nil || feeds == nil {
		return nil, errors.New("vault: state, ledger, roles and feeds required")
	}
	if cfg.Address == (common.Address{}) || cfg.MToken == (common.Address{}) {
		return nil, errs.ErrInvalidAddress
	}
	if cfg.InstantFeeBps > MaxFeeBps {
		return nil, ErrFeeExceedsLimit
	}
	if _, err := ledger.Decimals(cfg.MToken); err != nil {
		return nil, err
	}
	if cfg.MTokenFeed != (common.Address{}) {
		if _, ok := feeds.Feed(cfg.MTokenFeed); !ok {
			return nil, ErrUnknownFeed
		}
	}
	m := &Manageable{
		state:   st,
		ledger:  ledger,
		roles:   roles,
		feeds:   feeds,
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
	err := st.Atomic(func() error {
		done, err := st.KVGet(initializedKey(cfg.Address), nil)
		if err != nil || done {
			return err
		}
		if err := st.KVPut(minAmountKey(cfg.Address), orZero(cfg.MinAmount)); err != nil {
			return err
		}
		if err := st.KVPut(instantFeeKey(cfg.Address), cfg.InstantFeeBps); err != nil {
			return err
		}
		if err := m.storeOptional(instantLimitKey(cfg.Address), cfg.InstantDailyLimit); err != nil {
			return err
		}
		if err := st.KVPut(greenlistKey(cfg.Address), cfg.GreenlistDisabled); err != nil {
			return err
		}
		return st.KVPut(initializedKey(cfg.Address), true)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (m *Manageable) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// SetNowFunc overrides the clock used for request timestamps and daily limits.
func (m *Manageable) SetNowFunc(now func() int64) {
	if now == nil {
		m.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	m.nowFn = now
}

// Address returns the vault's ledger address.
func (m *Manageable) Address() common.Address { return m.cfg.Address }

// MToken returns the token minted or burned by the vault.
func (m *Manageable) MToken() common.Address { return m.cfg.MToken }

// AdminRole returns the role gating the vault's administrative operations.
func (m *Manageable) AdminRole() access.Role { return m.cfg.AdminRole }

func (m *Manageable) now() int64 {
	now := m.nowFn()
	if now < 0 {
		return 0
	}
	return now
}

func (m *Manageable) emit(evt events.Event) {
	if m.emitter != nil {
		m.emitter.Emit(evt)
	}
}

func (m *Manageable) emitAdmin(kind string, sender, subject common.Address, value string) {
	m.emit(events.VaultAdminAction{Kind: kind, Vault: m.cfg.Address, Sender: sender, Subject: subject, Value: value})
}

func (m *Manageable) storeOptional(key []byte, value *big.Int) error {
	if value == nil {
		return m.state.KVDelete(key)
	}
	return m.state.KVPut(key, value)
}

func (m *Manageable) loadBig(key []byte) (*big.Int, bool, error) {
	value := new(big.Int)
	ok, err := m.state.KVGet(key, value)
	if err != nil {
		return nil, false, err
	}
	return value, ok, nil
}

func (m *Manageable) loadFlag(key []byte) (bool, error) {
	var flag bool
	if _, err := m.state.KVGet(key, &flag); err != nil {
		return false, err
	}
	return flag, nil
}

func (m *Manageable) setFlag(key []byte, flag bool) error {
	if !flag {
		return m.state.KVDelete(key)
	}
	return m.state.KVPut(key, true)
}

func (m *Manageable) requireAdmin(caller common.Address) error {
	return m.roles.CheckRole(m.cfg.AdminRole, caller)
}

func (m *Manageable) isAdmin(caller common.Address) (bool, error) {
	return m.roles.HasRole(m.cfg.AdminRole, caller)
}

// adminOp runs fn atomically after checking the caller holds the admin role.
func (m *Manageable) adminOp(caller common.Address, fn func() error) error {
	return m.state.Atomic(func() error {
		if err := m.requireAdmin(caller); err != nil {
			return err
		}
		return fn()
	})
}

// requireUser applies the user gates: blacklist, greenlist when enabled and
// the pause switch, which administrators bypass.
func (m *Manageable) requireUser(caller common.Address) error {
	if caller == (common.Address{}) {
		return errs.ErrInvalidAddress
	}
	blacklisted, err := m.roles.HasRole(access.BlacklistedRole, caller)
	if err != nil {
		return err
	}
	if blacklisted {
		return errs.ErrBlacklisted
	}
	enabled, err := m.GreenlistEnabled()
	if err != nil {
		return err
	}
	if enabled {
		greenlisted, err := m.roles.HasRole(access.GreenlistedRole, caller)
		if err != nil {
			return err
		}
		if !greenlisted {
			return errs.ErrNotGreenlisted
		}
	}
	paused, err := m.Paused()
	if err != nil {
		return err
	}
	if paused {
		admin, err := m.isAdmin(caller)
		if err != nil {
			return err
		}
		if !admin {
			return ErrPaused
		}
	}
	return nil
}

// AddPaymentToken registers token with an optional price feed and a fee that
// is clamped to 100%.
func (m *Manageable) AddPaymentToken(caller, token, feedAddr common.Address, feeBps uint64) error {
	return m.adminOp(caller, func() error {
		if token == (common.Address{}) {
			return errs.ErrInvalidAddress
		}
		if _, err := m.ledger.Decimals(token); err != nil {
			return err
		}
		if feedAddr != (common.Address{}) {
			if _, ok := m.feeds.Feed(feedAddr); !ok {
				return ErrUnknownFeed
			}
		}
		exists, err := m.state.KVGet(tokenConfigKey(m.cfg.Address, token), nil)
		if err != nil {
			return err
		}
		if exists {
			return ErrTokenAlreadyAdded
		}
		if feeBps > MaxFeeBps {
			feeBps = MaxFeeBps
		}
		cfg := &storedTokenConfig{Token: token, Feed: feedAddr, FeeBps: feeBps}
		if err := m.state.KVPut(tokenConfigKey(m.cfg.Address, token), cfg); err != nil {
			return err
		}
		if err := m.state.KVAppend(tokenListKey(m.cfg.Address), token.Bytes()); err != nil {
			return err
		}
		m.emitAdmin(events.TypeAddPaymentToken, caller, token, strconv.FormatUint(feeBps, 10))
		return nil
	})
}

// RemovePaymentToken unregisters token.
func (m *Manageable) RemovePaymentToken(caller, token common.Address) error {
	return m.adminOp(caller, func() error {
		if _, err := m.tokenConfig(token); err != nil {
			return err
		}
		if err := m.state.KVDelete(tokenConfigKey(m.cfg.Address, token)); err != nil {
			return err
		}
		if err := m.state.KVRemove(tokenListKey(m.cfg.Address), token.Bytes()); err != nil {
			return err
		}
		m.emitAdmin(events.TypeRemovePaymentToken, caller, token, "")
		return nil
	})
}

// SetFee updates the fee charged on flows of token.
func (m *Manageable) SetFee(caller, token common.Address, feeBps uint64) error {
	return m.adminOp(caller, func() error {
		if feeBps > MaxFeeBps {
			return ErrFeeExceedsLimit
		}
		cfg, err := m.storedConfig(token)
		if err != nil {
			return err
		}
		cfg.FeeBps = feeBps
		if err := m.state.KVPut(tokenConfigKey(m.cfg.Address, token), cfg); err != nil {
			return err
		}
		m.emitAdmin(events.TypeSetFee, caller, token, strconv.FormatUint(feeBps, 10))
		return nil
	})
}

// ChangeTokenAllowance caps the cumulative base-18 flow of token. Nil removes
// the cap.
func (m *Manageable) ChangeTokenAllowance(caller, token common.Address, allowance *big.Int) error {
	return m.adminOp(caller, func() error {
		if allowance != nil && allowance.Sign() < 0 {
			return errs.ErrInvalidAmount
		}
		cfg, err := m.storedConfig(token)
		if err != nil {
			return err
		}
		value := "unlimited"
		cfg.Allowance = ""
		if allowance != nil {
			cfg.Allowance = allowance.String()
			value = cfg.Allowance
		}
		if err := m.state.KVPut(tokenConfigKey(m.cfg.Address, token), cfg); err != nil {
			return err
		}
		m.emitAdmin(events.TypeChangeTokenAllowance, caller, token, value)
		return nil
	})
}

// WithdrawToken moves a base-18 amount of the vault's holdings of token to to.
func (m *Manageable) WithdrawToken(caller, token common.Address, amount *big.Int, to common.Address) error {
	return m.adminOp(caller, func() error {
		if to == (common.Address{}) {
			return errs.ErrInvalidAddress
		}
		if amount == nil || amount.Sign() <= 0 {
			return errs.ErrInvalidAmount
		}
		native, err := m.toNative(token, amount)
		if err != nil {
			return err
		}
		balance, err := m.ledger.BalanceOf(token, m.cfg.Address)
		if err != nil {
			return err
		}
		if balance.Cmp(native) < 0 {
			return errs.ErrInsufficientBal
		}
		if err := m.ledger.Transfer(token, m.cfg.Address, to, native); err != nil {
			return err
		}
		m.emitAdmin(events.TypeWithdrawToken, caller, to, amount.String())
		return nil
	})
}

// ChangePauseState pauses or resumes user operations.
func (m *Manageable) ChangePauseState(caller common.Address, paused bool) error {
	return m.adminOp(caller, func() error {
		current, err := m.Paused()
		if err != nil {
			return err
		}
		if current == paused {
			return ErrSameState
		}
		if err := m.setFlag(pausedKey(m.cfg.Address), paused); err != nil {
			return err
		}
		m.emitAdmin(events.TypeChangePauseState, caller, common.Address{}, strconv.FormatBool(paused))
		return nil
	})
}

// AddWaivedFeeAccount exempts account from every fee of the vault.
func (m *Manageable) AddWaivedFeeAccount(caller, account common.Address) error {
	return m.adminOp(caller, func() error {
		waived, err := m.IsWaivedFee(account)
		if err != nil {
			return err
		}
		if waived {
			return ErrAlreadyInList
		}
		if err := m.setFlag(waivedKey(m.cfg.Address, account), true); err != nil {
			return err
		}
		m.emitAdmin(events.TypeAddWaivedFeeAccount, caller, account, "")
		return nil
	})
}

// RemoveWaivedFeeAccount restores fees for account.
func (m *Manageable) RemoveWaivedFeeAccount(caller, account common.Address) error {
	return m.adminOp(caller, func() error {
		waived, err := m.IsWaivedFee(account)
		if err != nil {
			return err
		}
		if !waived {
			return ErrNotInList
		}
		if err := m.setFlag(waivedKey(m.cfg.Address, account), false); err != nil {
			return err
		}
		m.emitAdmin(events.TypeRemoveWaivedFeeAccount, caller, account, "")
		return nil
	})
}

// SetInstantDailyLimit bounds the mToken volume of instant operations per day.
// Nil removes the bound.
func (m *Manageable) SetInstantDailyLimit(caller common.Address, limit *big.Int) error {
	return m.adminOp(caller, func() error {
		if limit != nil && limit.Sign() < 0 {
			return errs.ErrInvalidAmount
		}
		if err := m.storeOptional(instantLimitKey(m.cfg.Address), limit); err != nil {
			return err
		}
		value := "unlimited"
		if limit != nil {
			value = limit.String()
		}
		m.emitAdmin(events.TypeSetInstantDailyLimit, caller, common.Address{}, value)
		return nil
	})
}

// SetInstantFee sets the extra fee charged on instant operations.
func (m *Manageable) SetInstantFee(caller common.Address, feeBps uint64) error {
	return m.adminOp(caller, func() error {
		if feeBps > MaxFeeBps {
			return ErrFeeExceedsLimit
		}
		if err := m.state.KVPut(instantFeeKey(m.cfg.Address), feeBps); err != nil {
			return err
		}
		m.emitAdmin(events.TypeSetInstantFee, caller, common.Address{}, strconv.FormatUint(feeBps, 10))
		return nil
	})
}

// SetGreenlistEnable toggles the greenlist requirement for users.
func (m *Manageable) SetGreenlistEnable(caller common.Address, enabled bool) error {
	return m.adminOp(caller, func() error {
		current, err := m.GreenlistEnabled()
		if err != nil {
			return err
		}
		if current == enabled {
			return ErrSameState
		}
		if err := m.state.KVPut(greenlistKey(m.cfg.Address), !enabled); err != nil {
			return err
		}
		m.emitAdmin(events.TypeSetGreenlistEnable, caller, common.Address{}, strconv.FormatBool(enabled))
		return nil
	})
}

// PaymentTokens lists the registered payment tokens in registration order.
func (m *Manageable) PaymentTokens() ([]common.Address, error) {
	var raw [][]byte
	if err := m.state.KVGetList(tokenListKey(m.cfg.Address), &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(raw))
	for i := range raw {
		out[i] = common.BytesToAddress(raw[i])
	}
	return out, nil
}

// TokenConfig returns the configuration of a registered payment token.
func (m *Manageable) TokenConfig(token common.Address) (*TokenConfig, error) {
	return m.tokenConfig(token)
}

func (m *Manageable) storedConfig(token common.Address) (*storedTokenConfig, error) {
	cfg := new(storedTokenConfig)
	ok, err := m.state.KVGet(tokenConfigKey(m.cfg.Address, token), cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTokenNotExists
	}
	return cfg, nil
}

func (m *Manageable) tokenConfig(token common.Address) (*TokenConfig, error) {
	cfg, err := m.storedConfig(token)
	if err != nil {
		return nil, err
	}
	return cfg.toConfig()
}

// IsWaivedFee reports whether account is exempt from fees.
func (m *Manageable) IsWaivedFee(account common.Address) (bool, error) {
	return m.loadFlag(waivedKey(m.cfg.Address, account))
}

// Paused reports whether user operations are suspended.
func (m *Manageable) Paused() (bool, error) {
	return m.loadFlag(pausedKey(m.cfg.Address))
}

// GreenlistEnabled reports whether users must hold the greenlisted role.
func (m *Manageable) GreenlistEnabled() (bool, error) {
	disabled, err := m.loadFlag(greenlistKey(m.cfg.Address))
	if err != nil {
		return false, err
	}
	return !disabled, nil
}

// InstantFee returns the extra fee of instant operations in basis points.
func (m *Manageable) InstantFee() (uint64, error) {
	var fee uint64
	if _, err := m.state.KVGet(instantFeeKey(m.cfg.Address), &fee); err != nil {
		return 0, err
	}
	return fee, nil
}

// InstantDailyLimit returns the per-day instant volume limit, nil when
// unlimited.
func (m *Manageable) InstantDailyLimit() (*big.Int, error) {
	limit, ok, err := m.loadBig(instantLimitKey(m.cfg.Address))
	if err != nil || !ok {
		return nil, err
	}
	return limit, nil
}

// CurrentDay returns the day number used to bucket instant volume.
func (m *Manageable) CurrentDay() uint64 {
	return uint64(m.now()) / secondsPerDay
}

// DailyUsage returns the instant volume consumed on day.
func (m *Manageable) DailyUsage(day uint64) (*big.Int, error) {
	usage, _, err := m.loadBig(dailyUsageKey(m.cfg.Address, day))
	return usage, err
}

// MinAmount returns the vault's minimum operation amount.
func (m *Manageable) MinAmount() (*big.Int, error) {
	value, _, err := m.loadBig(minAmountKey(m.cfg.Address))
	return value, err
}

func (m *Manageable) setMinAmount(caller common.Address, kind string, value *big.Int) error {
	return m.adminOp(caller, func() error {
		if value == nil || value.Sign() < 0 {
			return errs.ErrInvalidAmount
		}
		if err := m.state.KVPut(minAmountKey(m.cfg.Address), value); err != nil {
			return err
		}
		m.emitAdmin(kind, caller, common.Address{}, value.String())
		return nil
	})
}

// IsFreeFromMin reports whether account is exempt from the minimum amount.
func (m *Manageable) IsFreeFromMin(account common.Address) (bool, error) {
	return m.loadFlag(freeFromMinKey(m.cfg.Address, account))
}

func (m *Manageable) setFreeFromMin(caller, account common.Address, free bool) error {
	return m.adminOp(caller, func() error {
		if account == (common.Address{}) {
			return errs.ErrInvalidAddress
		}
		current, err := m.IsFreeFromMin(account)
		if err != nil {
			return err
		}
		if free && current {
			return ErrAlreadyFree
		}
		if !free && !current {
			return ErrNotFree
		}
		if err := m.setFlag(freeFromMinKey(m.cfg.Address, account), free); err != nil {
			return err
		}
		kind := events.TypeFreeFromMinDeposit
		if !free {
			kind = events.TypeRemoveFreeFromMin
		}
		m.emitAdmin(kind, caller, account, "")
		return nil
	})
}

// FreeFromMin exempts account from the minimum amount.
func (m *Manageable) FreeFromMin(caller, account common.Address) error {
	return m.setFreeFromMin(caller, account, true)
}

// RemoveFreeFromMin restores the minimum amount for account.
func (m *Manageable) RemoveFreeFromMin(caller, account common.Address) error {
	return m.setFreeFromMin(caller, account, false)
}

// Total returns the cumulative base-18 volume recorded for account.
func (m *Manageable) Total(account common.Address) (*big.Int, error) {
	total, _, err := m.loadBig(totalKey(m.cfg.Address, account))
	return total, err
}

func (m *Manageable) adjustTotal(account common.Address, delta *big.Int) error {
	total, err := m.Total(account)
	if err != nil {
		return err
	}
	total.Add(total, delta)
	if total.Sign() <= 0 {
		return m.state.KVDelete(totalKey(m.cfg.Address, account))
	}
	return m.state.KVPut(totalKey(m.cfg.Address, account), total)
}

// feeAmount returns the fee owed on amount for a flow of token. Instant flows
// add the instant fee; the combined rate never exceeds 100%.
func (m *Manageable) feeAmount(caller common.Address, cfg *TokenConfig, amount *big.Int, instant bool) (*big.Int, error) {
	waived, err := m.IsWaivedFee(caller)
	if err != nil {
		return nil, err
	}
	if waived {
		return new(big.Int), nil
	}
	bps := cfg.FeeBps
	if instant {
		extra, err := m.InstantFee()
		if err != nil {
			return nil, err
		}
		bps += extra
	}
	if bps > MaxFeeBps {
		bps = MaxFeeBps
	}
	return decimals.MulDiv(amount, new(big.Int).SetUint64(bps), big.NewInt(MaxFeeBps)), nil
}

// consumeAllowance decrements the token's flow cap by amount.
func (m *Manageable) consumeAllowance(token common.Address, amount *big.Int) error {
	cfg, err := m.storedConfig(token)
	if err != nil {
		return err
	}
	if cfg.Allowance == "" {
		return nil
	}
	allowance, ok := new(big.Int).SetString(cfg.Allowance, 10)
	if !ok {
		return errCorruptAllowance
	}
	if allowance.Cmp(amount) < 0 {
		return ErrExceedAllowance
	}
	cfg.Allowance = allowance.Sub(allowance, amount).String()
	return m.state.KVPut(tokenConfigKey(m.cfg.Address, token), cfg)
}

// consumeListedAllowance is consumeAllowance for requests accepted earlier. A
// token removed since then no longer carries a cap.
func (m *Manageable) consumeListedAllowance(token common.Address, amount *big.Int) error {
	err := m.consumeAllowance(token, amount)
	if errors.Is(err, ErrTokenNotExists) {
		return nil
	}
	return err
}

// consumeDailyLimit records amount against today's instant volume.
func (m *Manageable) consumeDailyLimit(amount *big.Int) error {
	day := m.CurrentDay()
	usage, err := m.DailyUsage(day)
	if err != nil {
		return err
	}
	usage.Add(usage, amount)
	limit, err := m.InstantDailyLimit()
	if err != nil {
		return err
	}
	if limit != nil && usage.Cmp(limit) > 0 {
		return ErrDailyLimitExceeded
	}
	return m.state.KVPut(dailyUsageKey(m.cfg.Address, day), usage)
}

// rate returns the base-18 USD price of a token; tokens without a feed are
// valued at 1.
func (m *Manageable) rate(feedAddr common.Address) (*big.Int, error) {
	if feedAddr == (common.Address{}) {
		return decimals.One(), nil
	}
	f, ok := m.feeds.Feed(feedAddr)
	if !ok {
		return nil, ErrUnknownFeed
	}
	value, err := f.GetDataInBase18()
	if err != nil {
		return nil, err
	}
	if value.Sign() <= 0 {
		return nil, errs.Oracle("invalid rate")
	}
	return value, nil
}

// MTokenRate returns the base-18 USD price of the mToken.
func (m *Manageable) MTokenRate() (*big.Int, error) {
	return m.rate(m.cfg.MTokenFeed)
}

// TokenRate returns the base-18 USD price of a registered payment token.
func (m *Manageable) TokenRate(token common.Address) (*big.Int, error) {
	cfg, err := m.tokenConfig(token)
	if err != nil {
		return nil, err
	}
	return m.rate(cfg.Feed)
}

// toNative converts a base-18 amount of token into its native precision and
// rejects amounts that do not survive the round trip.
func (m *Manageable) toNative(token common.Address, amount *big.Int) (*big.Int, error) {
	dec, err := m.ledger.Decimals(token)
	if err != nil {
		return nil, err
	}
	native, err := decimals.FromBase18(amount, dec)
	if err != nil {
		return nil, err
	}
	back, err := decimals.ToBase18(native, dec)
	if err != nil {
		return nil, err
	}
	if back.Cmp(amount) != 0 {
		return nil, ErrInvalidRounding
	}
	return native, nil
}

// truncate drops the part of a base-18 amount that token cannot represent.
func (m *Manageable) truncate(token common.Address, amount *big.Int) (*big.Int, error) {
	dec, err := m.ledger.Decimals(token)
	if err != nil {
		return nil, err
	}
	native, err := decimals.FromBase18(amount, dec)
	if err != nil {
		return nil, err
	}
	return decimals.ToBase18(native, dec)
}

// pull moves a base-18 amount of token from owner into the vault using the
// allowance owner granted the vault.
func (m *Manageable) pull(token, owner common.Address, amount *big.Int) error {
	native, err := m.toNative(token, amount)
	if err != nil {
		return err
	}
	return m.ledger.TransferFrom(token, m.cfg.Address, owner, m.cfg.Address, native)
}

// push moves a base-18 amount of token out of the vault.
func (m *Manageable) push(token, to common.Address, amount *big.Int) error {
	native, err := m.toNative(token, amount)
	if err != nil {
		return err
	}
	return m.ledger.Transfer(token, m.cfg.Address, to, native)
}

func (m *Manageable) nextRequestID() (uint64, error) {
	var counter uint64
	if _, err := m.state.KVGet(requestCounterKey(m.cfg.Address), &counter); err != nil {
		return 0, err
	}
	counter++
	if err := m.state.KVPut(requestCounterKey(m.cfg.Address), counter); err != nil {
		return 0, err
	}
	return counter, nil
}

func (m *Manageable) storeRequest(req *Request) error {
	created := req.CreatedAt
	if created < 0 {
		created = 0
	}
	record := &storedRequest{
		ID:         req.ID,
		Sender:     req.Sender,
		Token:      req.Token,
		AmountIn:   orZero(req.AmountIn),
		Fee:        orZero(req.Fee),
		AmountUsd:  orZero(req.AmountUsd),
		TokenRate:  orZero(req.TokenRate),
		MTokenRate: orZero(req.MTokenRate),
		CreatedAt:  uint64(created),
	}
	if err := m.state.KVPut(requestKey(m.cfg.Address, req.ID), record); err != nil {
		return err
	}
	return m.state.KVAppend(pendingListKey(m.cfg.Address), encodeID(req.ID))
}

func (m *Manageable) deleteRequest(id uint64) error {
	if err := m.state.KVDelete(requestKey(m.cfg.Address, id)); err != nil {
		return err
	}
	return m.state.KVRemove(pendingListKey(m.cfg.Address), encodeID(id))
}

// Request returns a pending request. Fulfilled and cancelled requests are gone.
func (m *Manageable) Request(id uint64) (*Request, error) {
	var record storedRequest
	ok, err := m.state.KVGet(requestKey(m.cfg.Address, id), &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRequestNotFound
	}
	return record.toRequest(), nil
}

// PendingRequests lists pending requests in creation order.
func (m *Manageable) PendingRequests() ([]*Request, error) {
	var raw [][]byte
	if err := m.state.KVGetList(pendingListKey(m.cfg.Address), &raw); err != nil {
		return nil, err
	}
	out := make([]*Request, 0, len(raw))
	for _, encoded := range raw {
		id, err := strconv.ParseUint(string(encoded), 10, 64)
		if err != nil {
			return nil, err
		}
		req, err := m.Request(id)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// LastRequestID returns the most recently assigned request id.
func (m *Manageable) LastRequestID() (uint64, error) {
	var counter uint64
	_, err := m.state.KVGet(requestCounterKey(m.cfg.Address), &counter)
	return counter, err
}
