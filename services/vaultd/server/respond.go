package server

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"mvault/core/types"
	"mvault/native/decimals"
	"mvault/native/errs"
	"mvault/observability"
)

var (
	errBadJSON      = errs.Validation("invalid request body")
	errBadAddress   = errs.Validation("invalid address")
	errBadRequestID = errs.Validation("invalid request id")
	errMissingField = errs.Validation("missing field")
)

// statusFor maps engine error kinds to HTTP status codes.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrAuthorization:
		return http.StatusForbidden
	case errs.ErrNotFound:
		return http.StatusNotFound
	case errs.ErrState:
		return http.StatusConflict
	case errs.ErrValidation:
		return http.StatusBadRequest
	case errs.ErrInsufficientFunds:
		return http.StatusUnprocessableEntity
	case errs.ErrOracle:
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	reason := errs.Reason(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("vaultd: internal error", "error", err.Error())
		reason = "internal error"
	}
	writeJSONError(w, status, reason)
}

func decodeBody(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return errBadJSON
	}
	return nil
}

func caller(r *http.Request) common.Address {
	addr, _ := CallerFrom(r.Context())
	return addr
}

func parseAddress(raw string) (common.Address, error) {
	addr, ok := types.ParseAddress(raw)
	if !ok {
		return common.Address{}, errBadAddress
	}
	return addr, nil
}

func addressParam(r *http.Request, name string) (common.Address, error) {
	return parseAddress(chi.URLParam(r, name))
}

// parseBase18 parses a decimal amount in whole units into base-18.
func parseBase18(raw string) (*big.Int, error) {
	return parseUnits(raw, decimals.Base)
}

func parseUnits(raw string, dec uint8) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errMissingField
	}
	return decimals.ParseUnits(raw, dec)
}

// parseOptionalBase18 treats an empty string as nil.
func parseOptionalBase18(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return decimals.ParseUnits(raw, decimals.Base)
}

func formatBase18(v *big.Int) string {
	if v == nil {
		return ""
	}
	return decimals.FormatUnits(v, decimals.Base)
}

func requestIDParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errBadRequestID
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// view runs fn against committed state under the shared lock.
func (s *Server) view(fn func() error) error {
	return s.rt.Manager.View(fn)
}

// observe times one vault operation and records its outcome.
func observe(vault, operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	observability.Vault().Observe(vault, operation, time.Since(start), err)
	return err
}

func formatUnits(v *big.Int, dec uint8) string {
	if v == nil {
		return ""
	}
	return decimals.FormatUnits(v, dec)
}
