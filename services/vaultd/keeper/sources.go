package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// Quote is one answer reported by a source, as a plain decimal price.
type Quote struct {
	Price     *big.Rat
	Timestamp time.Time
}

// Source resolves the current price for one aggregator.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Quote, error)
}

// HTTPSource reads a JSON document and extracts the price at a dot separated
// field path such as "data.price". Numeric and string values are accepted.
type HTTPSource struct {
	name     string
	endpoint string
	field    []string
	headers  map[string]string
	client   *http.Client
	now      func() time.Time
}

// NewHTTPSource builds a source. A nil client uses a 10 second timeout.
func NewHTTPSource(client *http.Client, name, endpoint, field string, headers map[string]string) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	var path []string
	if trimmed := strings.TrimSpace(field); trimmed != "" {
		path = strings.Split(trimmed, ".")
	}
	return &HTTPSource{
		name:     label(name, endpoint),
		endpoint: strings.TrimSpace(endpoint),
		field:    path,
		headers:  headers,
		client:   client,
		now:      time.Now,
	}
}

func (s *HTTPSource) Name() string { return s.name }

// Fetch performs one GET request against the endpoint.
func (s *HTTPSource) Fetch(ctx context.Context) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("fetch %s: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Quote{}, fmt.Errorf("fetch %s: unexpected status %d", s.name, resp.StatusCode)
	}
	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Quote{}, fmt.Errorf("decode %s: %w", s.name, err)
	}
	price, err := extractPrice(doc, s.field)
	if err != nil {
		return Quote{}, fmt.Errorf("%s: %w", s.name, err)
	}
	return Quote{Price: price, Timestamp: s.now()}, nil
}

func extractPrice(doc any, path []string) (*big.Rat, error) {
	current := doc
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: not an object", key)
		}
		current, ok = obj[key]
		if !ok {
			return nil, fmt.Errorf("field %q missing", key)
		}
	}
	var raw string
	switch v := current.(type) {
	case json.Number:
		raw = v.String()
	case string:
		raw = strings.TrimSpace(v)
	default:
		return nil, fmt.Errorf("price has unsupported type %T", current)
	}
	price, ok := new(big.Rat).SetString(raw)
	if !ok {
		return nil, fmt.Errorf("invalid price %q", raw)
	}
	return price, nil
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}
