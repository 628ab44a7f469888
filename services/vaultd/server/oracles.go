package server

import (
	"errors"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"mvault/native/decimals"
	"mvault/native/errs"
	"mvault/native/feed"
	"mvault/services/vaultd/app"
	"mvault/services/vaultd/storage"
)

var (
	errUnknownAggregator = errs.NotFound("aggregator not found")
	errUnknownFeed       = errs.NotFound("feed not found")
	errBadDuration       = errs.Validation("invalid duration")
)

type roundView struct {
	RoundID   uint64 `json:"roundId"`
	Answer    string `json:"answer"`
	StartedAt int64  `json:"startedAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func newRoundView(round *feed.RoundData, dec uint8) roundView {
	return roundView{
		RoundID:   round.RoundID,
		Answer:    decimals.FormatUnits(round.Answer, dec),
		StartedAt: round.StartedAt,
		UpdatedAt: round.UpdatedAt,
	}
}

type aggregatorView struct {
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	Description  string    `json:"description"`
	Decimals     uint8     `json:"decimals"`
	MinAnswer    string    `json:"minAnswer"`
	MaxAnswer    string    `json:"maxAnswer"`
	MaxDeviation string    `json:"maxDeviationPct"`
	Latest       roundView `json:"latest"`
}

type feedView struct {
	Name              string `json:"name"`
	Address           string `json:"address"`
	Aggregator        string `json:"aggregator"`
	HealthyDiff       string `json:"healthyDiff"`
	MinExpectedAnswer string `json:"minExpectedAnswer,omitempty"`
	MaxExpectedAnswer string `json:"maxExpectedAnswer,omitempty"`
	Price             string `json:"price,omitempty"`
	Error             string `json:"error,omitempty"`
	LastFetch         string `json:"lastFetch,omitempty"`
	LastFetchAt       int64  `json:"lastFetchAt,omitempty"`
}

func (s *Server) mountOracles(r chi.Router) {
	r.Get("/aggregators", s.handleListAggregators)
	r.Route("/aggregators/{name}", func(r chi.Router) {
		r.Get("/", s.handleAggregator)
		r.Get("/rounds/{id}", s.handleAggregatorRound)
		r.Post("/rounds", s.handleSetRound)
		r.Get("/samples", s.handleKeeperSamples)
		r.Get("/keeper", s.handleKeeperRound)
	})
	r.Get("/feeds", s.handleListFeeds)
	r.Route("/feeds/{name}", func(r chi.Router) {
		r.Get("/", s.handleFeed)
		r.Post("/fetch", s.handleFeedFetch)
		r.Post("/aggregator", s.handleFeedAggregator)
		r.Post("/healthy-diff", s.handleFeedHealthyDiff)
		r.Post("/min-expected", s.handleFeedBound(false))
		r.Post("/max-expected", s.handleFeedBound(true))
	})
}

func (s *Server) aggregatorParam(r *http.Request) (string, *feed.CustomAggregator, error) {
	name := chi.URLParam(r, "name")
	agg, ok := s.rt.Aggregators[name]
	if !ok {
		return "", nil, errUnknownAggregator
	}
	return name, agg, nil
}

func (s *Server) feedParam(r *http.Request) (string, *feed.DataFeed, error) {
	name := chi.URLParam(r, "name")
	f, ok := s.rt.Feeds[name]
	if !ok {
		return "", nil, errUnknownFeed
	}
	return name, f, nil
}

func (s *Server) describeAggregator(name string, agg *feed.CustomAggregator) (aggregatorView, error) {
	cfg := agg.Config()
	latest, err := agg.LatestRoundData()
	if err != nil {
		return aggregatorView{}, err
	}
	return aggregatorView{
		Name:         name,
		Address:      agg.Address().Hex(),
		Description:  cfg.Description,
		Decimals:     cfg.Decimals,
		MinAnswer:    decimals.FormatUnits(cfg.MinAnswer, cfg.Decimals),
		MaxAnswer:    decimals.FormatUnits(cfg.MaxAnswer, cfg.Decimals),
		MaxDeviation: decimals.FormatUnits(cfg.MaxAnswerDeviation, cfg.Decimals),
		Latest:       newRoundView(latest, cfg.Decimals),
	}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *Server) handleListAggregators(w http.ResponseWriter, r *http.Request) {
	var out []aggregatorView
	err := s.view(func() error {
		for _, name := range sortedKeys(s.rt.Aggregators) {
			view, err := s.describeAggregator(name, s.rt.Aggregators[name])
			if err != nil {
				return err
			}
			out = append(out, view)
		}
		return nil
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAggregator(w http.ResponseWriter, r *http.Request) {
	name, agg, err := s.aggregatorParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var view aggregatorView
	if err := s.view(func() error {
		var err error
		view, err = s.describeAggregator(name, agg)
		return err
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAggregatorRound(w http.ResponseWriter, r *http.Request) {
	_, agg, err := s.aggregatorParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.fail(w, feed.ErrRoundNotFound)
		return
	}
	var round *feed.RoundData
	if err := s.view(func() error {
		var err error
		round, err = agg.GetRoundData(id)
		return err
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRoundView(round, agg.Decimals()))
}

func (s *Server) handleSetRound(w http.ResponseWriter, r *http.Request) {
	name, agg, err := s.aggregatorParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req struct {
		Answer string `json:"answer"`
		Unsafe bool   `json:"unsafe"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	answer, err := parseUnits(req.Answer, agg.Decimals())
	if err != nil {
		s.fail(w, err)
		return
	}
	op := "setRoundDataSafe"
	write := agg.SetRoundDataSafe
	if req.Unsafe {
		op = "setRoundData"
		write = agg.SetRoundData
	}
	if err := observe(name, op, func() error { return write(caller(r), answer) }); err != nil {
		s.fail(w, err)
		return
	}
	var round uint64
	_ = s.view(func() error {
		round, err = agg.LatestRound()
		return err
	})
	writeJSON(w, http.StatusOK, map[string]uint64{"roundId": round})
}

func (s *Server) handleKeeperSamples(w http.ResponseWriter, r *http.Request) {
	name, _, err := s.aggregatorParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	samples, err := s.journal.RecentSamples(r.Context(), name, queryInt(r, "limit", 20))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleKeeperRound(w http.ResponseWriter, r *http.Request) {
	name, _, err := s.aggregatorParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	round, err := s.journal.LatestRound(r.Context(), name)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no keeper round recorded")
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (s *Server) describeFeed(name string, f *feed.DataFeed) (feedView, error) {
	params, err := f.Params()
	if err != nil {
		return feedView{}, err
	}
	view := feedView{
		Name:        name,
		Address:     f.Address().Hex(),
		Aggregator:  s.rt.Names[params.Aggregator],
		HealthyDiff: params.HealthyDiff.String(),
	}
	if view.Aggregator == "" {
		view.Aggregator = params.Aggregator.Hex()
	}
	var aggDecimals uint8 = 8
	if agg, ok := s.rt.Directory.Aggregator(params.Aggregator); ok {
		aggDecimals = agg.Decimals()
	}
	if params.MinExpectedAnswer != nil {
		view.MinExpectedAnswer = decimals.FormatUnits(params.MinExpectedAnswer, aggDecimals)
	}
	if params.MaxExpectedAnswer != nil {
		view.MaxExpectedAnswer = decimals.FormatUnits(params.MaxExpectedAnswer, aggDecimals)
	}
	if price, err := f.GetDataInBase18(); err != nil {
		view.Error = errs.Reason(err)
	} else {
		view.Price = formatBase18(price)
	}
	last, at, err := f.LastRecordedDataFetch()
	if err != nil {
		return feedView{}, err
	}
	if at > 0 {
		view.LastFetch = formatBase18(last)
		view.LastFetchAt = at
	}
	return view, nil
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	var out []feedView
	err := s.view(func() error {
		for _, name := range sortedKeys(s.rt.Feeds) {
			view, err := s.describeFeed(name, s.rt.Feeds[name])
			if err != nil {
				return err
			}
			out = append(out, view)
		}
		return nil
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	name, f, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var view feedView
	if err := s.view(func() error {
		var err error
		view, err = s.describeFeed(name, f)
		return err
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleFeedFetch(w http.ResponseWriter, r *http.Request) {
	_, f, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	price, err := f.FetchDataInBase18()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"price": formatBase18(price)})
}

func (s *Server) handleFeedAggregator(w http.ResponseWriter, r *http.Request) {
	_, f, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req struct {
		Aggregator string `json:"aggregator"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if _, ok := s.rt.Aggregators[req.Aggregator]; !ok {
		s.fail(w, errUnknownAggregator)
		return
	}
	if err := f.ChangeAggregator(caller(r), app.AggregatorAddress(req.Aggregator)); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFeedHealthyDiff(w http.ResponseWriter, r *http.Request) {
	_, f, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req struct {
		HealthyDiff string `json:"healthyDiff"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	diff, err := time.ParseDuration(req.HealthyDiff)
	if err != nil {
		s.fail(w, errBadDuration)
		return
	}
	if err := f.SetHealthyDiff(caller(r), diff); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFeedBound(upper bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, f, err := s.feedParam(r)
		if err != nil {
			s.fail(w, err)
			return
		}
		var req struct {
			Answer string `json:"answer"`
		}
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, err)
			return
		}
		var aggDecimals uint8 = 8
		if err := s.view(func() error {
			params, err := f.Params()
			if err != nil {
				return err
			}
			if agg, ok := s.rt.Directory.Aggregator(params.Aggregator); ok {
				aggDecimals = agg.Decimals()
			}
			return nil
		}); err != nil {
			s.fail(w, err)
			return
		}
		var value *big.Int
		if value, err = parseUnits(req.Answer, aggDecimals); err != nil {
			s.fail(w, err)
			return
		}
		if upper {
			err = f.SetMaxExpectedAnswer(caller(r), value)
		} else {
			err = f.SetMinExpectedAnswer(caller(r), value)
		}
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
