package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"xsauce/native/yield"
	"xsauce/observability"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// engineAPI is the slice of the yield engine the HTTP layer drives.
// *yield.Engine satisfies it; tests substitute a fake.
type engineAPI interface {
	BindMarket(caller common.Address) error
	DepositPaymentToken(caller common.Address, amount *big.Int) error
	TransferPaymentTokensToUser(caller, user common.Address, amount *big.Int) error
	RemovePaymentTokenFromMarket(caller common.Address, amount *big.Int) error
	DistributeYield(caller common.Address, totalRealizedWei, treasuryShareWad *big.Int) (*big.Int, error)
	WithdrawTreasuryFunds() (*big.Int, error)
	ClaimRewards() (*big.Int, error)
	RefreshPoolApproval() error
	Reserves() (*yield.Reserves, error)
}

// Server hosts the yield engine for its bound market over HTTP.
type Server struct {
	engine  engineAPI
	market  common.Address
	log     *slog.Logger
	auth    *authenticator
	limiter *rate.Limiter
}

// Options configures a Server.
type Options struct {
	Market             common.Address
	SharedSecretHeader string
	SharedSecretValue  string
	RateLimitPerMin    int
}

// New constructs a server around the supplied engine.
func New(engine engineAPI, log *slog.Logger, opts Options) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server: engine required")
	}
	if log == nil {
		log = slog.Default()
	}
	var limiter *rate.Limiter
	if opts.RateLimitPerMin > 0 {
		perSecond := rate.Limit(float64(opts.RateLimitPerMin) / 60.0)
		limiter = rate.NewLimiter(perSecond, opts.RateLimitPerMin)
	}
	return &Server{
		engine:  engine,
		market:  opts.Market,
		log:     log,
		auth:    newAuthenticator(opts.SharedSecretHeader, opts.SharedSecretValue),
		limiter: limiter,
	}, nil
}

// Router assembles the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/v1/reserves", s.handleReserves)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.middleware)
		r.Use(throttle(s.limiter))
		r.Post("/v1/bind", s.handleBind)
		r.Post("/v1/deposit", s.handleDeposit)
		r.Post("/v1/payout", s.handlePayout)
		r.Post("/v1/remove", s.handleRemove)
		r.Post("/v1/distribute", s.handleDistribute)
		r.Post("/v1/treasury/withdraw", s.handleTreasuryWithdraw)
		r.Post("/v1/rewards/claim", s.handleRewardsClaim)
		r.Post("/v1/pool/refresh", s.handlePoolRefresh)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			slog.String("requestId", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type reservesResponse struct {
	TreasuryWei  string `json:"treasuryReserve"`
	ShortfallWei string `json:"shortfallBuffer"`
	MarketBound  bool   `json:"marketBound"`
}

func (s *Server) handleReserves(w http.ResponseWriter, _ *http.Request) {
	res, err := s.engine.Reserves()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservesResponse{
		TreasuryWei:  res.TreasuryWei.String(),
		ShortfallWei: res.ShortfallWei.String(),
		MarketBound:  res.MarketBound,
	})
}

func (s *Server) handleBind(w http.ResponseWriter, _ *http.Request) {
	s.observe(w, "bind", func() (interface{}, error) {
		if err := s.engine.BindMarket(s.market); err != nil {
			return nil, err
		}
		return map[string]string{"status": "bound"}, nil
	})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.observe(w, "deposit", func() (interface{}, error) {
		if err := s.engine.DepositPaymentToken(s.market, amount); err != nil {
			return nil, err
		}
		return map[string]string{"status": "deposited"}, nil
	})
}

type payoutRequest struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

func (s *Server) handlePayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !common.IsHexAddress(strings.TrimSpace(req.User)) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user must be a hex address"})
		return
	}
	user := common.HexToAddress(strings.TrimSpace(req.User))
	s.observe(w, "payout", func() (interface{}, error) {
		if err := s.engine.TransferPaymentTokensToUser(s.market, user, amount); err != nil {
			return nil, err
		}
		return map[string]string{"status": "paid"}, nil
	})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var before *big.Int
	if res, err := s.engine.Reserves(); err == nil {
		before = res.ShortfallWei
	}
	s.observe(w, "remove", func() (interface{}, error) {
		if err := s.engine.RemovePaymentTokenFromMarket(s.market, amount); err != nil {
			return nil, err
		}
		if res, err := s.engine.Reserves(); err == nil && before != nil && res.ShortfallWei.Cmp(before) > 0 {
			observability.EngineMetrics().RecordShortfall()
		}
		return map[string]string{"status": "removed"}, nil
	})
}

type distributeRequest struct {
	TotalRealized    string `json:"totalRealized"`
	TreasuryShareWad string `json:"treasuryShareWad"`
}

type distributeResponse struct {
	AmountForMarket string `json:"amountForMarket"`
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	realized, err := parseAmountAllowZero(req.TotalRealized)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	share, err := parseAmountAllowZero(req.TreasuryShareWad)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.observe(w, "distribute", func() (interface{}, error) {
		forMarket, err := s.engine.DistributeYield(s.market, realized, share)
		if err != nil {
			return nil, err
		}
		return distributeResponse{AmountForMarket: forMarket.String()}, nil
	})
}

type amountResponse struct {
	Amount string `json:"amount"`
}

func (s *Server) handleTreasuryWithdraw(w http.ResponseWriter, _ *http.Request) {
	s.observe(w, "treasury_withdraw", func() (interface{}, error) {
		amount, err := s.engine.WithdrawTreasuryFunds()
		if err != nil {
			return nil, err
		}
		return amountResponse{Amount: amount.String()}, nil
	})
}

func (s *Server) handleRewardsClaim(w http.ResponseWriter, _ *http.Request) {
	s.observe(w, "rewards_claim", func() (interface{}, error) {
		amount, err := s.engine.ClaimRewards()
		if err != nil {
			return nil, err
		}
		return amountResponse{Amount: amount.String()}, nil
	})
}

func (s *Server) handlePoolRefresh(w http.ResponseWriter, _ *http.Request) {
	s.observe(w, "pool_refresh", func() (interface{}, error) {
		if err := s.engine.RefreshPoolApproval(); err != nil {
			return nil, err
		}
		return map[string]string{"status": "refreshed"}, nil
	})
}

// observe runs the operation, records its metrics, refreshes the reserve
// gauges, and writes the HTTP response.
func (s *Server) observe(w http.ResponseWriter, op string, fn func() (interface{}, error)) {
	start := time.Now()
	body, err := fn()
	observability.EngineMetrics().Observe(op, err, time.Since(start))
	if res, resErr := s.engine.Reserves(); resErr == nil {
		observability.EngineMetrics().SetReserves(res.TreasuryWei, res.ShortfallWei)
	}
	if err != nil {
		s.log.Error("operation failed", slog.String("op", op), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func decodeRequest(r *http.Request, out interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, requestBodyLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return fmt.Errorf("request body is empty")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, err := parseAmountAllowZero(raw)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseAmountAllowZero(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
