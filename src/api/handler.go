package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	log "github.com/sirupsen/logrus"

	"github.com/simtrade/engine/src/backtester"
	"github.com/simtrade/engine/src/eventmodels"
	"github.com/simtrade/engine/src/execution"
	"github.com/simtrade/engine/src/risk"
	"github.com/simtrade/engine/src/strategy"
)

var queryDecoder = schema.NewDecoder()

type errorResponse struct {
	Type string `json:"type"`
	Msg  string `json:"message"`
}

func setResponse(response interface{}, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		return fmt.Errorf("setResponse: encode: %w", err)
	}

	return nil
}

func setErrorResponse(errType string, statusCode int, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := &errorResponse{Type: errType, Msg: err.Error()}
	if encodeErr := json.NewEncoder(w).Encode(resp); encodeErr != nil {
		log.Errorf("setErrorResponse: encode: %v", encodeErr)
	}
}

// RunBacktestRequest mirrors the backtest service's request shape: a candle
// series plus the session parameters.
type RunBacktestRequest struct {
	Symbol         string                `json:"symbol"`
	Timeframe      string                `json:"timeframe"`
	InitialBalance float64               `json:"initial_balance"`
	Candles        []*eventmodels.Candle `json:"candles"`
	CSV            string                `json:"csv,omitempty"`
	Strategy       strategy.Config       `json:"strategy"`
	Risk           *risk.Config          `json:"risk,omitempty"`
	Execution      *execution.Config     `json:"execution,omitempty"`
}

// ResultOptions trims the response payload; decoded from the query string.
type ResultOptions struct {
	IncludeEquityCurve bool `schema:"include_equity_curve"`
	IncludeTrades      bool `schema:"include_trades"`
}

func defaultResultOptions() ResultOptions {
	return ResultOptions{
		IncludeEquityCurve: true,
		IncludeTrades:      true,
	}
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := setResponse(response, w); err != nil {
		setErrorResponse("healthCheck: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func runBacktest(w http.ResponseWriter, r *http.Request) {
	var req RunBacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		setErrorResponse("runBacktest: failed to decode request", http.StatusBadRequest, err, w)
		return
	}

	options := defaultResultOptions()
	if err := queryDecoder.Decode(&options, r.URL.Query()); err != nil {
		setErrorResponse("runBacktest: failed to decode query options", http.StatusBadRequest, err, w)
		return
	}

	riskConfig := risk.DefaultConfig()
	if req.Risk != nil {
		riskConfig = *req.Risk
	}

	executionConfig := execution.Config{}
	if req.Execution != nil {
		executionConfig = *req.Execution
	}

	driver, err := backtester.NewDriver(backtester.Config{
		Symbol:         req.Symbol,
		Timeframe:      req.Timeframe,
		InitialBalance: req.InitialBalance,
		Strategy:       req.Strategy,
		Risk:           riskConfig,
		Execution:      executionConfig,
	})
	if err != nil {
		setErrorResponse("runBacktest: invalid configuration", http.StatusBadRequest, err, w)
		return
	}

	if req.CSV != "" {
		err = driver.LoadCSV(req.CSV)
	} else {
		err = driver.LoadCandles(req.Candles)
	}

	if err != nil {
		setErrorResponse("runBacktest: failed to load data", http.StatusBadRequest, err, w)
		return
	}

	result, err := driver.Start(r.Context())
	if err != nil {
		setErrorResponse("runBacktest: backtest failed", http.StatusInternalServerError, err, w)
		return
	}

	result.Sanitize()

	if !options.IncludeEquityCurve {
		result.EquityCurve = nil
	}

	if !options.IncludeTrades {
		result.Trades = nil
	}

	if err := setResponse(result, w); err != nil {
		setErrorResponse("runBacktest: failed to set response", http.StatusInternalServerError, err, w)
	}
}

// SetupHandler mounts the backtest service routes.
func SetupHandler(router *mux.Router) {
	queryDecoder.IgnoreUnknownKeys(true)

	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/run-backtest", runBacktest).Methods("POST")
}
