// x402 payment gateway - serves metered operations behind HTTP 402 and the
// payment-link API around them.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/web3ai/x402gate"
	"github.com/web3ai/x402gate/gate"
	"github.com/web3ai/x402gate/ledger"
	"github.com/web3ai/x402gate/types"
)

func main() {
	config := &types.Config{
		Network:        getEnv("X402_NETWORK", "monad-testnet"),
		RPCUrl:         getEnv("X402_RPC_URL", "https://testnet-rpc.monad.xyz"),
		ReceiverWallet: getEnv("X402_RECEIVER_WALLET", "0x9497FE4B4ECA41229b9337abAEbCC91eCc7be23B"),
		Asset:          getEnv("X402_ASSET", "MON"),
		PollAttempts:   getEnvInt("X402_POLL_ATTEMPTS", 10),
		PollInterval:   time.Duration(getEnvInt("X402_POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		ForceIPv4:      os.Getenv("X402_FORCE_IPV4") == "true",
		LogLevel:       getEnv("X402_LOG_LEVEL", "info"),
		EnableMetrics:  os.Getenv("X402_DISABLE_METRICS") != "true",
	}

	store, err := openStore()
	if err != nil {
		log.Fatalf("failed to open ledger: %v", err)
	}

	gw, err := x402gate.New(config, store)
	if err != nil {
		log.Fatalf("failed to initialize gate: %v", err)
	}
	defer gw.Close()

	mux := http.NewServeMux()
	gw.Handlers().Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Metered operations. The handlers behind the gate stand in for the
	// real collaborators (scrapers, AI calls); each declares its own price.
	mux.Handle("POST /agents/scrape", gw.Protect(gate.Price{
		Amount:      decimal.RequireFromString("0.0001"),
		Description: "Web Scraper Agent",
	}, scrapeOperation))

	mux.Handle("POST /agents/analyze", gw.Protect(gate.Price{
		Amount:      decimal.RequireFromString("0.0010"),
		Description: "Competitor Analysis Agent",
	}, analyzeOperation))

	addr := getEnv("X402_LISTEN_ADDR", ":8402")
	log.Printf("x402 gateway listening on %s (network=%s receiver=%s)",
		addr, config.Network, config.ReceiverWallet)
	log.Fatal(http.ListenAndServe(addr, mux))
}

// scrapeOperation runs only after the gate authorized the request.
func scrapeOperation(w http.ResponseWriter, r *http.Request, ticket *types.AccessTicket) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		http.Error(w, `{"error":"missing url"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"url":    body.URL,
		"paidBy": ticket.Payer,
		"txHash": ticket.TxHash,
		"result": "scrape scheduled",
	})
}

func analyzeOperation(w http.ResponseWriter, r *http.Request, ticket *types.AccessTicket) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		http.Error(w, `{"error":"missing url"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"url":    body.URL,
		"paidBy": ticket.Payer,
		"amount": ticket.Amount.String(),
		"result": "analysis scheduled",
	})
}

func openStore() (*ledger.Store, error) {
	var dialector gorm.Dialector
	if dsn := os.Getenv("X402_POSTGRES_DSN"); dsn != "" {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(getEnv("X402_SQLITE_PATH", "x402gate.db"))
	}
	return ledger.Open(dialector)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
