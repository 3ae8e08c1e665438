// health_check checks the pieces signal-trader depends on and exits non-zero
// when any of them is unhealthy. Pass --json for a machine-readable report.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"signal-trader/pkg/config"
	"signal-trader/pkg/crypto"
	"signal-trader/pkg/db"
	marketbinance "signal-trader/pkg/market/binance"
)

const (
	healthy   = "HEALTHY"
	degraded  = "DEGRADED"
	unhealthy = "UNHEALTHY"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := HealthReport{Overall: healthy}
	report.Services = append(report.Services,
		checkDatabase(ctx, cfg),
		checkMasterKey(cfg),
		checkBinance(ctx, cfg),
		checkAPIServer(ctx, cfg),
	)
	for _, svc := range report.Services {
		switch {
		case svc.Status == unhealthy:
			report.Overall = unhealthy
		case svc.Status == degraded && report.Overall != unhealthy:
			report.Overall = degraded
		}
	}

	if len(os.Args) > 1 && os.Args[1] == "--json" {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	} else {
		for _, svc := range report.Services {
			fmt.Printf("%-12s %-10s %s\n", svc.Service, svc.Status, svc.Message)
		}
		fmt.Printf("\nOverall: %s\n", report.Overall)
	}
	if report.Overall == unhealthy {
		os.Exit(1)
	}
}

func status(service string) HealthStatus {
	return HealthStatus{Service: service, Status: healthy, Timestamp: time.Now()}
}

func checkDatabase(ctx context.Context, cfg *config.Config) HealthStatus {
	st := status("database")
	database, err := db.New(cfg.DBPath)
	if err != nil {
		st.Status, st.Message = unhealthy, fmt.Sprintf("open failed: %v", err)
		return st
	}
	defer database.Close()
	if err := database.DB.PingContext(ctx); err != nil {
		st.Status, st.Message = unhealthy, fmt.Sprintf("ping failed: %v", err)
		return st
	}
	st.Message = cfg.DBPath
	return st
}

func checkMasterKey(cfg *config.Config) HealthStatus {
	st := status("master-key")
	v, err := crypto.VaultFromEnv(os.LookupEnv)
	switch {
	case err != nil && cfg.DryRun:
		st.Status, st.Message = degraded, "not set; exchange connections will not persist"
	case err != nil:
		st.Status, st.Message = unhealthy, err.Error()
	default:
		st.Message = fmt.Sprintf("key versions %v", v.Versions())
	}
	return st
}

func checkBinance(ctx context.Context, cfg *config.Config) HealthStatus {
	st := status("binance")
	if cfg.UseMockFeed {
		st.Message = "mock feed, skipped"
		return st
	}
	client := marketbinance.NewClient(cfg.BinanceREST, 10*time.Second)
	serverTime, err := client.ServerTime(ctx)
	if err != nil {
		st.Status, st.Message = degraded, fmt.Sprintf("market data unreachable: %v", err)
		return st
	}
	st.Message = fmt.Sprintf("server time %d", serverTime)
	return st
}

func checkAPIServer(ctx context.Context, cfg *config.Config) HealthStatus {
	st := status("api")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://localhost:%s/health", cfg.Port), nil)
	if err != nil {
		st.Status, st.Message = unhealthy, err.Error()
		return st
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		st.Status, st.Message = unhealthy, fmt.Sprintf("not reachable: %v", err)
		return st
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		st.Status, st.Message = degraded, fmt.Sprintf("HTTP %d", resp.StatusCode)
		return st
	}
	st.Message = "running"
	return st
}
