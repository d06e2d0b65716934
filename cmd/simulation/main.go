package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/config"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/database"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/exitengine"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/feed"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/fillsim"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/ledger"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/orchestrator"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
)

const (
	initialBalance = 100_000.0
	ticker         = "TICK"
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// scriptedSignals emits one buy signal on the first scan and nothing after,
// standing in for the external scanner.
type scriptedSignals struct {
	fired bool
}

func (s *scriptedSignals) Scan(_ context.Context, tick string, window []types.Bar) ([]types.Signal, error) {
	if s.fired || len(window) == 0 {
		return nil, nil
	}
	s.fired = true
	last := window[len(window)-1]
	return []types.Signal{{
		Ticker:     tick,
		Side:       types.SideBuy,
		EntryPrice: last.Close,
		Timestamp:  last.Timestamp,
		SignalID:   "SIG_SIM_1",
	}}, nil
}

// sessionBars builds the scripted intraday sequence: an entry bar, the fill
// bar, a bar whose low breaches the 2% stop, and the bar the exit fills on.
func sessionBars(loc *time.Location) []types.Bar {
	day := time.Date(2024, 6, 14, 10, 0, 0, 0, loc)
	at := func(m int) time.Time { return day.Add(time.Duration(m) * time.Minute) }
	return []types.Bar{
		{Ticker: ticker, Timestamp: at(0), Open: 49.90, High: 50.40, Low: 49.70, Close: 50.00, Volume: 120_000, Timeframe: "5m"},
		{Ticker: ticker, Timestamp: at(5), Open: 50.10, High: 50.60, Low: 49.95, Close: 50.30, Volume: 110_000, Timeframe: "5m"},
		{Ticker: ticker, Timestamp: at(10), Open: 49.60, High: 49.90, Low: 48.80, Close: 49.00, Volume: 150_000, Timeframe: "5m"},
		{Ticker: ticker, Timestamp: at(15), Open: 49.00, High: 49.20, Low: 48.70, Close: 48.90, Volume: 130_000, Timeframe: "5m"},
	}
}

func main() {
	log.Info().Msg("starting paper-trading simulation")

	dbPath := "simulation.db"
	_ = os.Remove(dbPath)
	db, err := database.NewDatabase(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load timezone")
	}

	cfg := config.DefaultEngine()

	ledgerService := ledger.NewService(db)
	simulator := fillsim.NewSimulator(ledgerService, cfg)
	exitEngine := exitengine.NewEngine(loc)

	account, err := ledgerService.CreateAccount(initialBalance, exitengine.TemplatePriceAction)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to provision account")
	}

	orch := orchestrator.New(
		ledgerService,
		simulator,
		exitEngine,
		&scriptedSignals{},
		orchestrator.EquityFractionSizer(cfg.EquityFraction),
		cfg,
		30,
	)

	replay := feed.NewReplay(sessionBars(loc))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := orch.Run(ctx, replay); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("simulation run failed")
	}

	printSummary(ledgerService, account.AccountID)
}

func printSummary(svc *ledger.Service, accountID string) {
	account, err := svc.DB().GetAccount(accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read account")
	}
	trades, err := svc.DB().ListTrades(accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read trades")
	}
	positions, err := svc.DB().ListPositions(accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read positions")
	}

	fmt.Println()
	fmt.Println("=== Simulation Summary ===")
	fmt.Printf("Account:        %s\n", account.AccountID)
	fmt.Printf("Cash:           %.2f\n", account.Cash)
	fmt.Printf("Equity:         %.2f\n", account.Equity)
	fmt.Printf("Realized P&L:   %.2f (%.2f%%)\n", account.RealizedPnL, account.RealizedPnLPct)
	fmt.Printf("Trades:         %d (wins %d / losses %d)\n",
		account.TotalTrades, account.WinningTrades, account.LosingTrades)
	fmt.Printf("Open positions: %d\n", len(positions))
	fmt.Println()
	for _, trade := range trades {
		line := fmt.Sprintf("%-4s %-4s qty %.0f @ %.4f commission %.2f slippage %.4f",
			trade.Ticker, trade.Side, trade.Quantity, trade.Price, trade.Commission, trade.Slippage)
		if trade.RealizedPnL != nil {
			line += fmt.Sprintf(" realized %.2f", *trade.RealizedPnL)
		}
		fmt.Println(line)
	}
}
