package main

import (
	"context"
	"log"
	"os"

	"credit-engine/internal/adapters/cli"
	"credit-engine/internal/app"
	"credit-engine/internal/core"
	"credit-engine/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	ledger := core.NewCreditLedger(pool)
	scorer := core.NewCreditScorer(pool)
	actors := core.NewActorDirectory(pool)
	approvals := core.NewApprovalEngine(pool, actors)
	settings := core.NewSettingsStore(pool)
	customers := core.NewCustomerService(pool)
	orchestrator := core.NewOrchestrator(pool, ledger, core.NewAllocator(), scorer, approvals, settings, core.LogSink{})

	svc := app.NewAppService(orchestrator, approvals, scorer, customers, settings)
	cli.Run(ctx, svc, os.Args[1:])
}
