package main

import (
	"context"
	"log"
	"net/http"
	"os"

	webAdapter "credit-engine/internal/adapters/web"
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
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	ledger := core.NewCreditLedger(pool)
	allocator := core.NewAllocator()
	scorer := core.NewCreditScorer(pool)
	actors := core.NewActorDirectory(pool)
	approvals := core.NewApprovalEngine(pool, actors)
	settings := core.NewSettingsStore(pool)
	customers := core.NewCustomerService(pool)
	orchestrator := core.NewOrchestrator(pool, ledger, allocator, scorer, approvals, settings, core.LogSink{})

	svc := app.NewAppService(orchestrator, approvals, scorer, customers, settings)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	handler := webAdapter.NewHandler(svc, allowedOrigins)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("server starting on :%s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("server: %v", err)
	}
}
