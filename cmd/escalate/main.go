package main

import (
	"context"
	"log"

	"credit-engine/internal/core"
	"credit-engine/internal/db"

	"github.com/joho/godotenv"
)

// The escalation sweep. Run from cron or a systemd timer; the engine itself
// never escalates from in-process timers.
func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	ledger := core.NewCreditLedger(pool)
	actors := core.NewActorDirectory(pool)
	approvals := core.NewApprovalEngine(pool, actors)
	settings := core.NewSettingsStore(pool)
	orchestrator := core.NewOrchestrator(pool, ledger, core.NewAllocator(),
		core.NewCreditScorer(pool), approvals, settings, core.LogSink{})

	escalated, err := orchestrator.EscalateStale(ctx)
	if err != nil {
		log.Fatalf("escalation sweep: %v", err)
	}
	for _, req := range escalated {
		log.Printf("escalated request %d to level %d (role %s)", req.ID, req.EscalationLevel, req.RequiredRole)
	}
	log.Printf("escalation sweep complete: %d request(s) escalated", len(escalated))
}
