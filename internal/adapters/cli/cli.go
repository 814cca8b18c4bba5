package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"

	"credit-engine/internal/app"
)

// Run executes a one-shot CLI command and exits.
// args is os.Args[1:] — the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string) {
	if len(args) == 0 {
		usage()
	}
	switch args[0] {
	case "summary":
		id := mustID(args, 1, "Usage: app summary <customer-id>")
		result, err := svc.GetCreditSummary(ctx, id)
		if err != nil {
			log.Fatalf("Failed to get credit summary: %v", err)
		}
		printJSON(result.Summary)

	case "overdue":
		var filter *int
		if len(args) > 1 {
			id := mustID(args, 1, "Usage: app overdue [customer-id]")
			filter = &id
		}
		result, err := svc.GetOverdueTransactions(ctx, filter)
		if err != nil {
			log.Fatalf("Failed to list overdue receivables: %v", err)
		}
		printJSON(result.Transactions)

	case "sale":
		if len(args) < 4 {
			log.Fatal("Usage: app sale <customer-id> <amount> <submitted-by> [origin-ref]")
		}
		req := app.CreateSaleRequest{
			CustomerID:  mustID(args, 1, ""),
			Amount:      args[2],
			SubmittedBy: mustID(args, 3, ""),
		}
		if len(args) > 4 {
			req.OriginRef = args[4]
		}
		result, err := svc.CreateCreditSale(ctx, req)
		if err != nil {
			log.Fatalf("Credit sale failed: %v", err)
		}
		if result.Outcome.ApprovalRequired() {
			fmt.Fprintf(os.Stderr, "Approval required: request %d at role %s\n",
				result.Outcome.Approval.ID, result.Outcome.Approval.RequiredRole)
		}
		printJSON(result.Outcome)

	case "pay":
		if len(args) < 3 {
			log.Fatal("Usage: app pay <customer-id> <amount> [operation-id]")
		}
		req := app.RecordPaymentRequest{
			CustomerID: mustID(args, 1, ""),
			Amount:     args[2],
			Method:     "cash",
		}
		if len(args) > 3 {
			req.OperationID = args[3]
		}
		result, err := svc.RecordPayment(ctx, req)
		if err != nil {
			log.Fatalf("Payment failed: %v", err)
		}
		printJSON(result.Outcome)

	case "approvals":
		status := ""
		if len(args) > 1 {
			status = args[1]
		}
		result, err := svc.ListApprovals(ctx, status)
		if err != nil {
			log.Fatalf("Failed to list approvals: %v", err)
		}
		printJSON(result.Requests)

	case "decide":
		if len(args) < 4 {
			log.Fatal("Usage: app decide <request-id> <user-id> <approve|reject> [reason]")
		}
		req := app.DecideRequest{
			RequestID: mustID(args, 1, ""),
			DecidedBy: mustID(args, 2, ""),
			Decision:  args[3],
		}
		if len(args) > 4 {
			req.Reason = args[4]
		}
		result, err := svc.DecideApproval(ctx, req)
		if err != nil {
			log.Fatalf("Decision failed: %v", err)
		}
		printJSON(result.Request)

	case "score":
		id := mustID(args, 1, "Usage: app score <customer-id>")
		score, err := svc.CalculateScore(ctx, id)
		if err != nil {
			log.Fatalf("Score calculation failed: %v", err)
		}
		printJSON(score)

	case "block", "unblock":
		id := mustID(args, 1, "Usage: app block|unblock <customer-id> [reason]")
		req := app.BlockRequest{CustomerID: id, Blocked: args[0] == "block"}
		if len(args) > 2 {
			req.Reason = args[2]
		}
		result, err := svc.SetCreditBlock(ctx, req)
		if err != nil {
			log.Fatalf("Block change failed: %v", err)
		}
		printJSON(result.Customer)

	default:
		usage()
	}
}

func usage() {
	log.Fatal("Usage: app <summary|overdue|sale|pay|approvals|decide|score|block|unblock> ...")
}

func mustID(args []string, pos int, usage string) int {
	if pos >= len(args) {
		if usage == "" {
			usage = "missing numeric argument"
		}
		log.Fatal(usage)
	}
	id, err := strconv.Atoi(args[pos])
	if err != nil || id <= 0 {
		log.Fatalf("Invalid id %q", args[pos])
	}
	return id
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Encode output: %v", err)
	}
}
