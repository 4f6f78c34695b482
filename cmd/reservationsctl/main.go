package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/viajaya/reservations/internal/config"
	"github.com/viajaya/reservations/internal/db"
	"github.com/viajaya/reservations/internal/inventory"
	"github.com/viajaya/reservations/internal/orders"
	"github.com/viajaya/reservations/internal/reservation"
	"github.com/viajaya/reservations/pkg/logger"
)

const usage = `usage: reservationsctl <command> [flags]

commands:
  clean-expired           expire active reservations past their deadline
  finalize-automatically  close out orders whose service date has passed
  stats                   print reservation counts and value by state

flags (clean-expired, finalize-automatically):
  --dry-run   report what would change without mutating
  --force     skip the confirmation prompt
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	flags := flag.NewFlagSet(command, flag.ExitOnError)
	dryRun := flags.Bool("dry-run", false, "report without mutating")
	force := flags.Bool("force", false, "skip confirmation prompt")
	flags.Parse(os.Args[2:])

	cfg := config.Load()
	log := logger.NewLogger(cfg.ServiceName+"-ctl", "warn")
	defer log.Sync()

	database, err := db.Connect(cfg.PGDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	ledger := inventory.NewLedger(log)
	engine := reservation.NewEngine(database, ledger, cfg.HoldDuration, log)
	orderSvc := orders.NewService(database, engine, log)

	ctx := context.Background()

	switch command {
	case "clean-expired":
		err = cleanExpired(ctx, engine, *dryRun, *force)
	case "finalize-automatically":
		err = finalizeAutomatically(ctx, orderSvc, *dryRun, *force)
	case "stats":
		err = printStats(ctx, engine)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func cleanExpired(ctx context.Context, engine *reservation.Engine, dryRun, force bool) error {
	fmt.Println("Reservations before:")
	if err := printStats(ctx, engine); err != nil {
		return err
	}

	due, err := engine.CountDue(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nDue for expiry: %d\n", due)

	if dryRun {
		fmt.Println("Dry run, nothing changed.")
		return nil
	}
	if due == 0 {
		fmt.Println("Nothing to expire.")
		return nil
	}
	if !force && !confirm(fmt.Sprintf("Expire %d reservation(s)?", due)) {
		fmt.Println("Aborted.")
		return nil
	}

	expired, err := engine.ExpireDue(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Expired: %d\n\n", expired)

	fmt.Println("Reservations after:")
	return printStats(ctx, engine)
}

func finalizeAutomatically(ctx context.Context, orderSvc *orders.Service, dryRun, force bool) error {
	due, err := orderSvc.CountDue(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Pending orders past service date: %d\n", due)

	if dryRun {
		fmt.Println("Dry run, nothing changed.")
		return nil
	}
	if due == 0 {
		fmt.Println("Nothing to finalize.")
		return nil
	}
	if !force && !confirm(fmt.Sprintf("Finalize %d order(s)?", due)) {
		fmt.Println("Aborted.")
		return nil
	}

	report, err := orderSvc.FinalizeDue(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Orders cancelled: %d\nHolds cancelled:  %d\n", report.OrdersCancelled, report.HoldsCancelled)
	return nil
}

func printStats(ctx context.Context, engine *reservation.Engine) error {
	stats, err := engine.Stats(ctx)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Println("  no reservations")
		return nil
	}

	var totalCount, totalValue int64
	fmt.Printf("  %-12s %8s %16s\n", "state", "count", "value (cents)")
	for _, row := range stats {
		fmt.Printf("  %-12s %8d %16d\n", row.State, row.Count, row.TotalValue)
		totalCount += row.Count
		totalValue += row.TotalValue
	}
	fmt.Printf("  %-12s %8d %16d\n", "total", totalCount, totalValue)
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
