package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/backfill"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/database"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/env"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gateway"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gatewayevents"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/ledger"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/middleware"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/scheduler"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/settlement"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command, args := os.Args[1], os.Args[2:]

	// hashing needs neither database nor gateway
	if command == "hash-api-key" {
		if len(args) != 1 {
			log.Fatal("Usage: settlement hash-api-key <key>")
		}
		hash, err := middleware.HashAPIKey(args[0])
		if err != nil {
			log.Fatalf("Hashing failed: %v", err)
		}
		fmt.Println(hash)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database.SetupDatabase()
	db := database.GetDB()
	gw := gateway.NewStripeGateway(gateway.LoadStripeConfig())
	store := ledger.NewStore()

	cfg := settlement.LoadConfig()
	service := settlement.NewService(db, gw, store, cfg, settlement.NewFileReporter(cfg.ReportDir, nil))
	if overrides, err := models.LoadSettlementSettings(db); err == nil {
		if _, err := service.ApplySettings(overrides); err != nil {
			log.Warnf("[Settlement] Stored overrides rejected: %v", err)
		}
	}

	var err error
	switch command {
	case "run":
		err = runBatch(ctx, service, args)
	case "retry":
		err = retryBatch(ctx, service, args)
	case "backfill-ledger":
		err = runBackfill(ctx, args, backfill.NewBackfiller(db, gw, store).FromPaymentFields)
	case "backfill-fees":
		err = runBackfill(ctx, args, backfill.NewBackfiller(db, gw, store).FromGatewayFees)
	case "sweep":
		opts := gatewayevents.DefaultOptions()
		opts.DelayDaysFunc = func() int { return service.Config().DelayDays }
		err = sweep(ctx, service, gatewayevents.NewInbox(db, gw, store, opts))
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

func runBatch(ctx context.Context, service *settlement.Service, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	from := fs.String("from", "", "period start as YYYY-MM-DD in the settlement time zone")
	to := fs.String("to", "", "period end (exclusive) as YYYY-MM-DD")
	currency := fs.String("currency", "", "currency, defaults to the configured one")
	mode := fs.String("mode", string(models.PayoutModeBatch), "payout mode")
	_ = fs.Parse(args)

	cfg := service.Config()
	req := settlement.RunRequest{
		Currency:   *currency,
		PayoutMode: models.PayoutMode(*mode),
		Trigger:    models.TriggerManual,
	}
	switch {
	case *from == "" && *to == "":
		req.PeriodFrom, req.PeriodTo = scheduler.Window(time.Now(), cfg.WindowDays, cfg.Location())
	case *from != "" && *to != "":
		var err error
		if req.PeriodFrom, err = parseDay(*from, cfg.Location()); err != nil {
			return err
		}
		if req.PeriodTo, err = parseDay(*to, cfg.Location()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("-from and -to must be given together")
	}

	res, err := service.RunSettlementBatch(ctx, req)
	if err != nil {
		return err
	}
	b := res.Batch
	log.Infof("[Settlement] Batch %d [%s, %s) status=%s created=%t hosts=%d transferred=%s",
		b.ID, b.PeriodFrom.Format(time.RFC3339), b.PeriodTo.Format(time.RFC3339),
		b.Status, res.Created, b.TotalHosts, settlement.MajorUnits(b.TotalTransferred))
	return nil
}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return scheduler.ZonedTimeToUTC(d.Year(), d.Month(), d.Day(), 0, 0, loc), nil
}

func retryBatch(ctx context.Context, service *settlement.Service, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: settlement retry <batchId>")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid batch id: %w", err)
	}
	b, err := service.RetrySettlementBatch(ctx, uint(id))
	if err != nil {
		return err
	}
	log.Infof("[Settlement] Batch %d status=%s completed=%d failed=%d", b.ID, b.Status, b.CompletedCount, b.FailedCount)
	return nil
}

func runBackfill(ctx context.Context, args []string, fn func(context.Context, backfill.Options) (backfill.Result, error)) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	batchSize := fs.Int("batch-size", 200, "payments per page")
	limit := fs.Int("limit", 0, "stop after this many payments, 0 for all")
	dryRun := fs.Bool("dry-run", false, "report what would be written")
	_ = fs.Parse(args)

	res, err := fn(ctx, backfill.Options{BatchSize: *batchSize, Limit: *limit, DryRun: *dryRun})
	fmt.Println(res.String())
	return err
}

func sweep(ctx context.Context, service *settlement.Service, inbox *gatewayevents.Inbox) error {
	events, err := inbox.RetryOverdueEvents(ctx, 500)
	if err != nil {
		return err
	}
	items, err := service.RetryDueItems(ctx, 500)
	if err != nil {
		return err
	}
	log.Infof("[Settlement] Sweep: events processed=%d failed=%d, items retried=%d", events.Processed, events.Failed, items)
	return nil
}

func printUsage() {
	fmt.Println("Usage: go run cmd/settlement/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  run [-from YYYY-MM-DD -to YYYY-MM-DD] [-currency eur] [-mode BATCH]")
	fmt.Println("                    - Run (or re-read) the settlement batch for a window")
	fmt.Println("  retry <batchId>   - Retry the open items of a batch")
	fmt.Println("  backfill-ledger   - Write missing ledger entries from payment fields")
	fmt.Println("  backfill-fees     - Fetch actual processor fees from the gateway")
	fmt.Println("  sweep             - Retry overdue webhook events and due settlement items")
	fmt.Println("  hash-api-key <k>  - Print the bcrypt hash for ADMIN_API_KEY_HASH")
}
