package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/coinsacademy/topup-backend/internal/wallet"
	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/migrate"
	"github.com/coinsacademy/topup-backend/pkg/outbox"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "command: up|down|status|version|create|validate|verify-wallets|dlq-list|dlq-replay")
	dir := flag.String("dir", "", "migrations directory; blank applies the set built into this binary and edits "+migrate.DefaultDir)

	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	batch := flag.Int("batch", 200, "accounts per page for verify-wallets, rows for dlq-list")
	eventID := flag.String("event", "", "outbox event id for dlq-replay")

	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx = logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	switch *cmd {
	case "create":
		if *name == "" {
			fmt.Fprintln(os.Stderr, "missing -name for create")
			os.Exit(1)
		}
		logg.Info(ctx, "migrate ready")
		path, err := migrate.Scaffold(sourceDir(*dir), *name, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create migration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("created migration:", path)
		return

	case "validate":
		logg.Info(ctx, "migrate ready")
		if err := migrate.Validate(os.DirFS(sourceDir(*dir))); err != nil {
			fmt.Fprintf(os.Stderr, "migration validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migration validation passed")
		return
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	migrator, err := migrate.NewMigrator(sqlDB, migrate.Files(*dir), os.Stdout)
	requireResource(ctx, logg, "migrator", err)

	logg.Info(ctx, "migrate ready")

	switch *cmd {
	case "up":
		applied, err := migrator.Up(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "goose up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%d migration(s) applied\n", applied)

	case "down":
		if err := migrator.Down(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "goose down failed: %v\n", err)
			os.Exit(1)
		}

	case "status":
		if err := migrator.Status(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "goose status failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		if *version == "" {
			fmt.Fprintln(os.Stderr, "missing -version for version command")
			os.Exit(1)
		}
		if err := migrator.To(ctx, *version); err != nil {
			fmt.Fprintf(os.Stderr, "goose version migrate failed: %v\n", err)
			os.Exit(1)
		}

	case "verify-wallets":
		if err := verifyWallets(ctx, logg, dbClient, cfg, *batch); err != nil {
			fmt.Fprintf(os.Stderr, "wallet verification failed: %v\n", err)
			os.Exit(1)
		}

	case "dlq-list":
		if err := listDeadLetters(ctx, dbClient, *batch); err != nil {
			fmt.Fprintf(os.Stderr, "dlq list failed: %v\n", err)
			os.Exit(1)
		}

	case "dlq-replay":
		if err := replayDeadLetter(ctx, logg, dbClient, *eventID); err != nil {
			fmt.Fprintf(os.Stderr, "dlq replay failed: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
}

// sourceDir is the on-disk directory create and validate work against.
func sourceDir(dir string) string {
	if dir == "" {
		return migrate.DefaultDir
	}
	return dir
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}

// verifyWallets recomputes every balance from the ledger and exits non-zero
// when any account has drifted.
func verifyWallets(ctx context.Context, logg *logger.Logger, dbClient *db.Client, cfg *config.Config, batch int) error {
	svc, err := wallet.NewService(wallet.ServiceParams{
		DB:         dbClient,
		Repository: wallet.NewRepository(dbClient.DB()),
		Outbox:     outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger:     logg,
		Currency:   cfg.Wallet.Currency,
	})
	if err != nil {
		return err
	}
	mismatched, err := svc.VerifyAll(ctx, batch)
	if err != nil {
		return err
	}
	for _, id := range mismatched {
		logg.Warn(logg.WithField(ctx, "account_id", id.String()), "wallet balance does not match ledger")
	}
	if len(mismatched) > 0 {
		return fmt.Errorf("%d account(s) out of balance", len(mismatched))
	}
	fmt.Println("all wallet balances match the ledger")
	return nil
}

func listDeadLetters(ctx context.Context, dbClient *db.Client, limit int) error {
	rows, err := outbox.NewDLQRepository(dbClient.DB()).Recent(ctx, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tTYPE\tREASON\tREPLAYABLE\tATTEMPTS\tFAILED AT")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n", row.EventID, row.EventType, row.ErrorReason,
			row.ErrorReason.Replayable(), row.AttemptCount, row.FailedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

// replayDeadLetter puts a dead-lettered event back in the publisher's queue.
func replayDeadLetter(ctx context.Context, logg *logger.Logger, dbClient *db.Client, raw string) error {
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("-event must be a uuid: %w", err)
	}
	if err := outbox.NewDLQRepository(dbClient.DB()).Replay(ctx, id); err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "event_id", id.String()), "dead-lettered event requeued")
	return nil
}
