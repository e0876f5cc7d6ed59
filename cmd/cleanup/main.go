// Command cleanup removes stale thumbnail-less prompts from the
// ledger. Intended to run from cron.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/infra"
)

func main() {
	var (
		daysFlag   int
		dryRunFlag bool
	)

	flag.IntVar(&daysFlag, "days", 90, "delete thumbnail-less prompts unused for this many days")
	flag.BoolVar(&dryRunFlag, "dry-run", false, "report what would be deleted without deleting")
	flag.Parse()

	if daysFlag <= 0 {
		exitWithError(errors.New("-days must be positive"))
	}

	_ = godotenv.Load()
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "cleanup").Logger()

	if dryRunFlag {
		var count int64
		err := pool.QueryRow(ctx, `
SELECT COUNT(*)
FROM prompts
WHERE thumbnail IS NULL
  AND last_used_at < NOW() - ($1 * INTERVAL '1 day');
`, daysFlag).Scan(&count)
		if err != nil {
			exitWithError(fmt.Errorf("failed to count stale prompts: %w", err))
		}
		fmt.Printf("would delete %d prompts older than %d days\n", count, daysFlag)
		return
	}

	ledger := repo.NewPromptRepository(pool, logger)
	deleted, err := ledger.CleanupOld(ctx, daysFlag)
	if err != nil {
		exitWithError(fmt.Errorf("cleanup failed: %w", err))
	}
	fmt.Printf("deleted %d prompts older than %d days\n", deleted, daysFlag)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
