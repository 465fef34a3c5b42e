package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/mcdev12/livebid/go/internal/auction/store"
	"github.com/mcdev12/livebid/go/internal/dbconfig"
	"github.com/mcdev12/livebid/go/internal/sqlutil"
)

func main() {
	path := flag.String("file", "go/internal/assets/items.yaml", "YAML seed file")
	flag.Parse()

	_ = godotenv.Load()

	// 1) Load the YAML snapshot
	f, err := os.Open(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open seed file: %v\n", err)
		os.Exit(1)
	}
	items, err := store.ParseSeed(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse seed file: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Insert and count; the items trigger tells running servers
	var (
		total    = len(items)
		inserted int
		skipped  int
		errs     int
	)

	for _, it := range items {
		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO items (
              id, title, description, image_link, start_time, end_time,
              duration_minutes, bid_increment, current_bid
            ) VALUES (
              $1,$2,$3,$4,$5,$6,$7,$8,$9
            )
            ON CONFLICT (id) DO NOTHING
        `,
			it.ID, it.Title, sqlutil.ToSqlString(it.Description), it.ImageLink,
			it.StartTime, it.EndTime, it.DurationMinutes, it.Increment, it.CurrentBid,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting item %q: %v\n", it.Title, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Items seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}
