// Command migrate manages the governance schema (tenants, roles,
// permissions, user_roles, audit_events). The permission catalog itself is
// not seeded here; the API seeds it idempotently at startup.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"opsdeck.io/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn  = flag.String("dsn", os.Getenv("OPSDECK_PG_DSN"), "PostgreSQL DSN")
		path = flag.String("migrations", "ops/migrations", "Path to SQL migrations")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or OPSDECK_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *path)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", cmd, err)
	}
	if cmd != "status" {
		log.Printf("migrate %s: ok", cmd)
	}
}
