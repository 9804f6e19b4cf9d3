package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"brownie.dev/internal/migrate"
	"brownie.dev/migrations"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("METADATA_POSTGRES_DSN"), "postgres connection string")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}
	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required: pass -dsn or set METADATA_POSTGRES_DSN")
		os.Exit(2)
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open database:", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ping database:", err)
		os.Exit(1)
	}

	mgr := migrate.NewManager(db, migrations.Files)

	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		var applied []string
		applied, err = mgr.Status(ctx)
		if err == nil {
			if len(applied) == 0 {
				fmt.Println("no migrations applied")
			}
			for _, name := range applied {
				fmt.Println(name)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want up, down or status)\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, cmd+":", err)
		os.Exit(1)
	}
}
