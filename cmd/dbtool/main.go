// Command dbtool manages the monitor's history database outside the daemon.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"babybottle-monitor/internal/db"
	"babybottle-monitor/internal/db/migrate"
	"babybottle-monitor/internal/history"
)

const usage = `usage: %s <command>
  migrate            apply pending schema migrations
  readings [limit]   print the latest readings as JSON
  alerts [limit]     print the latest alerts as JSON
  cooling-rates [limit]
                     print the latest cooling rates as JSON
  prune <age>        delete history older than age, e.g. 168h
`

func main() {
	dbPath := os.Getenv("SQLITE_PATH")
	if dbPath == "" {
		dbPath = "data/monitor.db"
	}
	dbPath = filepath.Clean(dbPath)

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	conn, err := db.Open(dbPath, false, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "db open: %v\n", err)
		os.Exit(1)
	}

	err = run(context.Background(), conn, os.Args[1], os.Args[2:])
	if closeErr := db.Close(conn); closeErr != nil {
		slog.Error("db close", "err", closeErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, conn *sql.DB, cmd string, args []string) error {
	switch cmd {
	case "migrate":
		applied, err := migrate.Run(ctx, conn)
		if err != nil {
			return err
		}
		fmt.Printf("migrations applied: %d\n", len(applied))
		return nil
	case "readings":
		limit, err := parseLimit(args)
		if err != nil {
			return err
		}
		out, err := history.NewRepository(conn).LatestReadings(ctx, limit)
		if err != nil {
			return err
		}
		return printJSON(out)
	case "alerts":
		limit, err := parseLimit(args)
		if err != nil {
			return err
		}
		out, err := history.NewRepository(conn).LatestAlerts(ctx, limit)
		if err != nil {
			return err
		}
		return printJSON(out)
	case "cooling-rates":
		limit, err := parseLimit(args)
		if err != nil {
			return err
		}
		out, err := history.NewRepository(conn).LatestCoolingRates(ctx, limit)
		if err != nil {
			return err
		}
		return printJSON(out)
	case "prune":
		if len(args) == 0 {
			return fmt.Errorf("missing age")
		}
		age, err := time.ParseDuration(args[0])
		if err != nil || age <= 0 {
			return fmt.Errorf("invalid age %q", args[0])
		}
		n, err := history.NewRepository(conn).Prune(ctx, time.Now().Add(-age))
		if err != nil {
			return err
		}
		fmt.Printf("rows deleted: %d\n", n)
		return nil
	default:
		return fmt.Errorf("unknown command")
	}
}

func parseLimit(args []string) (int, error) {
	if len(args) == 0 {
		return 20, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", args[0])
	}
	return n, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
