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

	"peopledesk.org/internal/migrate"
	"peopledesk.org/ops/migrations"
)

func main() {
	log.SetFlags(0)
	dsn := flag.String("dsn", os.Getenv("PEOPLEDESK_PG_DSN"), "PostgreSQL DSN")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or PEOPLEDESK_PG_DSN")
	}
	if flag.NArg() == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	runner := migrate.NewRunner(db, migrations.Files)

	switch cmd := flag.Arg(0); cmd {
	case "up":
		ran, err := runner.Up(ctx)
		if err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		report(ran, "applied")
	case "down":
		name, err := runner.Down(ctx)
		if err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		fmt.Println("rolled back", name)
	case "seed":
		ran, err := runner.Seed(ctx)
		if err != nil {
			log.Fatalf("migrate seed: %v", err)
		}
		report(ran, "seeded")
	case "status":
		applied, err := runner.Applied(ctx)
		if err != nil {
			log.Fatalf("migrate status: %v", err)
		}
		for _, rec := range applied {
			fmt.Printf("%s\t%s\t%s\n", rec.AppliedAt.Format(time.RFC3339), rec.Kind, rec.Name)
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}

func report(names []string, verb string) {
	if len(names) == 0 {
		fmt.Println("nothing to do")
		return
	}
	for _, name := range names {
		fmt.Println(verb, name)
	}
}
