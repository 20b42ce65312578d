package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"genstudio/internal/migrations"
)

func main() {
	var (
		listFlag    bool
		timeoutFlag time.Duration
	)
	flag.BoolVar(&listFlag, "list", false, "print the embedded migration versions and exit")
	flag.DurationVar(&timeoutFlag, "timeout", time.Minute, "overall migration timeout")
	flag.Parse()

	if listFlag {
		all, err := migrations.Load()
		if err != nil {
			exitWithError(err)
		}
		for _, m := range all {
			fmt.Println(m.Version)
		}
		return
	}

	_ = godotenv.Load()
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	defer cancel()

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("open database: %w", err))
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		exitWithError(fmt.Errorf("ping database: %w", err))
	}

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		exitWithError(err)
	}
	if len(applied) == 0 {
		fmt.Println("database is up to date")
		return
	}
	for _, v := range applied {
		fmt.Printf("applied %s\n", v)
	}
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
