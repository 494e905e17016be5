package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	"github.com/safar/go-storefront/internal/config"
)

// Applies the storefront schema migrations. Up runs every *.up.sql in
// lexical order; down runs every *.down.sql in reverse, tearing the schema
// back out.
func main() {
	dir := flag.String("dir", "migrations", "migration directory")
	flag.Parse()

	direction := flag.Arg(0)
	if direction != "up" && direction != "down" {
		log.Fatal("usage: go run scripts/run_migrations.go [-dir migrations] up|down")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Ping database: %v", err)
	}

	names, err := collectMigrations(*dir, direction)
	if err != nil {
		log.Fatal(err)
	}
	if len(names) == 0 {
		log.Fatalf("No %s migrations found in %s", direction, *dir)
	}

	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(*dir, name))
		if err != nil {
			log.Fatalf("Read migration %s: %v", name, err)
		}
		log.Printf("Running migration: %s", name)
		if _, err := db.Exec(string(content)); err != nil {
			log.Fatalf("Execute migration %s: %v", name, err)
		}
	}

	log.Printf("Applied %d migration(s) %s", len(names), direction)
}

func collectMigrations(dir, direction string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migration directory: %w", err)
	}

	suffix := "." + direction + ".sql"
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), suffix) {
			names = append(names, entry.Name())
		}
	}

	if direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	} else {
		sort.Strings(names)
	}
	return names, nil
}
