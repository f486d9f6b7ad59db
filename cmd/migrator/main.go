package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"

	"github.com/asesmartice/floorwatch/internal/platform/paths"
)

func main() {
	upCmd := flag.Bool("up", false, "Run all up migrations")
	downCmd := flag.Bool("down", false, "Rollback all migrations")
	stepsCmd := flag.Int("steps", 0, "Run +/- steps")
	dbPathFlag := flag.String("db", "", "Path to the sqlite database file (defaults to <data-root>/db/floorwatch.db)")
	migrationsDir := flag.String("migrations", "db/migrations", "Path to the migrations directory")
	flag.Parse()

	dbPath := *dbPathFlag
	if dbPath == "" {
		dataRoot := paths.ResolveDataRoot()
		dbPath = filepath.Join(paths.DBDir(dataRoot), "floorwatch.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		log.Fatalf("Failed to create db directory: %v", err)
	}

	// Pre-migration backup: copy the existing file aside before touching the
	// schema, so a bad migration leaves a recoverable snapshot rather than a
	// half-migrated production database.
	if _, err := os.Stat(dbPath); err == nil {
		backupPath := fmt.Sprintf("%s.pre-migrate-%d.bak", dbPath, time.Now().Unix())
		if err := copyFile(dbPath, backupPath); err != nil {
			log.Fatalf("Failed to back up database before migrating: %v", err)
		}
		log.Printf("Backed up existing database to %s", backupPath)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL", dbPath))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		log.Fatalf("Failed to create migrate driver: %v", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://"+*migrationsDir,
		"sqlite3", driver)
	if err != nil {
		log.Fatalf("Failed to initialize migrate: %v", err)
	}

	start := time.Now()
	switch {
	case *upCmd:
		log.Println("Running UP migrations...")
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migration UP failed: %v", err)
		}
		log.Println("Migration UP completed.")
	case *downCmd:
		log.Println("Running DOWN migrations...")
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migration DOWN failed: %v", err)
		}
		log.Println("Migration DOWN completed.")
	case *stepsCmd != 0:
		log.Printf("Running %d steps...\n", *stepsCmd)
		if err := m.Steps(*stepsCmd); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migration Steps failed: %v", err)
		}
		log.Println("Migration Steps completed.")
	default:
		log.Println("No command specified. Use -up, -down, or -steps.")
		version, dirty, err := m.Version()
		if err != nil {
			log.Println("No version found (empty db?).")
		} else {
			log.Printf("Current Version: %d, Dirty: %v\n", version, dirty)
		}
	}
	log.Printf("Duration: %v", time.Since(start))
}

func copyFile(src, dst string) error {
	in, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, in, 0640)
}
