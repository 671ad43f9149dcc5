// Command migrate applies the .sql files under migrations/ in name order.
// Each file runs in its own transaction; the first failure stops the run.
package main

import (
	"database/sql"
	"flag"
	"log"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/lib/pq"
)

func main() {
	dir := flag.String("dir", "migrations", "directory of .sql migration files")
	flag.Parse()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(*dir, "*.sql"))
	if err != nil {
		log.Fatal(err)
	}
	if len(files) == 0 {
		log.Fatalf("no migrations found in %s", *dir)
	}
	sort.Strings(files)

	for _, path := range files {
		if err := apply(db, path); err != nil {
			log.Fatalf("%s: %v", filepath.Base(path), err)
		}
		log.Printf("applied %s", filepath.Base(path))
	}
}

func apply(db *sql.DB, path string) error {
	stmts, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(string(stmts)); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
