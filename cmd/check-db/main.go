// Package main is a diagnostic tool for testing database connectivity and
// inspecting live hub data. It connects with the same configuration the server
// uses, queries the blueprints and blueprint_versions tables, and prints a
// summary to stdout. The binary exits with a non-zero code on any failure so
// it can gate deployments on a reachable, populated database.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/blueprint-hub/blueprint-hub/internal/config"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	fmt.Println("=== BLUEPRINTS ===")
	rows, err := db.Query("SELECT id, slug, title, status, latest_version_number FROM blueprints ORDER BY updated_at DESC")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, slug, title, status string
		var latest int
		if err := rows.Scan(&id, &slug, &title, &status, &latest); err != nil {
			log.Printf("Warning: failed to scan blueprint row: %v", err)
			continue
		}
		fmt.Printf("Blueprint: %s %q [%s] latest=v%d (ID: %s)\n", slug, title, status, latest, id)
	}

	fmt.Println("\n=== VERSIONS ===")
	rows2, err := db.Query("SELECT id, blueprint_id, version_number, storage_key, size_bytes FROM blueprint_versions ORDER BY created_at DESC")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows2.Close()

	count := 0
	for rows2.Next() {
		var id, blueprintID, storageKey string
		var versionNumber int
		var sizeBytes int64
		if err := rows2.Scan(&id, &blueprintID, &versionNumber, &storageKey, &sizeBytes); err != nil {
			log.Printf("Warning: failed to scan version row: %v", err)
			continue
		}
		fmt.Printf("Version: v%d of %s — %d bytes at %s (ID: %s)\n", versionNumber, blueprintID, sizeBytes, storageKey, id)
		count++
	}

	if count == 0 {
		fmt.Println("No versions found!")
	}
}
