package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
	path string
}

// baseSchemaVersion is the migration version matching the inline schema
// below. New schema changes go in migrations/, never in NewDB.
const baseSchemaVersion = 1

// NewDB opens the database at path and ensures the base schema exists. The
// versioned migrations in migrations/ start from this same baseline.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id        TEXT PRIMARY KEY,
			strategy          TEXT NOT NULL,
			divisions         BIGINT NOT NULL,
			started_at        BIGINT NOT NULL,
			stopped_at        BIGINT
		);
		CREATE TABLE IF NOT EXISTS samples (
			sample_id         INTEGER PRIMARY KEY,
			session_id        TEXT NOT NULL,
			x                 DOUBLE NOT NULL,
			y                 DOUBLE NOT NULL,
			z                 DOUBLE NOT NULL,
			radius            DOUBLE NOT NULL,
			polar             DOUBLE NOT NULL,
			azimuth           DOUBLE NOT NULL,
			recorded_at       BIGINT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE TABLE IF NOT EXISTS calibrations (
			calibration_id    INTEGER PRIMARY KEY,
			session_id        TEXT NOT NULL,
			strategy          TEXT NOT NULL,
			rmse              DOUBLE NOT NULL,
			sample_count      BIGINT NOT NULL,
			coverage_pct      DOUBLE NOT NULL,
			calibration       TEXT NOT NULL,
			created_at        BIGINT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db, path}, nil
}

// OpenDB opens the database at path without touching the schema. Used by the
// migrate CLI, where migrations own the schema.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &DB{db, path}, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB(fmt.Sprintf("sqlite://%s", db.path), db.DB, &tailsql.DBOptions{
		Label: "Compass DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		// Send the backup file to the client
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		// Copy the backup file content to the gzip writer
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
