package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"healthconnect/backend/internal/domain"
	"healthconnect/backend/internal/store"
)

func TestPostgresIntegration_AppointmentInsertOverlapAndNotify(t *testing.T) {
	databaseURL := strings.TrimSpace(os.Getenv("HEALTHCONNECT_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("HEALTHCONNECT_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := Open(ctx, databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "healthconnect_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema).Exec(ctx); err != nil {
			return err
		}
		if err := applyMigrations(ctx, tx); err != nil {
			return err
		}

		c := appointmentTx{tx: tx}

		start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
		end := start.Add(time.Hour)

		a1, err := c.InsertAppointment(ctx, domain.Appointment{
			ID:        uuid.MustParse("00000000-0000-0000-0000-000000000901"),
			OwnerID:   "u1",
			Title:     "t",
			StartTime: start,
			EndTime:   end,
		})
		if err != nil {
			return err
		}

		rows, err := c.FindOverlapping(ctx, start.Add(30*time.Minute), end.Add(30*time.Minute))
		if err != nil {
			return err
		}
		if len(rows) != 1 || rows[0].ID != a1.ID {
			return fmt.Errorf("overlapping rows = %v, want [%s]", rows, a1.ID)
		}

		rows, err = c.FindOverlapping(ctx, end, end.Add(time.Hour))
		if err != nil {
			return err
		}
		if len(rows) != 0 {
			return fmt.Errorf("back-to-back rows = %d, want 0", len(rows))
		}

		_, err = c.InsertAppointment(ctx, domain.Appointment{
			ID:        a1.ID,
			OwnerID:   "u1",
			Title:     "again",
			StartTime: end,
			EndTime:   end.Add(time.Hour),
		})
		if err != store.ErrConflict {
			return fmt.Errorf("duplicate id err = %v, want %v", err, store.ErrConflict)
		}

		if err := lockBookings(ctx, tx); err != nil {
			return fmt.Errorf("lockBookings: %w", err)
		}
		if err := c.NotifyChanged(ctx, a1.ID); err != nil {
			return fmt.Errorf("NotifyChanged: %w", err)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("tx error: %v", err)
	}
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		for _, stmt := range splitSQLStatements(upSQL) {
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}

	return nil
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")), nil
}

func extractGooseUp(sql string) (string, error) {
	const upMarker = "-- +goose Up"
	const downMarker = "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := strings.TrimLeft(sql[upIdx+len(upMarker):], "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
