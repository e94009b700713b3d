package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttejuosho/akubata/internal/storage/postgres"
)

func TestReadConfig(t *testing.T) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	cfg, err := readConfig(fs, []string{"-direction", " DOWN ", "-steps", "2"}, func(key string) string {
		if key == dsnEnv {
			return " postgres://akubata@localhost/akubata "
		}
		return ""
	})
	require.NoError(t, err)
	assert.Equal(t, config{direction: "down", steps: 2, dsn: "postgres://akubata@localhost/akubata"}, cfg)
}

func TestReadConfig_Validation(t *testing.T) {
	tests := map[string][]string{
		"missing dsn":       {"-direction", "up"},
		"negative steps":    {"-dsn", "postgres://x", "-steps", "-1"},
		"unknown direction": {"-dsn", "postgres://x", "-direction", "sideways"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			_, err := readConfig(fs, args, func(string) string { return "" })
			require.Error(t, err)
		})
	}
}

func TestRun(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config
		wantUp   int
		wantDown int
		wantOut  string
	}{
		{name: "up all", cfg: config{direction: "up"}, wantUp: 0, wantOut: "migrate up ok: version=2 applied=2\n"},
		{name: "down defaults to one", cfg: config{direction: "down"}, wantDown: 1, wantOut: "migrate down ok: version=2 applied=2\n"},
		{name: "status", cfg: config{direction: "status"}, wantOut: "migration status: version=2 applied=2\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &stubMigrator{up: -1, down: -1}
			var out bytes.Buffer

			require.NoError(t, run(context.Background(), store, tc.cfg, &out))
			assert.Equal(t, tc.wantOut, out.String())
			switch tc.cfg.direction {
			case "up":
				assert.Equal(t, tc.wantUp, store.up)
			case "down":
				assert.Equal(t, tc.wantDown, store.down)
			default:
				assert.Equal(t, -1, store.up)
				assert.Equal(t, -1, store.down)
			}
		})
	}
}

func TestRun_Errors(t *testing.T) {
	boom := errors.New("boom")

	err := run(context.Background(), &stubMigrator{err: boom}, config{direction: "up"}, io.Discard)
	require.ErrorIs(t, err, boom)

	err = run(context.Background(), &stubMigrator{statusErr: boom}, config{direction: "status"}, io.Discard)
	require.ErrorIs(t, err, boom)
}

func TestRun_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("AKUBATA_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	defer store.Close()

	for _, direction := range []string{"up", "status", "down", "up"} {
		require.NoError(t, run(ctx, store, config{direction: direction}, io.Discard), direction)
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

type stubMigrator struct {
	up, down  int
	err       error
	statusErr error
}

func (s *stubMigrator) MigrateUp(_ context.Context, steps int) error {
	s.up = steps
	return s.err
}

func (s *stubMigrator) MigrateDown(_ context.Context, steps int) error {
	s.down = steps
	return s.err
}

func (s *stubMigrator) MigrationStatus(context.Context) (int64, int, error) {
	return 2, 2, s.statusErr
}
