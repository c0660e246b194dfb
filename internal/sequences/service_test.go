package sequences

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/custody-backend/pkg/config"
	dbpkg "github.com/angelmondragon/custody-backend/pkg/db"
	"github.com/angelmondragon/custody-backend/pkg/db/dbtest"
	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	conn := dbtest.NewSQLite(t)
	svc, err := NewService(dbpkg.NewFromConn(conn), NewRepository(conn), config.LedgerConfig{RetryAttempts: 3}, nil)
	require.NoError(t, err)
	return svc
}

func TestNextNumberFormat(t *testing.T) {
	svc := newTestService(t)
	got, err := svc.NextNumber(context.Background(), "inv", 2026, 2)
	require.NoError(t, err)
	require.Equal(t, "INV/2026/02/000001", got)

	got, err = svc.NextNumber(context.Background(), "INV", 2026, 2)
	require.NoError(t, err)
	require.Equal(t, "INV/2026/02/000002", got)
}

func TestNextNumberConcurrentIsGapFree(t *testing.T) {
	svc := newTestService(t)

	const callers = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]int)
		errs []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			issued, err := svc.Next(context.Background(), Key{Prefix: "INV", Year: 2026, Month: 2})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			seen[issued.Value]++
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, seen, callers)
	for v := int64(1); v <= callers; v++ {
		require.Equal(t, 1, seen[v], "value %d", v)
	}

	peek, err := svc.Peek(context.Background(), "INV", 2026, 2)
	require.NoError(t, err)
	require.Equal(t, int64(callers), peek.Value)
	require.Equal(t, "INV/2026/02/000050", peek.Number)
}

func TestNewPeriodStartsAtOne(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.NextNumber(ctx, "INV", 2026, 1)
		require.NoError(t, err)
	}
	got, err := svc.NextNumber(ctx, "INV", 2026, 2)
	require.NoError(t, err)
	require.Equal(t, "INV/2026/02/000001", got)

	got, err = svc.NextNumber(ctx, "CN", 2026, 1)
	require.NoError(t, err)
	require.Equal(t, "CN/2026/01/000001", got)

	list, err := svc.List(ctx, "INV")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, 2, list[0].Key.Month)
}

func TestNextNumberValidation(t *testing.T) {
	svc := newTestService(t)
	cases := []struct {
		prefix      string
		year, month int
	}{
		{"", 2026, 1},
		{"INV/", 2026, 1},
		{"ABCDEFGHIJKLMNOPQ", 2026, 1},
		{"INV", 1969, 1},
		{"INV", 2026, 0},
		{"INV", 2026, 13},
	}
	for _, tc := range cases {
		_, err := svc.NextNumber(context.Background(), tc.prefix, tc.year, tc.month)
		if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("NextNumber(%q, %d, %d) = %v, want validation error", tc.prefix, tc.year, tc.month, err)
		}
	}
}

func TestPeekUnknownPeriod(t *testing.T) {
	svc := newTestService(t)
	peek, err := svc.Peek(context.Background(), "INV", 2030, 7)
	require.NoError(t, err)
	require.Equal(t, int64(0), peek.Value)
	require.Empty(t, peek.Number)
}

func TestFormat(t *testing.T) {
	if got := Format(Key{Prefix: "INV", Year: 2026, Month: 2}, 42); got != "INV/2026/02/000042" {
		t.Fatalf("unexpected format %q", got)
	}
}
