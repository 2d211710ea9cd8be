// internal/candidates/pgstore_test.go
package candidates

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func TestNewPGStore_PingFailure(t *testing.T) {
	t.Parallel()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing().WillReturnError(errors.New("connection refused"))

	_, err = NewPGStore(context.Background(), mockPool, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "failed to ping database")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPGStore_RecordsForPage(t *testing.T) {
	t.Parallel()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	store, err := NewPGStore(context.Background(), mockPool, zaptest.NewLogger(t))
	require.NoError(t, err)

	capturedAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"id", "page_context", "selectors", "action", "visible_text", "tag", "captured_at"}).
		AddRow("rec-1", "checkout", []byte(`{"css": "#submit-btn", "role": "getByRole('button')"}`), "click", "Submit", "button", capturedAt).
		AddRow("rec-2", "checkout", []byte(`{"css": "#coupon"}`), "fill", "", "input", capturedAt)

	mockPool.ExpectQuery(flexibleSQLMatcher(selectRecordsSQL)).
		WithArgs("checkout").
		WillReturnRows(rows)

	recs, err := store.RecordsForPage(context.Background(), "checkout")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "rec-1", recs[0].ID)
	assert.Equal(t, "#submit-btn", recs[0].Selectors["css"])
	assert.Equal(t, "click", recs[0].Action)
	assert.Equal(t, capturedAt, recs[0].CapturedAt)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPGStore_SkipsMalformedSelectorsColumn(t *testing.T) {
	t.Parallel()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	store, err := NewPGStore(context.Background(), mockPool, zaptest.NewLogger(t))
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"id", "page_context", "selectors", "action", "visible_text", "tag", "captured_at"}).
		AddRow("rec-bad", "checkout", []byte(`{not json`), "click", "", "button", time.Now()).
		AddRow("rec-good", "checkout", []byte(`{"css": "#ok"}`), "click", "", "button", time.Now())

	mockPool.ExpectQuery(flexibleSQLMatcher(selectRecordsSQL)).
		WithArgs("checkout").
		WillReturnRows(rows)

	recs, err := store.RecordsForPage(context.Background(), "checkout")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "rec-good", recs[0].ID)
}

func TestPGStore_QueryError(t *testing.T) {
	t.Parallel()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	store, err := NewPGStore(context.Background(), mockPool, zaptest.NewLogger(t))
	require.NoError(t, err)

	mockPool.ExpectQuery(flexibleSQLMatcher(selectRecordsSQL)).
		WithArgs("checkout").
		WillReturnError(errors.New("relation does not exist"))

	_, err = store.RecordsForPage(context.Background(), "checkout")
	assert.ErrorContains(t, err, "failed to query element records")
}
