package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, JobReasonDeadlineExceeded},
		{"db_lock_timeout", &pgconn.PgError{Code: "55P03"}, JobReasonDBLockTimeout},
		{"serialization_failure", &pgconn.PgError{Code: "40001"}, JobReasonSerializationFailure},
		{"unique_violation", gorm.ErrDuplicatedKey, JobReasonUniqueViolation},
		{"partition", fmt.Errorf("archive: %w", errors.New("partition_unavailable")), JobReasonPartitionUnavailable},
		{"unknown", errors.New("boom"), JobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAssistantMetricsCounters(t *testing.T) {
	m := NewAssistantMetricsForTest(prometheus.NewRegistry())

	m.IncIntent("unknown", "low_confidence")
	m.IncIntent("unknown", "low_confidence")
	m.IncDispatch("checkout", "empty_cart")
	m.AddBatchProcessed("cart_cleanup", "sessions", 3)
	m.AddBatchProcessed("cart_cleanup", "sessions", 0)
	m.SetBreakerState("cart", BreakerOpen)
	m.ObserveOracle(OracleClassifier, 20*time.Millisecond, context.DeadlineExceeded)

	if got := testutil.ToFloat64(m.intents.WithLabelValues("unknown", "low_confidence")); got != 2 {
		t.Fatalf("expected 2 intents, got %v", got)
	}
	if got := testutil.ToFloat64(m.dispatch.WithLabelValues("checkout", "empty_cart")); got != 1 {
		t.Fatalf("expected 1 dispatch, got %v", got)
	}
	if got := testutil.ToFloat64(m.batchProcessed.WithLabelValues("cart_cleanup", "sessions")); got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("cart")); got != BreakerOpen {
		t.Fatalf("expected breaker state open, got %v", got)
	}
	if got := testutil.CollectAndCount(m.oracleDuration); got != 1 {
		t.Fatalf("expected one oracle series, got %d", got)
	}
}
