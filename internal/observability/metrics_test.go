package observability

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordTransaction(Outbound, false, "ok", 120*time.Microsecond)
	RecordExchange("ok", 68, 8)
	RecordCommand("BR_NOOP")
}

func TestOutcomeLabels(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{binder.DeadObject, "dead"},
		{fmt.Errorf("wrapped: %w", binder.FailedTransaction), "failed"},
		{binder.NewException(binder.ExceptionSecurity, "denied"), "exception"},
		{binder.BadValue, "error"},
	}
	for _, tc := range cases {
		if got := Outcome(tc.err); got != tc.want {
			t.Fatalf("Outcome(%v)=%q want=%q", tc.err, got, tc.want)
		}
	}
}

func TestLogTransactionLevelFollowsOutcome(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	LogTransaction(logger, Inbound, 0, binder.FirstCallTransaction, false, time.Now(), binder.DeadObject)
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"outcome":"dead"`) {
		t.Fatalf("unexpected event: %s", out)
	}

	buf.Reset()
	LogTransaction(logger, Outbound, 3, binder.PingTransaction, true, time.Now(), nil)
	if !strings.Contains(buf.String(), `"level":"debug"`) {
		t.Fatalf("unexpected event: %s", buf.String())
	}
}
