package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRemote(t *testing.T) {
	ok := RemoteCallsTotal.WithLabelValues("test_service", "ok")
	failed := RemoteCallsTotal.WithLabelValues("test_service", "error")
	okBefore := testutil.ToFloat64(ok)
	failedBefore := testutil.ToFloat64(failed)

	ObserveRemote("test_service", time.Now(), nil)
	ObserveRemote("test_service", time.Now(), nil)
	ObserveRemote("test_service", time.Now(), errors.New("boom"))

	if got := testutil.ToFloat64(ok) - okBefore; got != 2 {
		t.Errorf("Expected 2 successful calls, got %v", got)
	}
	if got := testutil.ToFloat64(failed) - failedBefore; got != 1 {
		t.Errorf("Expected 1 failed call, got %v", got)
	}
}
