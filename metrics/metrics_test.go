package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder("recovery", reg)

	r.Operation("commit", "ok")
	r.Operation("commit", "ok")
	r.Operation("commit", "insufficient_shares")
	r.ObserveCommit(20 * time.Millisecond)
	r.Notification("trust-request", false)
	r.Archived("receipt", errors.New("backend down"))

	require.Equal(t, 2.0, testutil.ToFloat64(r.operations.WithLabelValues("commit", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("commit", "insufficient_shares")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.notifications.WithLabelValues("trust-request", "false")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.archived.WithLabelValues("receipt", "error")))
	require.Equal(t, 1, testutil.CollectAndCount(r.commitDuration))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	require.NotPanics(t, func() {
		r.Operation("commit", "ok")
		r.ObserveCommit(time.Second)
		r.Notification("x", true)
		r.Archived("receipt", nil)
	})
}
