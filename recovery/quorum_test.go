package recovery

import (
	"testing"

	"github.com/ruteri/share-recovery-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subsFrom(agents ...interfaces.AccountID) []interfaces.Submission {
	out := make([]interfaces.Submission, 0, len(agents))
	for _, a := range agents {
		out = append(out, interfaces.Submission{GivenBy: a, Payload: []byte{byte(a)}})
	}
	return out
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		subs      []interfaces.Submission
		threshold int
		want      QuorumStatus
		count     int
	}{
		{name: "empty", subs: nil, threshold: 2, want: Insufficient, count: 0},
		{name: "one agent", subs: subsFrom(1), threshold: 2, want: Insufficient, count: 1},
		{name: "one agent twice", subs: subsFrom(1, 1), threshold: 2, want: Insufficient, count: 1},
		{name: "two agents", subs: subsFrom(1, 2), threshold: 2, want: Met, count: 2},
		{name: "three agents", subs: subsFrom(3, 1, 2), threshold: 2, want: Met, count: 3},
		{name: "default threshold", subs: subsFrom(1), threshold: 0, want: Insufficient, count: 1},
		{name: "higher threshold", subs: subsFrom(1, 2), threshold: 3, want: Insufficient, count: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Evaluate(tt.subs, tt.threshold)
			assert.Equal(t, tt.want, q.Status)
			assert.Equal(t, tt.count, q.Count)
			assert.Len(t, q.Agents, tt.count)
		})
	}
}

func TestEvaluateMonotone(t *testing.T) {
	agents := []interfaces.AccountID{1, 2, 3, 4}
	// every subset S1 of agents against every superset S2
	for s1 := 0; s1 < 1<<len(agents); s1++ {
		for s2 := s1; s2 < 1<<len(agents); s2++ {
			if s1&s2 != s1 {
				continue
			}
			for threshold := 1; threshold <= len(agents); threshold++ {
				q1 := Evaluate(subsFrom(pick(agents, s1)...), threshold)
				q2 := Evaluate(subsFrom(pick(agents, s2)...), threshold)
				if q1.Met() {
					require.True(t, q2.Met(), "S1=%b S2=%b threshold=%d", s1, s2, threshold)
				}
			}
		}
	}
}

func pick(agents []interfaces.AccountID, mask int) []interfaces.AccountID {
	var out []interfaces.AccountID
	for i, a := range agents {
		if mask&(1<<i) != 0 {
			out = append(out, a, a) // duplicates must not matter
		}
	}
	return out
}

func TestThresholdFor(t *testing.T) {
	assert.Equal(t, 2, ThresholdFor(0))
	assert.Equal(t, 2, ThresholdFor(1))
	assert.Equal(t, 2, ThresholdFor(2))
	assert.Equal(t, 3, ThresholdFor(3))
}
