package recovery

import (
	"fmt"

	"github.com/ruteri/share-recovery-backend/interfaces"
)

// DefaultThreshold is the number of distinct agents whose shares
// authorize a commit when an account keeps the default two shares.
const DefaultThreshold = 2

type QuorumStatus int

const (
	Insufficient QuorumStatus = iota
	Met
)

func (q QuorumStatus) String() string {
	if q == Met {
		return "met"
	}
	return "insufficient"
}

func (q QuorumStatus) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q *QuorumStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "met":
		*q = Met
	case "insufficient":
		*q = Insufficient
	default:
		return fmt.Errorf("unknown quorum status %q", text)
	}
	return nil
}

// Quorum is the result of Evaluate.
type Quorum struct {
	Status    QuorumStatus           `json:"status"`
	Count     int                    `json:"count"`
	Threshold int                    `json:"threshold"`
	Agents    []interfaces.AccountID `json:"agents"`
}

func (q Quorum) Met() bool { return q.Status == Met }

// ThresholdFor derives the commit threshold from an account's share
// count. It never drops below DefaultThreshold.
func ThresholdFor(shareCount int) int {
	return max(shareCount, DefaultThreshold)
}

// Evaluate counts the distinct agents among subs. It has no side effects
// and is monotone: adding submissions never turns Met into Insufficient.
// A threshold below one is treated as DefaultThreshold.
func Evaluate(subs []interfaces.Submission, threshold int) Quorum {
	if threshold < 1 {
		threshold = DefaultThreshold
	}

	seen := make(map[interfaces.AccountID]struct{}, len(subs))
	agents := []interfaces.AccountID{}
	for _, sub := range subs {
		if _, dup := seen[sub.GivenBy]; dup {
			continue
		}
		seen[sub.GivenBy] = struct{}{}
		agents = append(agents, sub.GivenBy)
	}

	q := Quorum{Status: Insufficient, Count: len(agents), Threshold: threshold, Agents: agents}
	if q.Count >= threshold {
		q.Status = Met
	}
	return q
}
