package crm

import "testing"

// TestDecideBackoff_MatchesWorkedExample walks a backoff=[10,20] item
// through three failures: the first two schedule a retry and the third
// exhausts the schedule.
func TestDecideBackoff_MatchesWorkedExample(t *testing.T) {
	backoff := []int{10, 20}

	next, attempts, permanent := decideBackoff(0, backoff)
	if permanent || attempts != 1 || next == nil {
		t.Fatalf("cycle 1: got attempts=%d permanent=%v next=%v", attempts, permanent, next)
	}

	next, attempts, permanent = decideBackoff(1, backoff)
	if permanent || attempts != 2 || next == nil {
		t.Fatalf("cycle 2: got attempts=%d permanent=%v next=%v", attempts, permanent, next)
	}

	next, attempts, permanent = decideBackoff(2, backoff)
	if !permanent || attempts != 3 || next != nil {
		t.Fatalf("cycle 3: expected permanent failure with nil next_attempt_at, got attempts=%d permanent=%v next=%v", attempts, permanent, next)
	}
}

func TestDecideBackoff_SingleEntrySchedule(t *testing.T) {
	backoff := []int{60}

	_, attempts, permanent := decideBackoff(0, backoff)
	if permanent || attempts != 1 {
		t.Fatalf("first failure against a one-entry schedule must still retry once, got attempts=%d permanent=%v", attempts, permanent)
	}

	_, attempts, permanent = decideBackoff(1, backoff)
	if !permanent || attempts != 2 {
		t.Fatalf("second failure against a one-entry schedule must be permanent, got attempts=%d permanent=%v", attempts, permanent)
	}
}
