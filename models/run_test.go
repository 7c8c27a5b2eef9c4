package models

import "testing"

func TestRunSummaryKey(t *testing.T) {
	s := &RunSummary{}
	if got := s.Key("evmarket", "Tesla Model 3"); got != "evmarket:Tesla Model 3" {
		t.Fatalf("unexpected key %q", got)
	}
}
