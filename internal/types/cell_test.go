package types

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusOpen, StatusInProgress, true},
		{StatusOpen, StatusBlocked, true},
		{StatusOpen, StatusClosed, true},
		{StatusInProgress, StatusOpen, true},
		{StatusInProgress, StatusBlocked, true},
		{StatusBlocked, StatusInProgress, true},
		{StatusClosed, StatusOpen, false},
		{StatusClosed, StatusInProgress, false},
		{StatusOpen, StatusOpen, true},
	}
	for _, tt := range cases {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestEpicProgressEligibleForClose(t *testing.T) {
	cases := []struct {
		name string
		p    EpicProgress
		want bool
	}{
		{"no children", EpicProgress{TotalChildren: 0, ClosedChildren: 0}, false},
		{"partial", EpicProgress{TotalChildren: 3, ClosedChildren: 2}, false},
		{"all closed", EpicProgress{TotalChildren: 3, ClosedChildren: 3}, true},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.EligibleForClose(); got != tt.want {
				t.Errorf("EligibleForClose() = %v, want %v", got, tt.want)
			}
		})
	}
}
