package types

import "testing"

func TestReservationActive(t *testing.T) {
	cases := []struct {
		name string
		r    Reservation
		now  int64
		want bool
	}{
		{"not released, not expired", Reservation{ExpiresAt: 100}, 50, true},
		{"not released, expired", Reservation{ExpiresAt: 100}, 200, false},
		{"released before expiry", Reservation{ExpiresAt: 100, ReleasedAt: 60}, 50, false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Active(tt.now); got != tt.want {
				t.Errorf("Active(%d) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}
