package mail

import (
	"testing"
	"time"
)

func TestRetryScheduleValidate(t *testing.T) {
	tests := []struct {
		name     string
		schedule RetrySchedule
		wantErr  bool
	}{
		{name: "default", schedule: DefaultRetrySchedule},
		{name: "single immediate", schedule: RetrySchedule{0}},
		{name: "empty", schedule: RetrySchedule{}, wantErr: true},
		{name: "nil", schedule: nil, wantErr: true},
		{name: "first not zero", schedule: RetrySchedule{30, 60}, wantErr: true},
		{name: "negative delay", schedule: RetrySchedule{0, -5}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schedule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryScheduleDelay(t *testing.T) {
	s := RetrySchedule{0, 60, 120}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: 0},
		{attempts: 1, want: 60 * time.Second},
		{attempts: 2, want: 120 * time.Second},
		{attempts: 3, want: 120 * time.Second},
		{attempts: 50, want: 120 * time.Second},
		{attempts: -1, want: 0},
	}

	for _, tt := range tests {
		if got := s.Delay(tt.attempts); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestRetryScheduleNextAttempt(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	got := DefaultRetrySchedule.NextAttempt(now, 1)
	if want := now.Add(time.Minute); !got.Equal(want) {
		t.Errorf("NextAttempt() = %v, want %v", got, want)
	}
}
