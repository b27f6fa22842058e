package scheduler

import (
	"testing"
	"time"
)

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		input   string
		want    ScheduleTime
		wantErr bool
	}{
		{"06:00", ScheduleTime{Hour: 6, Minute: 0}, false},
		{"23:59", ScheduleTime{Hour: 23, Minute: 59}, false},
		{"0:5", ScheduleTime{Hour: 0, Minute: 5}, false},
		{"24:00", ScheduleTime{}, true},
		{"12:60", ScheduleTime{}, true},
		{"noon", ScheduleTime{}, true},
		{"", ScheduleTime{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseScheduleTime(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseScheduleTime(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseScheduleTime(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseScheduleTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestScheduler_DueFiresOncePerSlot(t *testing.T) {
	s, err := NewScheduler(SchedulerConfig{
		ScheduleTimes: []string{"06:00", "18:30"},
		WorkerCount:   1,
		QueueSize:     1,
	})
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}

	at := time.Date(2026, 8, 23, 6, 0, 30, 0, time.UTC)
	if !s.due(at) {
		t.Error("due() = false at a scheduled slot, want true")
	}
	if s.due(at.Add(10 * time.Second)) {
		t.Error("due() = true twice within the same slot, want false")
	}
	if s.due(time.Date(2026, 8, 23, 7, 0, 0, 0, time.UTC)) {
		t.Error("due() = true off-schedule, want false")
	}
	if !s.due(time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC)) {
		t.Error("due() = false for the same slot on the next day, want true")
	}
}

func TestScheduler_NextRun(t *testing.T) {
	s, err := NewScheduler(SchedulerConfig{
		ScheduleTimes: []string{"06:00", "18:30"},
		WorkerCount:   1,
		QueueSize:     1,
	})
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}

	morning := time.Date(2026, 8, 23, 5, 0, 0, 0, time.UTC)
	if got := s.nextRun(morning); got.Hour() != 6 || got.Day() != 23 {
		t.Errorf("nextRun(05:00) = %s, want 06:00 same day", got)
	}

	evening := time.Date(2026, 8, 23, 19, 0, 0, 0, time.UTC)
	if got := s.nextRun(evening); got.Hour() != 6 || got.Day() != 24 {
		t.Errorf("nextRun(19:00) = %s, want 06:00 next day", got)
	}
}

func TestNewScheduler_RejectsEmptySchedule(t *testing.T) {
	if _, err := NewScheduler(SchedulerConfig{}); err == nil {
		t.Error("NewScheduler() expected error for empty schedule, got nil")
	}
}
