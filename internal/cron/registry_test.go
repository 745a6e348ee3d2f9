package cron

import (
	"testing"
	"time"
)

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()
	if registry.Count() != 0 {
		t.Errorf("expected empty registry, got %d schedules", registry.Count())
	}
}

func TestRegisterValid(t *testing.T) {
	registry := NewRegistry()

	schedule := &Schedule{
		ID:          "test_schedule",
		Cron:        "0 * * * *",
		Queue:       "default",
		Class:       "SendEmail",
		Timezone:    "UTC",
		Enabled:     true,
		Description: "Test schedule",
	}

	if err := registry.Register(schedule); err != nil {
		t.Fatalf("failed to register valid schedule: %v", err)
	}
	if registry.Count() != 1 {
		t.Errorf("expected 1 schedule, got %d", registry.Count())
	}

	retrieved, ok := registry.Get("test_schedule")
	if !ok {
		t.Fatal("schedule not found after registration")
	}
	if retrieved.ID != schedule.ID {
		t.Errorf("retrieved schedule ID mismatch: got %s, want %s", retrieved.ID, schedule.ID)
	}
}

func TestRegisterDuplicateID(t *testing.T) {
	registry := NewRegistry()

	s1 := &Schedule{ID: "duplicate", Cron: "0 * * * *", Queue: "q", Class: "A"}
	s2 := &Schedule{ID: "duplicate", Cron: "0 0 * * *", Queue: "q", Class: "B"}

	if err := registry.Register(s1); err != nil {
		t.Fatalf("failed to register first schedule: %v", err)
	}
	if err := registry.Register(s2); err == nil {
		t.Error("expected error for duplicate schedule ID, got nil")
	}
	if registry.Count() != 1 {
		t.Errorf("expected 1 schedule after duplicate, got %d", registry.Count())
	}
}

func TestRegisterInvalidID(t *testing.T) {
	registry := NewRegistry()

	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"spaces", "test schedule"},
		{"special chars", "test@schedule"},
		{"dots", "test.schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Register(&Schedule{ID: tt.id, Cron: "0 * * * *", Queue: "q", Class: "A"})
			if err == nil {
				t.Errorf("expected error for invalid ID %q, got nil", tt.id)
			}
		})
	}
}

func TestRegisterInvalidCron(t *testing.T) {
	registry := NewRegistry()

	tests := []struct {
		name string
		cron string
	}{
		{"empty", ""},
		{"invalid format", "0 * * *"},
		{"invalid field", "60 * * * *"},
		{"garbage", "not a cron expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Register(&Schedule{ID: "test_schedule", Cron: tt.cron, Queue: "q", Class: "A"})
			if err == nil {
				t.Errorf("expected error for invalid cron %q, got nil", tt.cron)
			}
		})
	}
}

func TestRegisterEmptyQueueOrClass(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(&Schedule{ID: "s1", Cron: "0 * * * *", Queue: "", Class: "A"}); err == nil {
		t.Error("expected error for empty queue, got nil")
	}
	if err := registry.Register(&Schedule{ID: "s2", Cron: "0 * * * *", Queue: "q", Class: ""}); err == nil {
		t.Error("expected error for empty class, got nil")
	}
}

func TestRegisterInvalidTimezone(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(&Schedule{
		ID: "test_schedule", Cron: "0 * * * *", Queue: "q", Class: "A",
		Timezone: "Invalid/Timezone",
	})
	if err == nil {
		t.Error("expected error for invalid timezone, got nil")
	}
}

func TestMustRegisterValid(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(&Schedule{ID: "test_schedule", Cron: "0 * * * *", Queue: "q", Class: "A"})

	if registry.Count() != 1 {
		t.Errorf("expected 1 schedule, got %d", registry.Count())
	}
}

func TestMustRegisterInvalidPanics(t *testing.T) {
	registry := NewRegistry()

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for invalid schedule, got none")
		}
	}()
	registry.MustRegister(&Schedule{ID: "", Cron: "0 * * * *", Queue: "q", Class: "A"})
}

func TestGetNotFound(t *testing.T) {
	registry := NewRegistry()
	if _, ok := registry.Get("nonexistent"); ok {
		t.Error("expected false for nonexistent schedule, got true")
	}
}

func TestList(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(&Schedule{ID: "s1", Cron: "0 * * * *", Queue: "q", Class: "A"})
	registry.MustRegister(&Schedule{ID: "s2", Cron: "0 0 * * *", Queue: "q", Class: "B"})

	if len(registry.List()) != 2 {
		t.Errorf("expected 2 schedules, got %d", len(registry.List()))
	}
}

func TestNextRunSimple(t *testing.T) {
	registry := NewRegistry()
	schedule := &Schedule{ID: "test", Cron: "0 * * * *", Queue: "q", Class: "A", Timezone: "UTC"}
	registry.MustRegister(schedule)

	now := time.Date(2025, 11, 10, 14, 30, 0, 0, time.UTC)
	next, err := registry.NextRun(schedule, now)
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}

	expected := time.Date(2025, 11, 10, 15, 0, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Errorf("NextRun returned %v, expected %v", next, expected)
	}
}

func TestNextRunEvery15Minutes(t *testing.T) {
	registry := NewRegistry()
	schedule := &Schedule{ID: "test", Cron: "*/15 * * * *", Queue: "q", Class: "A", Timezone: "UTC"}
	registry.MustRegister(schedule)

	now := time.Date(2025, 11, 10, 14, 7, 0, 0, time.UTC)
	next, err := registry.NextRun(schedule, now)
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}

	expected := time.Date(2025, 11, 10, 14, 15, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Errorf("NextRun returned %v, expected %v", next, expected)
	}
}

func TestNextRunDailyAt9AM(t *testing.T) {
	registry := NewRegistry()
	schedule := &Schedule{ID: "test", Cron: "0 9 * * *", Queue: "q", Class: "A", Timezone: "UTC"}
	registry.MustRegister(schedule)

	now := time.Date(2025, 11, 10, 8, 0, 0, 0, time.UTC)
	next, err := registry.NextRun(schedule, now)
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	expected := time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Errorf("NextRun returned %v, expected %v", next, expected)
	}

	now = time.Date(2025, 11, 10, 10, 0, 0, 0, time.UTC)
	next, err = registry.NextRun(schedule, now)
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	expected = time.Date(2025, 11, 11, 9, 0, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Errorf("NextRun returned %v, expected %v", next, expected)
	}
}

func TestNextRunTimezone(t *testing.T) {
	registry := NewRegistry()
	schedule := &Schedule{ID: "test", Cron: "0 9 * * *", Queue: "q", Class: "A", Timezone: "America/New_York"}
	registry.MustRegister(schedule)

	loc, _ := time.LoadLocation("America/New_York")
	now := time.Date(2025, 11, 10, 8, 0, 0, 0, loc)

	next, err := registry.NextRun(schedule, now)
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	expected := time.Date(2025, 11, 10, 9, 0, 0, 0, loc)
	if !next.Equal(expected) {
		t.Errorf("NextRun returned %v, expected %v", next, expected)
	}
}

func TestNextRunInvalidCron(t *testing.T) {
	registry := NewRegistry()
	schedule := &Schedule{ID: "test", Cron: "invalid", Queue: "q", Class: "A", Timezone: "UTC"}

	if _, err := registry.NextRun(schedule, time.Now()); err == nil {
		t.Error("expected error for invalid cron, got nil")
	}
}

func TestNextRunInvalidTimezone(t *testing.T) {
	registry := NewRegistry()
	schedule := &Schedule{ID: "test", Cron: "0 * * * *", Queue: "q", Class: "A", Timezone: "Invalid/Timezone"}

	if _, err := registry.NextRun(schedule, time.Now()); err == nil {
		t.Error("expected error for invalid timezone, got nil")
	}
}

func TestRegisterDefaultTimezone(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&Schedule{ID: "test", Cron: "0 * * * *", Queue: "q", Class: "A"}); err != nil {
		t.Fatalf("failed to register schedule: %v", err)
	}

	retrieved, _ := registry.Get("test")
	if retrieved.Timezone != "UTC" {
		t.Errorf("expected default timezone UTC, got %s", retrieved.Timezone)
	}
}
