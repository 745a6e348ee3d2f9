package cron

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var scheduleIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Registry stores and validates the set of recurring schedules a
// Scheduler evaluates on each tick.
type Registry struct {
	mu        sync.RWMutex
	schedules map[string]*Schedule
	parser    cron.Parser
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		schedules: make(map[string]*Schedule),
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Register validates and adds schedule, rejecting a duplicate ID.
func (r *Registry) Register(schedule *Schedule) error {
	if err := r.validate(schedule); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schedules[schedule.ID]; exists {
		return fmt.Errorf("schedule with ID %s already exists", schedule.ID)
	}
	if schedule.Timezone == "" {
		schedule.Timezone = "UTC"
	}

	r.schedules[schedule.ID] = schedule
	return nil
}

// MustRegister registers schedule, panicking on error. Intended for
// initialization-time schedule wiring.
func (r *Registry) MustRegister(schedule *Schedule) {
	if err := r.Register(schedule); err != nil {
		panic(fmt.Sprintf("failed to register schedule: %v", err))
	}
}

// Get retrieves a schedule by ID.
func (r *Registry) Get(id string) (*Schedule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[id]
	return s, ok
}

// List returns all registered schedules in no particular order.
func (r *Registry) List() []*Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Schedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		out = append(out, s)
	}
	return out
}

// Count returns the number of registered schedules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schedules)
}

// NextRun computes the next firing time for schedule strictly after
// after, in the schedule's own timezone.
func (r *Registry) NextRun(schedule *Schedule, after time.Time) (time.Time, error) {
	parsed, err := r.parser.Parse(schedule.Cron)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse cron expression: %w", err)
	}

	loc := time.UTC
	if schedule.Timezone != "" && schedule.Timezone != "UTC" {
		loc, err = time.LoadLocation(schedule.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %s: %w", schedule.Timezone, err)
		}
	}

	return parsed.Next(after.In(loc)), nil
}

func (r *Registry) validate(schedule *Schedule) error {
	if schedule.ID == "" {
		return fmt.Errorf("schedule ID cannot be empty")
	}
	if !scheduleIDPattern.MatchString(schedule.ID) {
		return fmt.Errorf("schedule ID must contain only alphanumeric characters, underscores, and hyphens")
	}
	if schedule.Cron == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	if _, err := r.parser.Parse(schedule.Cron); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule.Cron, err)
	}
	if schedule.Queue == "" {
		return fmt.Errorf("queue cannot be empty")
	}
	if schedule.Class == "" {
		return fmt.Errorf("class cannot be empty")
	}
	if schedule.Timezone != "" && schedule.Timezone != "UTC" {
		if _, err := time.LoadLocation(schedule.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", schedule.Timezone, err)
		}
	}
	return nil
}
