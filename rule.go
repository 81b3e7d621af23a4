package vigil

import "time"

// RuleDef is the persisted definition of a trigger rule bound to a camera.
type RuleDef struct {
	Name      string           `yaml:"name" json:"name"`
	Camera    string           `yaml:"camera" json:"camera"`
	Enabled   bool             `yaml:"enabled" json:"enabled"`
	Query     string           `yaml:"query" json:"query"`
	Schedule  Schedule         `yaml:"schedule" json:"schedule"`
	Responses []ResponseConfig `yaml:"responses" json:"responses"`
}

// ResponseConfig binds a response action to a rule.
type ResponseConfig struct {
	Type    string            `yaml:"type" json:"type"`
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// Window is a weekly schedule window in minutes from midnight, local time.
// EndMin may be less than StartMin for windows that wrap past midnight.
type Window struct {
	Day      time.Weekday `yaml:"day" json:"day"`
	StartMin int          `yaml:"start_min" json:"start_min"`
	EndMin   int          `yaml:"end_min" json:"end_min"`
}

// Schedule is a set of weekly windows. An empty schedule means always
// active.
type Schedule struct {
	Windows []Window `yaml:"windows,omitempty" json:"windows,omitempty"`
}

// Always reports whether the schedule has no windows and is active at all
// times.
func (s Schedule) Always() bool { return len(s.Windows) == 0 }

// Info reports whether the schedule is active at now, and the next instant
// the active state can change. For an always-active schedule the change
// time is far in the future so callers cache it indefinitely.
func (s Schedule) Info(now time.Time) (bool, time.Time) {
	if s.Always() {
		return true, now.AddDate(10, 0, 0)
	}

	active := false
	next := now.AddDate(0, 0, 8) // bounded below by the weekly scan

	// Start the scan yesterday: a wrapping window that opened late
	// yesterday can still be active now.
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for dayOffset := -1; dayOffset < 8; dayOffset++ {
		day := midnight.AddDate(0, 0, dayOffset)
		for _, w := range s.Windows {
			spans := w.spansOn(day)
			for _, sp := range spans {
				if !sp.start.After(now) && sp.end.After(now) {
					active = true
					if sp.end.Before(next) {
						next = sp.end
					}
				} else if sp.start.After(now) && sp.start.Before(next) {
					next = sp.start
				}
			}
		}
	}
	return active, next
}

type span struct {
	start, end time.Time
}

// spansOn returns the absolute spans this window contributes on the day
// starting at midnight. A wrapping window contributes its head on the
// window's own day and its tail on the next.
func (w Window) spansOn(midnight time.Time) []span {
	if midnight.Weekday() != w.Day {
		return nil
	}
	start := midnight.Add(time.Duration(w.StartMin) * time.Minute)
	if w.EndMin > w.StartMin {
		return []span{{start, midnight.Add(time.Duration(w.EndMin) * time.Minute)}}
	}
	// Wraps past midnight.
	return []span{{start, midnight.AddDate(0, 0, 1).Add(time.Duration(w.EndMin) * time.Minute)}}
}
