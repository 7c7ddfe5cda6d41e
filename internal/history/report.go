package history

import (
	"fmt"
	"time"
)

// recentFailureWindow is how many of the newest entries are scanned for
// failures in a report.
const recentFailureWindow = 10

// Counts tallies outcomes for one group.
type Counts struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

func (c *Counts) add(success bool) {
	c.Total++
	if success {
		c.Success++
	} else {
		c.Failed++
	}
}

// Summary holds the report totals.
type Summary struct {
	TotalCommands int    `json:"total_commands"`
	Successful    int    `json:"successful"`
	Failed        int    `json:"failed"`
	SuccessRate   string `json:"success_rate"`
}

// Failure describes one recent failed operation.
type Failure struct {
	Timestamp string `json:"timestamp"`
	Command   string `json:"command"`
	Error     string `json:"error"`
	User      string `json:"user"`
}

// Report is a read-only audit view derived from the history.
type Report struct {
	Generated      time.Time         `json:"report_generated"`
	Summary        Summary           `json:"summary"`
	Users          map[string]Counts `json:"user_statistics"`
	Operations     map[string]Counts `json:"operation_statistics"`
	RecentFailures []Failure         `json:"recent_failures"`
	HistoryFile    string            `json:"history_file"`
}

// GenerateSecurityReport aggregates the stored entries. Nothing is written.
func (s *Store) GenerateSecurityReport() Report {
	entries := s.Entries()
	r := Report{
		Generated:      s.clock.Now(),
		Users:          map[string]Counts{},
		Operations:     map[string]Counts{},
		RecentFailures: []Failure{},
		HistoryFile:    s.path,
	}
	for i, e := range entries {
		r.Summary.TotalCommands++
		if e.Success {
			r.Summary.Successful++
		} else {
			r.Summary.Failed++
		}

		user := r.Users[e.User()]
		user.add(e.Success)
		r.Users[e.User()] = user

		op := r.Operations[string(e.OperationType)]
		op.add(e.Success)
		r.Operations[string(e.OperationType)] = op

		if i < recentFailureWindow && !e.Success {
			msg := "Unknown error"
			if e.ErrorMessage != nil && *e.ErrorMessage != "" {
				msg = *e.ErrorMessage
			}
			r.RecentFailures = append(r.RecentFailures, Failure{
				Timestamp: e.FormattedTime(),
				Command:   e.Command,
				Error:     msg,
				User:      e.User(),
			})
		}
	}
	r.Summary.SuccessRate = "N/A"
	if r.Summary.TotalCommands > 0 {
		rate := float64(r.Summary.Successful) / float64(r.Summary.TotalCommands) * 100
		r.Summary.SuccessRate = fmt.Sprintf("%.1f%%", rate)
	}
	return r
}
