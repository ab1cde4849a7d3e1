package results

import "time"

type Status string

const (
	StatusSucceeded    Status = "succeeded"
	StatusNotFound     Status = "not_found"
	StatusJobFailed    Status = "job_failed"
	StatusNotGenerated Status = "not_generated"
)

// Text written in place of SQL when a case produced none.
const (
	SentinelNotFound     = "sql not found"
	SentinelJobFailed    = "job failed"
	SentinelNotGenerated = "sql not generated"
)

// Record is the outcome of one benchmark case. SQL holds the generated
// statement or one of the sentinels.
type Record struct {
	RunID         string    `json:"run_id"`
	CaseID        string    `json:"case_id"`
	Index         int       `json:"case_index"`
	Database      string    `json:"database"`
	Question      string    `json:"question"`
	Evidence      string    `json:"evidence,omitempty"`
	SQL           string    `json:"sql"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`
	Description   string    `json:"description,omitempty"`
	ClarifiedTask string    `json:"clarified_task,omitempty"`
	RawSQL        string    `json:"raw_generated_sql,omitempty"`
	RefineNote    string    `json:"refine_note,omitempty"`
	SummaryID     string    `json:"summary_id,omitempty"`
	JobID         string    `json:"job_id,omitempty"`
	Polls         int       `json:"polls"`
	Attempts      int       `json:"attempts"`
	DurationMS    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Summary counts records by status.
type Summary struct {
	Total        int
	Succeeded    int
	NotFound     int
	JobFailed    int
	NotGenerated int
}

func (s *Summary) Add(status Status) {
	s.Total++
	switch status {
	case StatusSucceeded:
		s.Succeeded++
	case StatusNotFound:
		s.NotFound++
	case StatusJobFailed:
		s.JobFailed++
	case StatusNotGenerated:
		s.NotGenerated++
	}
}
