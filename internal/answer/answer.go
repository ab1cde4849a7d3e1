package answer

import (
	"strings"

	"github.com/chat2bench/chat2bench/internal/chat2data"
)

type SQLAnswer struct {
	SQL           string `json:"sql"`
	Description   string `json:"description"`
	ClarifiedTask string `json:"clarified_task"`
	RawSQL        string `json:"raw_generated_sql"`
	RefineNote    string `json:"refine_note"`
}

// Extract returns the answer carried by the first task in the tree that has
// an "sql" field. The boolean is false when no task has one.
func Extract(job chat2data.Job) (SQLAnswer, bool) {
	for _, entry := range job.Tasks {
		task := entry.Task
		if !task.Has("sql") {
			continue
		}
		return SQLAnswer{
			SQL:           task.String("sql"),
			Description:   task.String("description"),
			ClarifiedTask: task.String("clarified_task"),
			RawSQL:        task.String("raw_generated_sql"),
			RefineNote:    task.String("refine_note"),
		}, true
	}
	return SQLAnswer{}, false
}

// FlattenSQL puts a statement on a single line and terminates it with ";".
func FlattenSQL(sql string) string {
	flat := strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ").Replace(sql)
	return flat + ";"
}
