package telemetry

import (
	"sync"
)

type Report struct {
	Level  string
	Id     string
	Params []any
	Count  int64
}

// Recorder is an API that keeps every report in memory, it is
// intended for assertions in tests.
type Recorder struct {
	mutex   sync.Mutex
	reports []Report
}

func (r *Recorder) push(report Report) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reports = append(r.reports, report)
}

func (r *Recorder) ReportBroken(id string, params ...any) {
	r.push(Report{Level: "broken", Id: id, Params: params})
}

func (r *Recorder) ReportWarning(id string, params ...any) {
	r.push(Report{Level: "warning", Id: id, Params: params})
}

func (r *Recorder) ReportDebug(msg string, params ...any) {
	r.push(Report{Level: "debug", Id: msg, Params: params})
}

func (r *Recorder) ReportCount(id string, count int64) {
	r.push(Report{Level: "count", Id: id, Count: count})
}

// Reports returns a copy of the reports with the given level, or all of
// them if level is empty.
func (r *Recorder) Reports(level string) []Report {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var out []Report
	for _, report := range r.reports {
		if level == "" || report.Level == level {
			out = append(out, report)
		}
	}
	return out
}
