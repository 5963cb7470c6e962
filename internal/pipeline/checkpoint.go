package pipeline

// Checkpointer persists the artifacts of a run. Every save replaces the whole
// artifact, any error it returns is fatal to the run.
//
// note: fault injection point
type Checkpointer interface {
	LoadIndex() (Index, error)
	SaveIndex(index Index) error
	LoadResults() (*ResultSet, error)
	SaveResults(results *ResultSet) error
	LoadErrors() (*ErrorLog, error)
	SaveErrors(errs *ErrorLog) error
}
