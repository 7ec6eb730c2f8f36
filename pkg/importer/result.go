package importer

import "time"

// SkipReason explains why a pipeline was not executed.
type SkipReason string

const (
	SkipNone SkipReason = ""
	// SkipLocked means the pipeline is already being imported elsewhere.
	SkipLocked SkipReason = "locked"
	// SkipDependency means a required pipeline of the same run did not succeed.
	SkipDependency SkipReason = "dependency"
)

// Result is the outcome of a single pipeline run.
type Result struct {
	pipeline   string
	runID      string
	skipped    bool
	success    bool
	errors     int
	skipReason SkipReason
	duration   time.Duration
}

// NewResult returns the result of a pipeline run. A nil error count marks the run as skipped.
func NewResult(pipeline string, errors *int) Result {
	if errors == nil {
		return newSkippedResult(pipeline, SkipLocked)
	}

	return Result{
		pipeline: pipeline,
		success:  *errors == 0,
		errors:   *errors,
	}
}

func newSkippedResult(pipeline string, reason SkipReason) Result {
	return Result{
		pipeline:   pipeline,
		skipped:    true,
		skipReason: reason,
	}
}

func (r Result) PipelineName() string {
	return r.pipeline
}

// RunID is the id shared by all the events of the run, empty for skipped results.
func (r Result) RunID() string {
	return r.runID
}

func (r Result) Skipped() bool {
	return r.skipped
}

func (r Result) SkipReason() SkipReason {
	return r.skipReason
}

func (r Result) Success() bool {
	return r.success
}

func (r Result) ErrorCount() int {
	return r.errors
}

func (r Result) Duration() time.Duration {
	return r.duration
}

// ResultList aggregates the results of a multi pipeline run.
// A later result of the same pipeline replaces the earlier one.
type ResultList struct {
	order   []string
	results map[string]Result
}

// NewResultList keeps the last result given per pipeline; Success and ErrorCount only account for kept results.
func NewResultList(results ...Result) ResultList {
	l := ResultList{
		results: make(map[string]Result, len(results)),
	}

	for _, r := range results {
		if _, ok := l.results[r.pipeline]; !ok {
			l.order = append(l.order, r.pipeline)
		}

		l.results[r.pipeline] = r
	}

	return l
}

// Results returns the results in the order the pipelines were first run.
func (l ResultList) Results() []Result {
	results := make([]Result, 0, len(l.order))
	for _, name := range l.order {
		results = append(results, l.results[name])
	}

	return results
}

// Result returns the result of the named pipeline.
func (l ResultList) Result(pipeline string) (Result, bool) {
	r, ok := l.results[pipeline]
	return r, ok
}

func (l ResultList) Len() int {
	return len(l.order)
}

// Skipped is true if the list is not empty and every pipeline was skipped.
func (l ResultList) Skipped() bool {
	if len(l.results) == 0 {
		return false
	}

	for _, r := range l.results {
		if !r.skipped {
			return false
		}
	}

	return true
}

// AnySkipped is true if at least one pipeline was skipped.
func (l ResultList) AnySkipped() bool {
	for _, r := range l.results {
		if r.skipped {
			return true
		}
	}

	return false
}

// Success is true if every pipeline succeeded. An empty list is successful.
func (l ResultList) Success() bool {
	for _, r := range l.results {
		if !r.success {
			return false
		}
	}

	return true
}

func (l ResultList) ErrorCount() int {
	var count int
	for _, r := range l.results {
		count += r.errors
	}

	return count
}
