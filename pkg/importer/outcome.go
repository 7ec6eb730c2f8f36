package importer

import "fmt"

// Violation is a validation error of a batch or of a single record.
type Violation struct {
	Message      string
	PropertyPath string
}

func (v Violation) String() string {
	if v.PropertyPath == "" {
		return v.Message
	}

	return fmt.Sprintf("%s (%s)", v.Message, v.PropertyPath)
}

// RecordOutcome is the result of persisting a single record.
type RecordOutcome struct {
	Record     Record
	Violations []Violation
}

func (r RecordOutcome) Valid() bool {
	return len(r.Violations) == 0
}

// OutcomeList is the result of loading one batch.
type OutcomeList struct {
	Violations []Violation
	Records    []RecordOutcome
}

// NewOutcomeList returns an OutcomeList with a valid outcome for each record.
func NewOutcomeList(records []Record) *OutcomeList {
	l := &OutcomeList{
		Records: make([]RecordOutcome, len(records)),
	}

	for i, record := range records {
		l.Records[i].Record = record
	}

	return l
}

// AddViolation adds a batch level violation.
func (l *OutcomeList) AddViolation(v Violation) {
	l.Violations = append(l.Violations, v)
}

// AddRecordViolation adds a violation to the record at the batch position.
func (l *OutcomeList) AddRecordViolation(position int, v Violation) {
	for len(l.Records) <= position {
		l.Records = append(l.Records, RecordOutcome{})
	}

	l.Records[position].Violations = append(l.Records[position].Violations, v)
}

func (l *OutcomeList) HasErrors() bool {
	if l == nil {
		return false
	}

	if len(l.Violations) > 0 {
		return true
	}

	for _, r := range l.Records {
		if !r.Valid() {
			return true
		}
	}

	return false
}

// ErrorCount is the number of batch level violations plus the violations of every record.
func (l *OutcomeList) ErrorCount() int {
	if !l.HasErrors() {
		return 0
	}

	count := len(l.Violations)
	for _, r := range l.Records {
		count += len(r.Violations)
	}

	return count
}

// ErrorDetails returns the violations in a structure suited for structured logging.
func (l *OutcomeList) ErrorDetails() map[string]any {
	details := make(map[string]any)
	if l == nil {
		return details
	}

	if len(l.Violations) > 0 {
		errs := make([]string, 0, len(l.Violations))
		for _, v := range l.Violations {
			errs = append(errs, v.String())
		}

		details["errors"] = errs
	}

	var resources []map[string]any
	for position, r := range l.Records {
		if r.Valid() {
			continue
		}

		resource := map[string]any{
			"batch_position": position,
		}

		fields := make(map[string][]string)
		var errs []string
		for _, v := range r.Violations {
			if v.PropertyPath == "" {
				errs = append(errs, v.Message)
				continue
			}

			fields[v.PropertyPath] = append(fields[v.PropertyPath], v.Message)
		}

		if len(fields) > 0 {
			resource["fields"] = fields
		}
		if len(errs) > 0 {
			resource["errors"] = errs
		}

		resources = append(resources, resource)
	}

	if len(resources) > 0 {
		details["resources"] = resources
	}

	return details
}
