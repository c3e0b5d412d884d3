package fieldsearch

import "time"

// ObjectFields is one object in a result, with the requested fields.
type ObjectFields struct {
	PID string
	// Fields holds the requested fields that have values, in document
	// order per field. The pid is always in PID, and in Fields only when
	// requested.
	Fields map[string][]string
}

// Result is one page of search results.
type Result struct {
	Objects []ObjectFields

	// Token resumes the search. Empty when this page completes the list.
	Token string

	// Cursor is the position of the first object of this page in the
	// complete list.
	Cursor int64

	// CompleteListSize is the number of objects matching the query.
	CompleteListSize int64

	// Expires is when Token stops being valid. Zero without a token.
	Expires time.Time
}

// PIDs returns the pids of the result's objects.
func (r *Result) PIDs() []string {
	out := make([]string, len(r.Objects))
	for i, o := range r.Objects {
		out[i] = o.PID
	}
	return out
}

// PIDResult builds a complete, single-page result holding only pids.
func PIDResult(pids []string) *Result {
	objs := make([]ObjectFields, len(pids))
	for i, pid := range pids {
		objs[i] = ObjectFields{PID: pid, Fields: map[string][]string{"pid": {pid}}}
	}
	return &Result{Objects: objs, CompleteListSize: int64(len(objs))}
}
