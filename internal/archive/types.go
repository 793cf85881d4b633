// Package archive defines the core types shared by the post archiving pipeline.
package archive

import (
	"errors"
	"net/http"
	"time"
)

// Fetch failure reasons. They are persisted verbatim, prefixed with ErrorPrefix,
// so downstream tooling can grep for them.
var (
	ErrNoRedirectTarget = errors.New("cannot follow redir")
	ErrTooManyRedirects = errors.New("too many redirections")
	ErrUnexpectedStatus = errors.New("cannot download page")
)

// ErrorPrefix marks a failed fetch inside a post file.
const ErrorPrefix = "ERROR "

// StatusError reports a response status that is neither 200 nor a redirect.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return ErrUnexpectedStatus.Error()
}

// Is lets errors.Is match ErrUnexpectedStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// Record is one student's metadata entry for a single post field.
type Record struct {
	ID        string
	TargetURL string
	// Source is the metadata file the record was read from.
	Source string
}

// Outcome is the terminal result of fetching one record: a body or a failure.
type Outcome struct {
	body string
	err  error
	// Hops counts the redirects followed before the outcome was reached.
	Hops int
	// StatusCode is the last HTTP status seen, 0 on transport failures.
	StatusCode int
}

// Success builds an outcome carrying a fetched body.
func Success(body string) Outcome {
	return Outcome{body: body, StatusCode: http.StatusOK}
}

// Failure builds an outcome carrying a failure reason. A nil reason is
// normalised to ErrUnexpectedStatus so the outcome is never ambiguous.
func Failure(reason error) Outcome {
	if reason == nil {
		reason = ErrUnexpectedStatus
	}
	return Outcome{err: reason}
}

// OK reports whether the fetch succeeded.
func (o Outcome) OK() bool {
	return o.err == nil
}

// Body returns the fetched body; empty for failures.
func (o Outcome) Body() string {
	return o.body
}

// Err returns the failure reason; nil for successes.
func (o Outcome) Err() error {
	return o.err
}

// Content renders the outcome in its on-disk form.
func (o Outcome) Content() string {
	if o.err != nil {
		return ErrorPrefix + o.err.Error()
	}
	return o.body
}

// SummaryRow is one line of summary.csv.
type SummaryRow struct {
	ID        string
	TargetURL string
}

// Entry describes an archived record handed to mirrors.
type Entry struct {
	BatchID     string
	Field       string
	StudentID   string
	TargetURL   string
	OK          bool
	ErrorText   string
	StatusCode  int
	Hops        int
	Content     []byte
	ContentHash string
	ArchivedAt  time.Time
}

// Report summarises a finished batch.
type Report struct {
	BatchID      string    `json:"batch_id"`
	Field        string    `json:"field"`
	Processed    int       `json:"processed"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	WriteErrors  int       `json:"write_errors"`
	MirrorErrors int       `json:"mirror_errors"`
	Started      time.Time `json:"started_at"`
	Finished     time.Time `json:"finished_at"`
}

// State is a Sequencer lifecycle state.
type State string

// Sequencer states.
const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateWriting  State = "writing"
	StateDone     State = "done"
)
