package scraper

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceNotFound is returned by RunPipeline for an unknown source id.
	ErrSourceNotFound = errors.New("source not found")
	// ErrNoCandidates means neither extractor produced a record.
	ErrNoCandidates = errors.New("no candidate records extracted")
)

// NetworkError is a failed page fetch: DNS, timeout or a non-2xx status.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// PipelineFatal fails a whole attempt. Stage is "fetch" or "extract".
type PipelineFatal struct {
	Stage string
	Err   error
}

func (e *PipelineFatal) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PipelineFatal) Unwrap() error { return e.Err }
