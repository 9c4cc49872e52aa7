package pipeline

import "fmt"

// Error wraps a failure in a pipeline-level operation that doesn't already
// carry a more specific typed error from the stage package that produced
// it (decode.DecodeError, transcript.Error, align.Error,
// subtitle.EmptyResultError, llm.Error, store.Error, progress.Cancelled).
// Those stay in the returned error's chain, some behind a context prefix
// such as "decode: ", so callers match them with errors.As or errors.Is;
// Error only covers orchestration glue such as task creation.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("pipeline %s failed: %v", e.Stage, e.Err) }
func (e *Error) Unwrap() error { return e.Err }
