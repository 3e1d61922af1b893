package webgui

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNotObservable is returned when observing something that does not embed
	// observable.Observable.
	ErrNotObservable = errors.New("subject is not observable")
	// ErrUnknownFunction is returned for calls to functions that the other side never made
	// available.
	ErrUnknownFunction  = errors.New("unknown function")
	ErrInvisible        = errors.New("view is not visible")
	ErrSubjectDied      = errors.New("subject was collected")
	ErrTimeout          = errors.New("timeout waiting for frontends")
	ErrConnectionClosed = errors.New("connection closed")
	ErrMethodNotFound   = errors.New("method does not exist")
	ErrBadArguments     = errors.New("bad arguments")
	ErrNotInitialized   = errors.New("view is not initialized")
)

// RenderError is the error of a component whose markup could not be produced. It is shown in
// place of the component's output, and siblings render normally.
type RenderError struct {
	Component string
	Err       error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("rendering %s failed: %s", e.Component, e.Err)
}

func (e *RenderError) Cause() error {
	return e.Err
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// FrontendError aggregates the errors returned by connected frontends for one call.
type FrontendError struct {
	Name     string
	Failed   int
	Total    int
	Messages []string
}

func (e *FrontendError) Error() string {
	return fmt.Sprintf("%d of %d connected frontends returned an error calling %s: %s",
		e.Failed, e.Total, e.Name, strings.Join(e.Messages, "; "))
}
