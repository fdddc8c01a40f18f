package errors

import (
	"encoding/json"
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Error is how failures cross the API. Type says who can do
// something about it: Server errors may go away by themselves, User
// errors need the operator to do something different, and Missing
// means there is no such thing.
type Error struct {
	Type Type
	// Help is written for the operator, and printed as is by
	// conveyorctl.
	Help string `json:"help"`
	// Err is the underlying cause, for logs.
	Err error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Type string

const (
	// Server errors are conveyord's own problem.
	Server Type = "server"
	// Missing means the run, service or route named is not known.
	Missing Type = "missing"
	// User errors are requests that cannot be met as things stand,
	// e.g., promoting a run that has not been verified.
	User Type = "user"
)

func IsMissing(err error) bool {
	var e *Error
	if pkgerrors.As(err, &e) && e.Type == Missing {
		return true
	}
	return false
}

// transient is implemented by component errors that know whether
// trying again might succeed.
type transient interface {
	Transient() bool
}

// IsTransient reports whether anything in the chain of err declares
// itself transient. Errors that say nothing are taken to be terminal.
func IsTransient(err error) bool {
	var t transient
	if pkgerrors.As(err, &t) {
		return t.Transient()
	}
	return false
}

func (e *Error) MarshalJSON() ([]byte, error) {
	var errMsg string
	if e.Err != nil {
		errMsg = e.Err.Error()
	}
	jsonable := &struct {
		Type string `json:"type"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{
		Type: string(e.Type),
		Help: e.Help,
		Err:  errMsg,
	}
	return json.Marshal(jsonable)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	jsonable := &struct {
		Type string `json:"type"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{}
	if err := json.Unmarshal(data, &jsonable); err != nil {
		return err
	}
	e.Type = Type(jsonable.Type)
	e.Help = jsonable.Help
	if jsonable.Err != "" {
		e.Err = errors.New(jsonable.Err)
	}
	return nil
}

func CoverAllError(err error) *Error {
	return &Error{
		Type: User,
		Err:  err,
		Help: `Error: ` + err.Error() + `

We don't have a specific help message for the error above.

It would help us remedy this if you log an issue at

    https://github.com/fluxcd/conveyor/issues

saying what you were doing when you saw this, and quoting the message
at the top.
`,
	}
}
