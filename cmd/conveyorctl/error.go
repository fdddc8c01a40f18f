package main

import (
	"errors"
	"fmt"
)

type usageError struct {
	error
}

func newUsageError(msg string) *usageError {
	return &usageError{error: errors.New(msg)}
}

var errorWantedNoArgs = newUsageError("expected no (non-flag) arguments")
var errorWantedRunID = newUsageError("expected exactly one argument, the run ID")
var errorInvalidOutputFormat = newUsageError("invalid output format specified")

// exitError ends the program with the code given, having already
// said why.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
