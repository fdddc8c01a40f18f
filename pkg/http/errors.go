package http

import (
	"errors"

	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
)

var ErrorUnauthorized = &fluxerr.Error{
	Type: fluxerr.User,
	Help: `The request failed authentication

This most likely means you have a missing or incorrect token. Please
make sure you supply the API token conveyord was started with, either
by setting the environment variable CONVEYOR_TOKEN, or using the
argument --token with conveyorctl.
`,
	Err: errors.New("request failed authentication"),
}

var ErrorBadSignature = &fluxerr.Error{
	Type: fluxerr.User,
	Help: `The webhook request was not signed correctly

Source change events must carry a timestamp and a signature made with
the webhook secret conveyord was started with. Check that the sender
uses the same secret, and that its clock is not too far from the
daemon's.
`,
	Err: errors.New("webhook signature invalid"),
}

func MakeAPINotFound(path string) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.Missing,
		Help: `The API endpoint requested is not supported by this server.

This indicates that your client (probably conveyorctl) is either out of
date, or faulty. Compare the versions of the client and the server with

    conveyorctl version

and include this path if you report the problem:

    ` + path + `
`,
		Err: errors.New("API endpoint not found"),
	}
}
