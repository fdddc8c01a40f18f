package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
)

// NewAPIRouter gives the named routes of the API, without handlers,
// for the server to attach handlers to and the client to make URLs
// from.
func NewAPIRouter() *mux.Router {
	r := mux.NewRouter()

	r.NewRoute().Name(Ping).Methods("GET").Path("/v1/ping")
	r.NewRoute().Name(Version).Methods("GET").Path("/v1/version")
	r.NewRoute().Name(Webhook).Methods("POST").Path("/v1/webhook")

	r.NewRoute().Name(ListServices).Methods("GET").Path("/v1/services")
	r.NewRoute().Name(ListRuns).Methods("GET").Path("/v1/runs")
	r.NewRoute().Name(RunStatus).Methods("GET").Path("/v1/runs/{id}")
	r.NewRoute().Name(RunEvents).Methods("GET").Path("/v1/runs/{id}/events")
	r.NewRoute().Name(Promote).Methods("POST").Path("/v1/runs/{id}/promote")
	r.NewRoute().Name(Abort).Methods("POST").Path("/v1/runs/{id}/abort")

	return r
}

// MakeURL gives the URL for the named route at the endpoint. The
// params are pairs of names and values: those named in the route's
// path fill it in, and the rest become the query.
func MakeURL(endpoint string, router *mux.Router, routeName string, urlParams ...string) (*url.URL, error) {
	if len(urlParams)%2 != 0 {
		panic("urlParams must be even!")
	}

	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint %s", endpoint)
	}
	route := router.Get(routeName)
	if route == nil {
		return nil, errors.New("no route with name " + routeName)
	}
	varNames, err := route.GetVarNames()
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route variables %s", routeName)
	}
	isVar := map[string]bool{}
	for _, name := range varNames {
		isVar[name] = true
	}

	var pathVars []string
	v := url.Values{}
	for i := 0; i < len(urlParams); i += 2 {
		if isVar[urlParams[i]] {
			pathVars = append(pathVars, urlParams[i], urlParams[i+1])
			continue
		}
		if urlParams[i+1] != "" {
			v.Add(urlParams[i], urlParams[i+1])
		}
	}
	routeURL, err := route.URLPath(pathVars...)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route path %s", routeName)
	}

	endpointURL.Path = path.Join(endpointURL.Path, routeURL.Path)
	endpointURL.RawQuery = v.Encode()
	return endpointURL, nil
}

func WriteError(w http.ResponseWriter, r *http.Request, code int, err error) {
	// An Accept header with "application/json" is sent by clients
	// understanding how to decode JSON errors. Other clients get the
	// error text.
	if len(r.Header.Get("Accept")) > 0 {
		switch negotiateContentType(r, errorContentTypes) {
		case contentTypeJSON:
			body, encodeErr := json.Marshal(err)
			if encodeErr != nil {
				w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, "Error encoding error response: %s\n\nOriginal error: %s", encodeErr.Error(), err.Error())
				return
			}
			w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "application/json; charset=utf-8")
			w.WriteHeader(code)
			w.Write(body)
			return
		case contentTypeText:
			w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
			w.WriteHeader(code)
			switch err := err.(type) {
			case *fluxerr.Error:
				fmt.Fprint(w, err.Help)
			default:
				fmt.Fprint(w, err.Error())
			}
			return
		}
	}
	w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprint(w, err.Error())
}

func JSONResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	JSONResponseWithStatus(w, r, http.StatusOK, result)
}

func JSONResponseWithStatus(w http.ResponseWriter, r *http.Request, code int, result interface{}) {
	body, err := json.Marshal(result)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(body)
}

// ErrorResponse writes the error with the status code for its type:
// 404 for things missing, 422 for requests that cannot be done at
// present, and 500 for anything else.
func ErrorResponse(w http.ResponseWriter, r *http.Request, apiError error) {
	var outErr *fluxerr.Error
	if !errors.As(apiError, &outErr) {
		outErr = fluxerr.CoverAllError(apiError)
	}
	var code int
	switch outErr.Type {
	case fluxerr.Missing:
		code = http.StatusNotFound
	case fluxerr.User:
		code = http.StatusUnprocessableEntity
	default:
		code = http.StatusInternalServerError
	}
	WriteError(w, r, code, outErr)
}
