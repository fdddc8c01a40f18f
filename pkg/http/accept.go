package http

import (
	"net/http"
	"sort"

	"github.com/golang/gddo/httputil/header"
)

// Content types error responses can be given in, most preferred
// first.
const (
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain"
)

var errorContentTypes = []string{contentTypeJSON, contentTypeText}

// negotiateContentType chooses among the offered content types using
// the request's Accept header. Higher quality wins; among equal
// quality, earlier in offered wins. No Accept header gets the first
// offer, and an Accept header naming none of the offers gets "".
func negotiateContentType(r *http.Request, offered []string) string {
	specs := header.ParseAccept(r.Header, "Accept")
	if len(specs) == 0 {
		return offered[0]
	}

	rank := func(value string) int {
		for i, o := range offered {
			if o == value {
				return i
			}
		}
		return -1
	}

	var acceptable []header.AcceptSpec
	for _, s := range specs {
		if rank(s.Value) >= 0 {
			acceptable = append(acceptable, s)
		}
	}
	if len(acceptable) == 0 {
		return ""
	}
	sort.SliceStable(acceptable, func(i, j int) bool {
		if acceptable[i].Q != acceptable[j].Q {
			return acceptable[i].Q > acceptable[j].Q
		}
		return rank(acceptable[i].Value) < rank(acceptable[j].Value)
	})
	return acceptable[0].Value
}
