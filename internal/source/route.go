package source

import (
	"net/http"
	"regexp"
)

// MethodSource is the non-standard ingestion method used by Icecast encoders.
const MethodSource = "SOURCE"

// RouteKind classifies a request by method and path.
type RouteKind int

const (
	RouteNotFound RouteKind = iota
	RouteStatus
	RouteIngest
	RouteMethodNotAllowed
)

// Match is the result of routing a request.
type Match struct {
	Kind      RouteKind
	StationID string
	// Allow lists the accepted methods for RouteMethodNotAllowed.
	Allow string
}

const (
	allowStatus = "GET, HEAD"
	allowIngest = "PUT, SOURCE"
)

var ingestPath = regexp.MustCompile(`^/([^/]{1,20})/source/?$`)

// Route dispatches a request by method and path.
func Route(method, path string) Match {
	if path == "/status" {
		if method == http.MethodGet || method == http.MethodHead {
			return Match{Kind: RouteStatus}
		}
		return Match{Kind: RouteMethodNotAllowed, Allow: allowStatus}
	}

	if m := ingestPath.FindStringSubmatch(path); m != nil {
		if method == http.MethodPut || method == MethodSource {
			return Match{Kind: RouteIngest, StationID: m[1]}
		}
		return Match{Kind: RouteMethodNotAllowed, Allow: allowIngest}
	}

	return Match{Kind: RouteNotFound}
}
