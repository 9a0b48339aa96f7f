package source

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readHead(raw string, max int) (*RequestHead, *bufio.Reader, error) {
	br := bufio.NewReader(strings.NewReader(raw))
	head, err := ReadHead(br, max)
	return head, br, err
}

func TestReadHead_SourceRequest(t *testing.T) {
	head, _, err := readHead("SOURCE /ab12cd34/source HTTP/1.1\r\nHost: x\r\n\r\n", 0)
	require.NoError(t, err)

	assert.Equal(t, "SOURCE", head.Method)
	assert.Equal(t, "/ab12cd34/source", head.Path)
	assert.Equal(t, HTTP11, head.Version)
	assert.Equal(t, "x", head.Header.Get("Host"))
}

func TestReadHead_HTTP09(t *testing.T) {
	head, _, err := readHead("GET /\r\n", 0)
	require.NoError(t, err)

	assert.Equal(t, "GET", head.Method)
	assert.Equal(t, "/", head.Path)
	assert.Equal(t, HTTP09, head.Version)
	assert.Empty(t, head.Header)
}

func TestReadHead_BareLineFeeds(t *testing.T) {
	head, _, err := readHead("PUT /jazz/source HTTP/1.0\nContent-Type: audio/ogg\n\n", 0)
	require.NoError(t, err)

	assert.Equal(t, HTTP10, head.Version)
	assert.Equal(t, "audio/ogg", head.Header.Get("Content-Type"))
}

func TestReadHead_QueryStripped(t *testing.T) {
	head, _, err := readHead("GET /status?verbose=1 HTTP/1.1\r\n\r\n", 0)
	require.NoError(t, err)

	assert.Equal(t, "/status?verbose=1", head.Target)
	assert.Equal(t, "/status", head.Path)
}

func TestReadHead_LeavesBodyUnread(t *testing.T) {
	_, br, err := readHead("PUT /jazz/source HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello", 0)
	require.NoError(t, err)

	body, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestReadHead_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		max  int
		want error
	}{
		{"invalid version", "PUT /x HTTP/9.9\r\n\r\n", 0, ErrInvalidVersion},
		{"http2 version", "GET / HTTP/2.0\r\n\r\n", 0, ErrInvalidVersion},
		{"0.9 without version only for GET", "PUT /x\r\n", 0, ErrVersionMismatch},
		{"explicit 0.9 only for GET", "SOURCE /x HTTP/0.9\r\n\r\n", 0, ErrVersionMismatch},
		{"blank request line", "\r\n", 0, ErrMissingMethod},
		{"method only", "GET\r\n", 0, ErrMissingTarget},
		{"too many fields", "GET / HTTP/1.1 extra\r\n\r\n", 0, ErrMalformedRequestLine},
		{"header without colon", "GET / HTTP/1.1\r\nbroken header\r\n\r\n", 0, ErrMalformedHeader},
		{"empty header name", "GET / HTTP/1.1\r\n: value\r\n\r\n", 0, ErrMalformedHeader},
		{"head too large", "GET / HTTP/1.1\r\nX-Pad: " + strings.Repeat("a", 100) + "\r\n\r\n", 64, ErrHeadTooLarge},
		{"truncated", "GET / HTTP/1.1\r\nHost: x\r\n", 0, io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := readHead(tt.raw, tt.max)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReadHead_EmptyConnection(t *testing.T) {
	_, _, err := readHead("", 0)
	assert.Equal(t, io.EOF, err)
}

func TestReadHead_LimitCountsRequestLine(t *testing.T) {
	_, _, err := readHead("GET /"+strings.Repeat("a", 80)+"\r\n", 64)
	assert.ErrorIs(t, err, ErrHeadTooLarge)
}

func TestRoute(t *testing.T) {
	tests := []struct {
		method, path string
		kind         RouteKind
		station      string
		allow        string
	}{
		{"GET", "/status", RouteStatus, "", ""},
		{"HEAD", "/status", RouteStatus, "", ""},
		{"PUT", "/status", RouteMethodNotAllowed, "", "GET, HEAD"},
		{"PUT", "/ab12cd34/source", RouteIngest, "ab12cd34", ""},
		{"SOURCE", "/ab12cd34/source/", RouteIngest, "ab12cd34", ""},
		{"GET", "/ab12cd34/source", RouteMethodNotAllowed, "", "PUT, SOURCE"},
		{"HEAD", "/ab12cd34/source", RouteMethodNotAllowed, "", "PUT, SOURCE"},
		{"PUT", "/" + strings.Repeat("a", 21) + "/source", RouteNotFound, "", ""},
		{"PUT", "/a/b/source", RouteNotFound, "", ""},
		{"GET", "/", RouteNotFound, "", ""},
		{"GET", "/stream/ab12cd34", RouteNotFound, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			m := Route(tt.method, tt.path)
			assert.Equal(t, tt.kind, m.Kind)
			assert.Equal(t, tt.station, m.StationID)
			assert.Equal(t, tt.allow, m.Allow)
		})
	}
}
