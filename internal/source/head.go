// Package source implements the encoder ingestion protocol: a small
// HTTP/0.9-1.1 compatible request parser that accepts the SOURCE and PUT
// methods and hands the unbounded request body to a live session.
package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultMaxHeadSize bounds the request line plus headers.
const DefaultMaxHeadSize = 8 * 1024

// Protocol errors. All of them are connection-local and end the connection
// without a response.
var (
	ErrMissingMethod        = errors.New("request line has no method")
	ErrMissingTarget        = errors.New("request line has no target")
	ErrMalformedRequestLine = errors.New("malformed request line")
	ErrInvalidVersion       = errors.New("unsupported protocol version")
	ErrVersionMismatch      = errors.New("HTTP/0.9 only supports GET")
	ErrMalformedHeader      = errors.New("malformed header line")
	ErrHeadTooLarge         = errors.New("request head too large")
)

// Version is an HTTP protocol version.
type Version struct {
	Major, Minor int
}

// Supported protocol versions.
var (
	HTTP09 = Version{0, 9}
	HTTP10 = Version{1, 0}
	HTTP11 = Version{1, 1}
)

// String returns the version as it appears on the wire.
func (v Version) String() string {
	return fmt.Sprintf("HTTP/%d.%d", v.Major, v.Minor)
}

// RequestHead is a parsed request line and header block.
type RequestHead struct {
	Method string
	// Target is the raw request target; Path is Target without the query.
	Target  string
	Path    string
	Version Version
	Header  http.Header
}

type parseState int

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateDone
)

// headParser reads a request head one line at a time while accounting for
// every consumed byte against the size limit.
type headParser struct {
	r        *bufio.Reader
	max      int
	consumed int
	state    parseState
	head     *RequestHead
}

// ReadHead parses a request head from r. A request without a version token
// is HTTP/0.9 and has no header block. Lines may end in CRLF or a bare LF.
// On success r is positioned at the first body byte.
//
// io.EOF is returned when the peer closed the connection before sending
// anything.
func ReadHead(r *bufio.Reader, maxSize int) (*RequestHead, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxHeadSize
	}
	p := &headParser{
		r:    r,
		max:  maxSize,
		head: &RequestHead{Header: make(http.Header)},
	}

	for p.state != stateDone {
		line, err := p.readLine()
		if err != nil {
			return nil, err
		}

		switch p.state {
		case stateRequestLine:
			if err := p.parseRequestLine(line); err != nil {
				return nil, err
			}
		case stateHeaders:
			if line == "" {
				p.state = stateDone
				continue
			}
			if err := p.parseHeader(line); err != nil {
				return nil, err
			}
		}
	}

	return p.head, nil
}

func (p *headParser) readLine() (string, error) {
	var line []byte
	for {
		if p.consumed >= p.max {
			return "", ErrHeadTooLarge
		}
		b, err := p.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if p.consumed == 0 {
					return "", io.EOF
				}
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		p.consumed++

		if b == '\n' {
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			return string(line), nil
		}
		line = append(line, b)
	}
}

func (p *headParser) parseRequestLine(line string) error {
	fields := strings.Fields(line)
	switch len(fields) {
	case 0:
		return ErrMissingMethod
	case 1:
		return ErrMissingTarget
	case 2, 3:
	default:
		return ErrMalformedRequestLine
	}

	method := fields[0]
	if !isToken(method) {
		return ErrMalformedRequestLine
	}
	p.head.Method = method
	p.head.Target = fields[1]
	p.head.Path, _, _ = strings.Cut(fields[1], "?")

	if len(fields) == 2 {
		p.head.Version = HTTP09
		if method != http.MethodGet {
			return ErrVersionMismatch
		}
		p.state = stateDone
		return nil
	}

	version, err := parseVersion(fields[2])
	if err != nil {
		return err
	}
	p.head.Version = version
	if version == HTTP09 && method != http.MethodGet {
		return ErrVersionMismatch
	}
	p.state = stateHeaders
	return nil
}

func (p *headParser) parseHeader(line string) error {
	name, value, ok := strings.Cut(line, ":")
	if !ok || name == "" || !isToken(name) {
		return ErrMalformedHeader
	}
	p.head.Header.Add(name, strings.TrimSpace(value))
	return nil
}

func parseVersion(s string) (Version, error) {
	switch s {
	case "HTTP/0.9":
		return HTTP09, nil
	case "HTTP/1.0":
		return HTTP10, nil
	case "HTTP/1.1":
		return HTTP11, nil
	default:
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
}

// isToken reports whether s is a non-empty RFC 7230 token.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}
