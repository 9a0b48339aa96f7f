package source

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/jmylchreest/radiarr/internal/version"
)

// response is a minimal HTTP/1.0 response. The connection is always closed
// after it.
type response struct {
	status int
	header http.Header
	body   string
}

func newResponse(status int, body string) *response {
	return &response{status: status, header: make(http.Header), body: body}
}

// write sends the status line and headers, and the body unless headOnly.
func (resp *response) write(w io.Writer, headOnly bool) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "HTTP/1.0 %d %s\r\n", resp.status, http.StatusText(resp.status))
	resp.header.Set("Server", version.UserAgent())
	resp.header.Set("Connection", "close")
	if resp.header.Get("Content-Type") == "" {
		resp.header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	resp.header.Set("Content-Length", strconv.Itoa(len(resp.body)))
	if err := resp.header.Write(bw); err != nil {
		return err
	}
	bw.WriteString("\r\n")

	if !headOnly && resp.body != "" {
		bw.WriteString(resp.body)
	}
	return bw.Flush()
}

func textResponse(status int) *response {
	return newResponse(status, http.StatusText(status)+"\n")
}
