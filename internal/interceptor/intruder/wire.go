package intruder

import (
	"context"
	"net/http"
	"strings"

	"github.com/int3rceptor/interceptor/errs"
)

// parseRawRequest turns a rendered template into an *http.Request. Templates
// are plain HTTP/1.1 wire text: a request line, header lines, a blank line,
// then the body — parsed by hand rather than through http.ReadRequest so a
// template's body survives even without an explicit Content-Length header.
func parseRawRequest(ctx context.Context, raw string) (*http.Request, error) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, errs.New(errs.KindHTTPParse, "empty request template", nil)
	}

	parts := strings.Fields(lines[0])
	if len(parts) < 2 {
		return nil, errs.New(errs.KindHTTPParse, "request line missing method or URI", nil)
	}
	method, uri := parts[0], parts[1]

	var bodyLines []string
	headers := make(http.Header)
	inBody := false
	for _, line := range lines[1:] {
		switch {
		case inBody:
			bodyLines = append(bodyLines, line)
		case line == "":
			inBody = true
		default:
			k, v, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			headers.Add(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
	body := strings.Join(bodyLines, "\n")
	body = strings.TrimSuffix(body, "\n")

	req, err := http.NewRequestWithContext(ctx, method, uri, strings.NewReader(body))
	if err != nil {
		return nil, errs.New(errs.KindHTTPInvalidURI, "parsing request URI", err)
	}
	req.Header = headers
	req.ContentLength = int64(len(body))
	return req, nil
}
