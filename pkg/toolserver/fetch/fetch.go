// Package fetch exposes URL fetching as an MCP server.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harun/mcpagent/pkg/toolserver"
)

const (
	// Name is the MCP implementation name.
	Name = "fetch"
	// DefaultMaxLength is the number of characters returned per fetch call.
	DefaultMaxLength = 5000
	// MaxPageBytes caps the encoded size of one page so a result, with its
	// continuation note, fits the 10 KiB tool output agents pass to a model.
	MaxPageBytes = 8 * 1024
	// DefaultUserAgent identifies requests made by the server.
	DefaultUserAgent = "mcpagent-fetch/0.1 (+https://modelcontextprotocol.io)"

	defaultMaxBytes = 5 << 20
	defaultTimeout  = 30 * time.Second
	maxLengthLimit  = 1_000_000
)

// Options configures the fetch server.
type Options struct {
	Client    *http.Client
	UserAgent string
	// MaxBytes caps how much of a response body is read.
	MaxBytes int64
	Version  string
}

// FetchInput are the arguments of the fetch tool.
type FetchInput struct {
	URL        string `json:"url" jsonschema:"the http or https URL to fetch"`
	MaxLength  int    `json:"max_length,omitempty" jsonschema:"maximum number of characters to return, default 5000"`
	StartIndex int    `json:"start_index,omitempty" jsonschema:"character offset to start from, for reading past a truncated result"`
	Raw        bool   `json:"raw,omitempty" jsonschema:"return the body as-is instead of extracting text from HTML"`
}

// HeadersInput are the arguments of the fetch_headers tool.
type HeadersInput struct {
	URL string `json:"url" jsonschema:"the http or https URL to inspect"`
}

type fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewServer builds the fetch MCP server.
func NewServer(opts Options) *sdkmcp.Server {
	f := &fetcher{client: opts.Client, userAgent: opts.UserAgent, maxBytes: opts.MaxBytes}
	if f.client == nil {
		f.client = &http.Client{Timeout: defaultTimeout}
	}
	if f.userAgent == "" {
		f.userAgent = DefaultUserAgent
	}
	if f.maxBytes <= 0 {
		f.maxBytes = defaultMaxBytes
	}
	version := opts.Version
	if version == "" {
		version = "0.1.0"
	}

	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: Name, Version: version}, nil)

	toolserver.AddTool(server, Name, &sdkmcp.Tool{
		Name: "fetch",
		Description: "Fetch a URL and return its content. HTML pages are reduced to readable text. " +
			"Long content is truncated; call again with start_index to continue.",
	}, f.fetch)

	toolserver.AddTool(server, Name, &sdkmcp.Tool{
		Name:        "fetch_headers",
		Description: "Return the HTTP status and response headers of a URL.",
	}, f.headers)

	server.AddPrompt(&sdkmcp.Prompt{
		Name:        "fetch",
		Description: "Fetch a URL and use its contents",
		Arguments:   []*sdkmcp.PromptArgument{{Name: "url", Description: "URL to fetch", Required: true}},
	}, func(ctx context.Context, req *sdkmcp.GetPromptRequest) (*sdkmcp.GetPromptResult, error) {
		target := strings.TrimSpace(req.Params.Arguments["url"])
		if _, err := ValidateURL(target); err != nil {
			return nil, err
		}
		return &sdkmcp.GetPromptResult{
			Description: "Contents of " + target,
			Messages: []*sdkmcp.PromptMessage{{
				Role:    "user",
				Content: &sdkmcp.TextContent{Text: fmt.Sprintf("Please fetch %s and summarize its contents.", target)},
			}},
		}, nil
	})

	return server
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q, only http and https are allowed", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return u, nil
}

func (f *fetcher) newRequest(ctx context.Context, method, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	return req, nil
}

func (f *fetcher) fetch(ctx context.Context, in FetchInput) (*sdkmcp.CallToolResult, error) {
	u, err := ValidateURL(in.URL)
	if err != nil {
		return toolserver.ErrorResult("%v", err), nil
	}
	if in.MaxLength < 0 || in.MaxLength > maxLengthLimit {
		return toolserver.ErrorResult("max_length must be between 1 and %d", maxLengthLimit), nil
	}
	if in.StartIndex < 0 {
		return toolserver.ErrorResult("start_index cannot be negative"), nil
	}
	maxLength := in.MaxLength
	if maxLength == 0 {
		maxLength = DefaultMaxLength
	}

	req, err := f.newRequest(ctx, http.MethodGet, u.String())
	if err != nil {
		return toolserver.ErrorResult("failed to build request: %v", err), nil
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain,application/json;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return toolserver.ErrorResult("failed to fetch %s: %v", u, err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return toolserver.ErrorResult("failed to fetch %s: status %d %s", u, resp.StatusCode, http.StatusText(resp.StatusCode)), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return toolserver.ErrorResult("failed to read %s: %v", u, err), nil
	}

	content := string(body)
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "\uFFFD")
	}
	prefix := ""
	if !in.Raw && isHTML(resp.Header.Get("Content-Type"), body) {
		text, err := HTMLToText(content)
		if err != nil {
			return toolserver.ErrorResult("failed to parse HTML from %s: %v", u, err), nil
		}
		content = text
	} else if !in.Raw && !isText(resp.Header.Get("Content-Type")) {
		prefix = fmt.Sprintf("Content type %s cannot be simplified to text, returning raw content:\n", resp.Header.Get("Content-Type"))
	}

	page, remaining, ok := window(content, in.StartIndex, maxLength, MaxPageBytes)
	if !ok {
		return toolserver.ErrorResult("no more content: start_index %d is past the end (%d characters)", in.StartIndex, utf8.RuneCountInString(content)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Contents of %s:\n", u)
	b.WriteString(prefix)
	b.WriteString(page)
	if remaining > 0 {
		fmt.Fprintf(&b, "\n\n<content truncated, %d characters remaining. Call fetch with start_index=%d to get more content.>",
			remaining, in.StartIndex+utf8.RuneCountInString(page))
	}
	return toolserver.TextResult(b.String()), nil
}

// window returns up to max characters of content starting at start, no more
// than maxBytes once encoded, and how many characters follow. ok is false
// when start is past the end.
func window(content string, start, max, maxBytes int) (page string, remaining int, ok bool) {
	runes := []rune(content)
	if start > 0 && start >= len(runes) {
		return "", 0, false
	}
	end, size := start, 0
	for end < len(runes) && end-start < max {
		n := utf8.RuneLen(runes[end])
		if n < 0 {
			n = len(string(utf8.RuneError))
		}
		if size+n > maxBytes {
			break
		}
		size += n
		end++
	}
	return string(runes[start:end]), len(runes) - end, true
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func isHTML(contentType string, body []byte) bool {
	mt := mediaType(contentType)
	if mt == "text/html" || mt == "application/xhtml+xml" {
		return true
	}
	if mt == "" {
		return strings.HasPrefix(http.DetectContentType(body), "text/html")
	}
	return false
}

func isText(contentType string) bool {
	mt := mediaType(contentType)
	return mt == "" || strings.HasPrefix(mt, "text/") || mt == "application/json" ||
		strings.HasSuffix(mt, "+json") || strings.HasSuffix(mt, "+xml") || mt == "application/xml"
}

func (f *fetcher) headers(ctx context.Context, in HeadersInput) (*sdkmcp.CallToolResult, error) {
	u, err := ValidateURL(in.URL)
	if err != nil {
		return toolserver.ErrorResult("%v", err), nil
	}

	resp, err := f.do(ctx, http.MethodHead, u.String())
	if err == nil && resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		resp, err = f.do(ctx, http.MethodGet, u.String())
	}
	if err != nil {
		return toolserver.ErrorResult("failed to fetch headers from %s: %v", u, err), nil
	}
	defer resp.Body.Close()

	return toolserver.TextResult(FormatHeaders(u.String(), resp)), nil
}

func (f *fetcher) do(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := f.newRequest(ctx, method, target)
	if err != nil {
		return nil, err
	}
	return f.client.Do(req)
}

// FormatHeaders renders the status line and headers of resp sorted by name.
func FormatHeaders(target string, resp *http.Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Headers of %s\n", target)
	fmt.Fprintf(&b, "%s %s\n", resp.Proto, resp.Status)

	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %s\n", name, strings.Join(resp.Header.Values(name), ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
