package mcp

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"os/exec"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// TransportFactory builds the client transport for a server.
type TransportFactory func(ctx context.Context, cfg ServerConfig, logger zerolog.Logger) (sdkmcp.Transport, error)

// DefaultTransport spawns stdio servers as subprocesses and reaches HTTP
// servers with the streamable HTTP transport.
func DefaultTransport(ctx context.Context, cfg ServerConfig, logger zerolog.Logger) (sdkmcp.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Transport() == TransportHTTP {
		return &sdkmcp.StreamableClientTransport{
			Endpoint:   cfg.BaseURL,
			HTTPClient: newHTTPClient(os.ExpandEnv(cfg.APIKey)),
		}, nil
	}

	// The subprocess must outlive ctx, which only scopes the handshake.
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.environ()...)
	cmd.Stderr = &stderrWriter{logger: logger.With().Str("stream", "stderr").Logger()}

	return &sdkmcp.CommandTransport{Command: cmd}, nil
}

func newHTTPClient(apiKey string) *http.Client {
	if apiKey == "" {
		return http.DefaultClient
	}
	return &http.Client{Transport: &bearerTransport{token: apiKey, base: http.DefaultTransport}}
}

// bearerTransport adds an Authorization header to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(clone)
}

// stderrWriter forwards a server's stderr to the logger line by line.
type stderrWriter struct {
	logger zerolog.Logger
	mu     sync.Mutex
	buf    []byte
}

func (w *stderrWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(w.buf[:i]); len(line) > 0 {
			w.logger.Debug().Msg(string(line))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
