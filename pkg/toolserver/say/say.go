// Package say exposes the host text-to-speech command as an MCP server.
package say

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harun/mcpagent/pkg/toolserver"
)

const (
	// Name is the MCP implementation name.
	Name = "say"
	// VoicesURI lists installed voices.
	VoicesURI = "voices://list"

	defaultCommand = "say"
	maxTextLength  = 4000
)

// ErrUnavailable is reported when the speech command is not installed.
var ErrUnavailable = errors.New("say command not available")

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Options configures the say server.
type Options struct {
	// Command defaults to "say".
	Command  string
	Runner   Runner
	LookPath func(file string) (string, error)
	Version  string
}

// Voice is one entry of `say -v ?`.
type Voice struct {
	Name   string `json:"name"`
	Locale string `json:"locale"`
	Sample string `json:"sample"`
}

// SayInput are the arguments of the say tool.
type SayInput struct {
	Text  string `json:"text" jsonschema:"the text to speak"`
	Voice string `json:"voice,omitempty" jsonschema:"voice name, see list_voices"`
	Rate  int    `json:"rate,omitempty" jsonschema:"speech rate in words per minute"`
}

type listVoicesInput struct{}

type speaker struct {
	command  string
	run      Runner
	lookPath func(string) (string, error)
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NewServer builds the say MCP server.
func NewServer(opts Options) *sdkmcp.Server {
	s := &speaker{command: opts.Command, run: opts.Runner, lookPath: opts.LookPath}
	if s.command == "" {
		s.command = defaultCommand
	}
	if s.run == nil {
		s.run = execRunner
	}
	if s.lookPath == nil {
		s.lookPath = exec.LookPath
	}
	version := opts.Version
	if version == "" {
		version = "0.1.0"
	}

	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: Name, Version: version}, nil)

	toolserver.AddTool(server, Name, &sdkmcp.Tool{
		Name:        "say",
		Description: "Speak text aloud using the system text-to-speech voice.",
	}, s.say)

	toolserver.AddTool(server, Name, &sdkmcp.Tool{
		Name:        "list_voices",
		Description: "List the text-to-speech voices installed on this machine.",
	}, func(ctx context.Context, _ listVoicesInput) (*sdkmcp.CallToolResult, error) {
		voices, err := s.voices(ctx)
		if err != nil {
			return toolserver.ErrorResult("%v", err), nil
		}
		return toolserver.TextResult(FormatVoices(voices)), nil
	})

	server.AddResource(&sdkmcp.Resource{
		URI:         VoicesURI,
		Name:        "voices",
		Description: "Installed text-to-speech voices",
		MIMEType:    "text/plain",
	}, func(ctx context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
		voices, err := s.voices(ctx)
		if err != nil {
			return nil, err
		}
		return &sdkmcp.ReadResourceResult{Contents: []*sdkmcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     FormatVoices(voices),
		}}}, nil
	})

	server.AddPrompt(&sdkmcp.Prompt{
		Name:        "speak",
		Description: "Ask the assistant to read text aloud",
		Arguments: []*sdkmcp.PromptArgument{
			{Name: "text", Description: "text to speak", Required: true},
			{Name: "voice", Description: "optional voice name"},
		},
	}, func(ctx context.Context, req *sdkmcp.GetPromptRequest) (*sdkmcp.GetPromptResult, error) {
		text := strings.TrimSpace(req.Params.Arguments["text"])
		if text == "" {
			return nil, errors.New("text is required")
		}
		msg := fmt.Sprintf("Please say the following text aloud: %q", text)
		if voice := req.Params.Arguments["voice"]; voice != "" {
			msg += " using the voice " + voice
		}
		return &sdkmcp.GetPromptResult{
			Description: "Speak text",
			Messages: []*sdkmcp.PromptMessage{{
				Role:    "user",
				Content: &sdkmcp.TextContent{Text: msg + "."},
			}},
		}, nil
	})

	return server
}

func (s *speaker) available() error {
	if _, err := s.lookPath(s.command); err != nil {
		return ErrUnavailable
	}
	return nil
}

func (s *speaker) say(ctx context.Context, in SayInput) (*sdkmcp.CallToolResult, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return toolserver.ErrorResult("text is required"), nil
	}
	if len(text) > maxTextLength {
		return toolserver.ErrorResult("text is too long (%d characters, max %d)", len(text), maxTextLength), nil
	}
	if in.Rate < 0 {
		return toolserver.ErrorResult("rate cannot be negative"), nil
	}
	if err := s.available(); err != nil {
		return toolserver.ErrorResult("%v", err), nil
	}

	args := []string{}
	if in.Voice != "" {
		args = append(args, "-v", in.Voice)
	}
	if in.Rate > 0 {
		args = append(args, "-r", strconv.Itoa(in.Rate))
	}
	// A leading space stops text such as "-v" being read as a flag.
	arg := text
	if strings.HasPrefix(arg, "-") {
		arg = " " + arg
	}
	args = append(args, arg)

	if out, err := s.run(ctx, s.command, args...); err != nil {
		return toolserver.ErrorResult("say failed: %v %s", err, strings.TrimSpace(string(out))), nil
	}

	msg := fmt.Sprintf("Spoke %q", text)
	if in.Voice != "" {
		msg += " with voice " + in.Voice
	}
	return toolserver.TextResult(msg), nil
}

func (s *speaker) voices(ctx context.Context) ([]Voice, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	out, err := s.run(ctx, s.command, "-v", "?")
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return ParseVoices(string(out)), nil
}

var voiceLine = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}[_-][A-Za-z0-9_]+)\s+#\s?(.*)$`)

// ParseVoices parses the `say -v ?` listing. Lines that do not match are skipped.
func ParseVoices(output string) []Voice {
	voices := []Voice{}
	for _, line := range strings.Split(output, "\n") {
		m := voiceLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		voices = append(voices, Voice{
			Name:   strings.TrimSpace(m[1]),
			Locale: m[2],
			Sample: strings.TrimSpace(m[3]),
		})
	}
	return voices
}

// FormatVoices renders voices one per line.
func FormatVoices(voices []Voice) string {
	if len(voices) == 0 {
		return "No voices installed."
	}
	var b strings.Builder
	for i, v := range voices {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s (%s)", v.Name, v.Locale)
		if v.Sample != "" {
			fmt.Fprintf(&b, ": %s", v.Sample)
		}
	}
	return b.String()
}
