package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/mcpagent/internal/tracing"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	fileExt    = ".jsonl"
	tracerName = "mcpagent.session"
)

// Message is one transcript entry.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// RunID links an assistant message to the agent run that produced it.
	RunID     string   `json:"run_id,omitempty"`
	Model     string   `json:"model,omitempty"`
	ToolCalls []string `json:"tool_calls,omitempty"`
}

// Exchange is a question and the answer given to it.
type Exchange struct {
	Question string
	Answer   string
}

// Store persists transcripts under a directory.
type Store struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// DefaultDir returns ~/.mcpagent/sessions.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".mcpagent", "sessions"), nil
}

// New creates a store, creating dir if needed. An empty dir means DefaultDir.
func New(dir string) (*Store, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &Store{dir: dir, writeLocks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the directory holding the transcripts.
func (s *Store) Dir() string { return s.dir }

// ValidateKey rejects keys that could escape the store directory.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

func (s *Store) writeLock(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, ok := s.writeLocks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[key] = lock
	return lock
}

// Append adds msg to the session, creating it on first use.
func (s *Store) Append(ctx context.Context, key string, msg Message) (err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.append",
		attribute.String("session_key", key),
		attribute.String("role", msg.Role),
	)
	defer func() { tracing.EndSpan(span, err) }()

	if err := ValidateKey(key); err != nil {
		return err
	}
	if msg.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if msg.Content == "" {
		return fmt.Errorf("message content cannot be empty")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	lock := s.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(s.path(key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("session_key", key).
		Str("role", msg.Role).
		Msg("Message appended")
	return nil
}

// Load returns the messages of a session in order. A session that does not
// exist yet is empty.
func (s *Store) Load(ctx context.Context, key string) (msgs []Message, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.load", attribute.String("session_key", key))
	defer func() { tracing.EndSpan(span, err) }()

	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	file, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	msgs = []Message{}
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			logger.Warn().Err(err).Str("session_key", key).Int("line", line).Msg("Skipping corrupt session line")
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return msgs, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *Store) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	lock := s.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns the session keys in the store, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	keys := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(entry.Name(), fileExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// Exchanges pairs each user message with the assistant reply that follows
// it and returns the last n pairs, all of them when n <= 0.
func Exchanges(msgs []Message, n int) []Exchange {
	var out []Exchange
	for i := 0; i < len(msgs); i++ {
		if msgs[i].Role != RoleUser {
			continue
		}
		if i+1 < len(msgs) && msgs[i+1].Role == RoleAssistant {
			out = append(out, Exchange{Question: msgs[i].Content, Answer: msgs[i+1].Content})
			i++
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// WithHistory prefixes question with earlier exchanges so a single agent
// run can answer follow-up questions.
func WithHistory(history []Exchange, question string) string {
	if len(history) == 0 {
		return question
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, ex := range history {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", ex.Question, ex.Answer)
	}
	b.WriteString("\nNew question: ")
	b.WriteString(question)
	return b.String()
}
