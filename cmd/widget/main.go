// campuschat-widget is a terminal chat client for the CampusChat backend.
// It drives the same session, retry, and escalation machinery the embedded
// web widget uses, which makes it handy for exercising a server end to end.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/campuschat/campuschat/internal/widget"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "backend base URL")
	origin := flag.String("origin", "cli", "origin label reported with each message")
	agentID := flag.Int64("agent", 0, "pin a specific agent id (0 = automatic routing)")
	verbose := flag.Bool("v", false, "log protocol details to stderr")
	flag.Parse()

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	var store widget.KeyValueStore
	if fs, err := newFileStore(statePath()); err != nil {
		logger.Warn("session state unavailable, sessions will not persist", "error", err)
		store = widget.NewMemStore()
	} else {
		store = fs
	}

	sessions := widget.NewSessionStore(store, *origin, "cli", logger)
	render := &terminalRenderer{out: os.Stdout}
	ctrl := widget.NewController(
		widget.Config{BaseURL: *baseURL, Origin: *origin},
		http.DefaultClient,
		sessions,
		&widget.WebSocketChannelFactory{BaseURL: *baseURL, Logger: logger},
		render,
		widget.NoopSpeech{},
		logger,
	)
	if *agentID != 0 {
		ctrl.SelectAgent(*agentID)
	}

	fmt.Println("CampusChat. Type a question, /agent <id> to pin an agent, /auto to unpin, /quit to exit.")

	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/auto":
			ctrl.ResetToAuto()
			fmt.Println("(automatic routing)")
			continue
		case strings.HasPrefix(line, "/agent "):
			id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/agent ")), 10, 64)
			if err != nil || id <= 0 {
				fmt.Println("(usage: /agent <id>)")
				continue
			}
			ctrl.SelectAgent(id)
			fmt.Printf("(pinned agent %d)\n", id)
			continue
		}

		if err := ctrl.Send(context.Background(), line); err != nil {
			logger.Debug("turn failed", "error", err)
		}
	}
}

func statePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".campuschat-session.json"
	}
	return filepath.Join(dir, "campuschat", "session.json")
}

// fileStore persists the session key/value state as a small JSON file, the
// CLI stand-in for the browser's local storage.
type fileStore struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

func newFileStore(path string) (*fileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	s := &fileStore{path: path, data: make(map[string]string)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read session state: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		// Corrupt state is discarded, a fresh session replaces it.
		s.data = make(map[string]string)
	}
	return s, nil
}

func (s *fileStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *fileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	raw, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}

// terminalRenderer prints the conversation to stdout. Tokens stream in
// place; the finalized message is not reprinted.
type terminalRenderer struct {
	out       *os.File
	streaming bool
}

func (r *terminalRenderer) ShowLoading() { fmt.Fprint(r.out, "...") }

func (r *terminalRenderer) HideLoading() {
	if !r.streaming {
		fmt.Fprint(r.out, "\r   \r")
	}
}

func (r *terminalRenderer) BeginBotMessage() {
	r.streaming = true
	fmt.Fprint(r.out, "\r   \rasistente: ")
}

func (r *terminalRenderer) AppendToken(text string) { fmt.Fprint(r.out, text) }

func (r *terminalRenderer) FinalizeBotMessage(string) {
	r.streaming = false
	fmt.Fprintln(r.out)
}

func (r *terminalRenderer) DiscardPartial() {
	if r.streaming {
		r.streaming = false
		fmt.Fprintln(r.out, " [descartado]")
	}
}

func (r *terminalRenderer) ShowStatus(text string) { fmt.Fprintf(r.out, "\r   \r[%s]\n", text) }
func (r *terminalRenderer) ShowSources(text string) {
	fmt.Fprintf(r.out, "[fuentes: %s]\n", text)
}
func (r *terminalRenderer) ShowNotice(text string) { fmt.Fprintf(r.out, "\r   \r* %s\n", text) }
func (r *terminalRenderer) ShowError(text string)  { fmt.Fprintf(r.out, "\r   \r! %s\n", text) }

func (r *terminalRenderer) ShowAgentMessage(name, text string) {
	fmt.Fprintf(r.out, "\r%s: %s\n> ", name, text)
}

func (r *terminalRenderer) ShowTyping(name string, typing bool) {
	if typing {
		fmt.Fprintf(r.out, "\r(%s está escribiendo...)\n> ", name)
	}
}

var _ widget.Renderer = (*terminalRenderer)(nil)
