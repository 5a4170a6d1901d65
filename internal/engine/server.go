package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"modelbench/internal/generation"
)

// ServerOptions configures a client for a running llama.cpp server.
type ServerOptions struct {
	BaseURL string
	APIKey  string
	// Model is sent as the "model" field; llama.cpp serves one model and ignores it.
	Model          string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	// Delegate is reported in metrics. Defaults to "llama-server".
	Delegate string
	Traced   bool
	Client   *http.Client
	Logger   *zerolog.Logger
}

// Server implements generation.Engine over the OpenAI-compatible streaming
// completions endpoint of llama.cpp's server.
type Server struct {
	baseURL    string
	apiKey     string
	model      string
	reqTimeout time.Duration
	delegate   string
	client     *http.Client
	log        zerolog.Logger
}

// NewServer builds a Server client. No request is made until Ping or a generation.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		reqTimeout: opts.RequestTimeout,
		delegate:   opts.Delegate,
		client:     opts.Client,
		log:        zerolog.Nop(),
	}
	if s.delegate == "" {
		s.delegate = "llama-server"
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	}
	if s.client == nil {
		connect := opts.ConnectTimeout
		if connect <= 0 {
			connect = 10 * time.Second
		}
		var tr http.RoundTripper = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   connect,
			ExpectContinueTimeout: time.Second,
		}
		if opts.Traced {
			tr = otelhttp.NewTransport(tr)
		}
		// Timeout stays 0: streams are bounded by the per-request context.
		s.client = &http.Client{Transport: tr}
	}
	return s
}

func (s *Server) Delegate() string { return s.delegate }

// Ping checks the server's /health endpoint.
func (s *Server) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return ErrDependencyUnavailable("llama server unreachable: " + err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return ErrDependencyUnavailable(fmt.Sprintf("llama server not healthy: %s", resp.Status))
	}
	return nil
}

func (s *Server) CreateSession(cfg generation.SamplingConfig) (generation.EngineSession, error) {
	if s.baseURL == "" {
		return nil, errors.New("llama server url is empty")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &serverSession{server: s, cfg: cfg, ctx: ctx, cancel: cancel}, nil
}

// Close drops idle connections.
func (s *Server) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type serverSession struct {
	server *Server
	cfg    generation.SamplingConfig
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	prompt strings.Builder
}

func (ss *serverSession) AddQuery(text string) error {
	if ss.ctx.Err() != nil {
		return ErrSessionClosed
	}
	ss.mu.Lock()
	ss.prompt.WriteString(text)
	ss.mu.Unlock()
	return nil
}

func (ss *serverSession) GenerateAsync(fn generation.FragmentFunc) error {
	if ss.ctx.Err() != nil {
		return ErrSessionClosed
	}
	ss.mu.Lock()
	prompt := ss.prompt.String()
	ss.mu.Unlock()

	go func() {
		ctx := ss.ctx
		if t := ss.server.reqTimeout; t > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t)
			defer cancel()
		}
		err := ss.stream(ctx, prompt, func(tok string) { fn(tok, false, nil) })
		if ss.ctx.Err() != nil {
			// closed by the owner; nobody is listening
			return
		}
		if err != nil {
			fn("", false, err)
			return
		}
		fn("", true, nil)
	}()
	return nil
}

// Close cancels an in-flight request.
func (ss *serverSession) Close() error {
	ss.cancel()
	return nil
}

// completionRequest is the payload for /v1/completions.
type completionRequest struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k,omitempty"`
	Seed        int     `json:"seed"`
	Stream      bool    `json:"stream"`
}

// streamChunk covers the OpenAI completion and chat chunk shapes as well as
// llama.cpp's native {"content": ..., "stop": ...} lines.
type streamChunk struct {
	Choices []struct {
		Text  string `json:"text"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

func (ss *serverSession) stream(ctx context.Context, prompt string, onToken func(string)) error {
	s := ss.server
	body, err := json.Marshal(completionRequest{
		Model:       s.model,
		Prompt:      prompt,
		MaxTokens:   ss.cfg.MaxTokens,
		Temperature: ss.cfg.Temperature,
		TopK:        ss.cfg.TopK,
		Seed:        ss.cfg.Seed,
		Stream:      true,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrDependencyUnavailable("llama server unreachable: " + err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("llama server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	r := bufio.NewReader(resp.Body)
	for {
		line, rerr := r.ReadString('\n')
		if data, ok := eventData(line); ok {
			if data == "[DONE]" {
				return nil
			}
			var c streamChunk
			if err := json.Unmarshal([]byte(data), &c); err != nil {
				s.log.Debug().Str("line", line).Msg("llama server: unparsable stream line")
			} else {
				if tok := c.text(); tok != "" {
					onToken(tok)
				}
				if c.finished() {
					return nil
				}
			}
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(rerr, io.EOF) {
				return fmt.Errorf("llama server stream ended without a stop marker: %w", io.ErrUnexpectedEOF)
			}
			return rerr
		}
	}
}

// eventData extracts the payload of an SSE data line, or a bare JSON line.
func eventData(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false
	}
	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		return strings.TrimSpace(rest), true
	}
	if strings.HasPrefix(line, "{") {
		return line, true
	}
	return "", false
}

func (c streamChunk) text() string {
	if len(c.Choices) > 0 {
		if c.Choices[0].Text != "" {
			return c.Choices[0].Text
		}
		return c.Choices[0].Delta.Content
	}
	return c.Content
}

func (c streamChunk) finished() bool {
	if c.Stop {
		return true
	}
	return len(c.Choices) > 0 && c.Choices[0].FinishReason != nil && *c.Choices[0].FinishReason != ""
}
