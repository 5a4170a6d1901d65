package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"modelbench/internal/artifact"
	"modelbench/internal/generation"
	"modelbench/pkg/types"
)

// decodeJSON reads an optional JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, required bool) bool {
	if r.ContentLength == 0 && !required {
		return true
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	// Limit body size (configurable, default 1MiB)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) && !required {
			return true
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// ndjsonWriter writes one JSON value per line and flushes after each.
type ndjsonWriter struct {
	w       http.ResponseWriter
	enc     *json.Encoder
	flush   func()
	started bool
}

func newNDJSONWriter(w http.ResponseWriter, r *http.Request, stream string) *ndjsonWriter {
	out := io.Writer(w)
	if requestLogLevel(r) >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{prefix: stream})
	}
	nw := &ndjsonWriter{w: w, enc: json.NewEncoder(out)}
	if f, ok := w.(http.Flusher); ok {
		nw.flush = f.Flush
	}
	return nw
}

func (nw *ndjsonWriter) write(v any) {
	if !nw.started {
		nw.w.Header().Set("Content-Type", "application/x-ndjson")
		nw.w.WriteHeader(http.StatusOK)
		nw.started = true
	}
	_ = nw.enc.Encode(v)
	if nw.flush != nil {
		nw.flush()
	}
}

// downloadHandler streams download progress as NDJSON. Failures before the
// first progress line are returned as JSON errors with a mapped status; later
// failures end the stream with an error line. With ?stream=false only the
// final result is written.
func downloadHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.DownloadRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}
		stream := r.URL.Query().Get("stream") != "false"
		lvl := requestLogLevel(r)
		start := time.Now()
		logStart(r, lvl, "download start", nil)

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		nw := newNDJSONWriter(w, r, "download")
		var last artifact.Progress
		var onProgress artifact.ProgressFunc
		if stream {
			onProgress = func(p artifact.Progress) {
				last = p
				nw.write(types.DownloadProgress{Bytes: p.BytesTransferred, Total: p.TotalBytes, Fraction: p.Fraction})
			}
		}
		path, err := svc.EnsureArtifact(ctx, req.Token, onProgress)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			if !nw.started {
				status := writeServiceError(w, err)
				logEnd(r, lvl, "download end", status, start, err)
				return
			}
			line := types.DownloadProgress{Bytes: last.BytesTransferred, Total: last.TotalBytes, Fraction: last.Fraction, Error: err.Error()}
			var de *artifact.DownloadError
			if errors.As(err, &de) {
				line.Kind = de.Kind.String()
			}
			nw.write(line)
			logEnd(r, lvl, "download end", http.StatusOK, start, err)
			return
		}
		a := svc.Status().Artifact
		done := types.DownloadProgress{Bytes: a.BytesOnDisk, Total: a.ExpectedSize, Fraction: 1, Done: true, Path: path}
		if stream {
			nw.write(done)
		} else {
			writeJSON(w, http.StatusOK, done)
		}
		logEnd(r, lvl, "download end", http.StatusOK, start, nil)
	}
}

// samplingFor resolves the request's sampling config: base defaults, then the
// preset, then explicit fields.
func samplingFor(req types.GenerateRequest) (generation.SamplingConfig, error) {
	cfg, named := samplingDefaults()
	if req.Preset != "" {
		p, ok := named[req.Preset]
		if !ok {
			return cfg, errors.New("unknown preset: " + req.Preset)
		}
		cfg = p.Sampling
	}
	if req.TopK != nil {
		cfg.TopK = *req.TopK
	}
	if req.Temperature != nil {
		cfg.Temperature = *req.Temperature
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	if req.MaxTokens != nil {
		cfg.MaxTokens = *req.MaxTokens
	}
	return cfg, cfg.Validate()
}

// generateHandler runs one generation. Streaming requests get every event as
// an NDJSON line; others get the terminal event only. A client disconnect
// cancels the generation.
func generateHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeJSON(w, r, &req, true) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		cfg, err := samplingFor(req)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		stream := req.Stream == nil || *req.Stream
		lvl := requestLogLevel(r)
		start := time.Now()
		logStart(r, lvl, "generate start", map[string]any{"preset": req.Preset, "prompt_chars": len(req.Prompt)})

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if generateTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, time.Duration(generateTimeout)*time.Second)
			defer tcancel()
		}

		events, err := svc.Submit(ctx, req.Prompt, cfg)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := writeServiceError(w, err)
			logEnd(r, lvl, "generate end", status, start, err)
			return
		}

		nw := newNDJSONWriter(w, r, "generate")
		var terminal generation.Event
		for ev := range events {
			if generation.IsTerminal(ev) {
				terminal = ev
			}
			if stream {
				nw.write(types.NewGenerationEvent(ev))
			}
		}
		status := http.StatusOK
		var endErr error
		if f, ok := terminal.(generation.Failed); ok {
			endErr = errors.New(f.Message)
			if !f.Cancelled {
				status = http.StatusBadGateway
			}
		}
		if !stream && terminal != nil {
			writeJSON(w, status, types.NewGenerationEvent(terminal))
		}
		logEnd(r, lvl, "generate end", status, start, endErr)
	}
}
