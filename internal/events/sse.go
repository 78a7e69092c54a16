package events

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// SSESource reads the backend's Server-Sent Events stream.
type SSESource struct {
	URL    string
	Token  string
	Client *http.Client
	Log    *slog.Logger
}

func (s *SSESource) Run(ctx context.Context, bus *Bus) error {
	var bo backoff
	for {
		err := s.stream(ctx, bus, &bo)
		if ctx.Err() != nil {
			return nil
		}
		s.logger().Warn("sse stream ended; reconnecting", "url", s.URL, "error", err, "backoff", bo.d.String())
		if !bo.wait(ctx) {
			return nil
		}
	}
}

func (s *SSESource) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *SSESource) stream(ctx context.Context, bus *Bus, bo *backoff) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	hc := s.Client
	if hc == nil {
		// no client timeout: the stream is long-lived
		hc = &http.Client{}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sse: unexpected status %d", resp.StatusCode)
	}
	bo.reset()
	s.logger().Info("sse stream connected", "url", s.URL)
	return readSSE(resp.Body, func(event string, data []byte) {
		bus.ingest("sse", data, Kind(event))
	})
}

// readSSE parses an event stream and calls emit once per dispatched event.
// Comments and retry/id fields are ignored.
func readSSE(r io.Reader, emit func(event string, data []byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var (
		event string
		data  strings.Builder
	)
	dispatch := func() {
		if data.Len() > 0 {
			emit(event, []byte(data.String()))
		}
		event = ""
		data.Reset()
	}
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			dispatch()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	dispatch()
	return io.EOF
}
