package logs

import (
	"context"
	"errors"
	"strings"
	"time"

	"deeplinker/internal/api"
	"deeplinker/internal/apiclient"
	"deeplinker/internal/logging"
)

// Source is the daemon log endpoint.
type Source interface {
	Logs(ctx context.Context, q apiclient.LogQuery) (*api.LogStreamResponse, error)
}

// Options controls Stream.
type Options struct {
	Lines     int
	Follow    bool
	Token     string
	Component string
	// FilePath is tailed when the daemon cannot be reached. Empty disables
	// the fallback.
	FilePath string
	// OnFallback is called once before the file is read.
	OnFallback func(path string)
}

const (
	defaultLines = 200
	followWait   = time.Second
)

// Stream emits daemon log events from the API, or from the log file when the
// daemon is down. It reports whether any event was emitted.
func Stream(ctx context.Context, src Source, opts Options, emit func(logging.LogEvent) error) (bool, error) {
	printed, err := streamAPI(ctx, src, opts, emit)
	if err == nil || !apiclient.IsUnavailable(err) || printed {
		return printed, err
	}
	if strings.TrimSpace(opts.FilePath) == "" {
		return false, err
	}
	if opts.OnFallback != nil {
		opts.OnFallback(opts.FilePath)
	}
	return streamFile(ctx, opts, emit)
}

func streamAPI(ctx context.Context, src Source, opts Options, emit func(logging.LogEvent) error) (bool, error) {
	query := apiclient.LogQuery{
		Limit:     opts.Lines,
		Tail:      true,
		Token:     opts.Token,
		Component: opts.Component,
	}
	if query.Limit <= 0 {
		query.Limit = defaultLines
	}
	printed := false
	for {
		resp, err := src.Logs(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return printed, nil
			}
			// long polls end with a client timeout when nothing is logged
			if query.Follow && isTimeout(err) {
				continue
			}
			return printed, err
		}
		for _, evt := range resp.Events {
			if err := emit(evt); err != nil {
				return printed, err
			}
			printed = true
		}
		if !opts.Follow {
			return printed, nil
		}
		if resp.Next > query.Since {
			query.Since = resp.Next
		}
		query.Tail = false
		query.Follow = true
		query.Limit = defaultLines
	}
}

func streamFile(ctx context.Context, opts Options, emit func(logging.LogEvent) error) (bool, error) {
	lines := opts.Lines
	if lines <= 0 {
		lines = defaultLines
	}
	tail := TailOptions{Offset: -1, Limit: lines}
	printed := false
	for {
		result, err := Tail(ctx, opts.FilePath, tail)
		if err != nil {
			if ctx.Err() != nil {
				return printed, nil
			}
			return printed, err
		}
		for _, line := range result.Lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			evt := ParseLine(line)
			if !matches(evt, opts) {
				continue
			}
			if err := emit(evt); err != nil {
				return printed, err
			}
			printed = true
		}
		if !opts.Follow || ctx.Err() != nil {
			return printed, nil
		}
		tail = TailOptions{Offset: result.Offset, Follow: true, Wait: followWait}
	}
}

func matches(evt logging.LogEvent, opts Options) bool {
	if token := strings.TrimSpace(opts.Token); token != "" && evt.Token != token {
		return false
	}
	if component := strings.TrimSpace(opts.Component); component != "" && !strings.EqualFold(evt.Component, component) {
		return false
	}
	return true
}

func isTimeout(err error) bool {
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
