// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package translate

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ZB1234D/Species-Database-App-123/speciesync"
)

// Backend is the raw translation call wrapped by Policy
type Backend interface {
	Translate(ctx context.Context, text string) (string, error)
}

// PolicyConfig tunes Policy. Zero values pick the defaults.
type PolicyConfig struct {
	Timeout time.Duration // per attempt, default 10s
	Pace    time.Duration // minimum gap between calls, default 200ms
}

// Policy implements speciesync.Translator on top of a Backend. Calls are
// sequential and paced. A failed attempt, or one that returns the input
// unchanged, is retried once; if the retry errors the result is "" and no
// error is reported.
type Policy struct {
	backend Backend
	timeout time.Duration
	pace    time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

var _ speciesync.Translator = (*Policy)(nil)

// NewPolicy wraps backend
func NewPolicy(backend Backend, cfg PolicyConfig, logger *slog.Logger) *Policy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Pace < 0 {
		cfg.Pace = 0
	} else if cfg.Pace == 0 {
		cfg.Pace = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{backend: backend, timeout: cfg.Timeout, pace: cfg.Pace, logger: logger, now: time.Now}
}

// Translate returns "" for blank input without calling the backend. The only
// error it returns is the caller's context error.
func (p *Policy) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out, err := p.attempt(ctx, text)
	if err == nil && !sameText(out, text) {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		p.logger.Debug("translation attempt failed, retrying", "error", err)
	}

	out, err = p.attempt(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Warn("translation failed", "error", err, "text_len", len(text))
		return "", nil
	}
	return out, nil
}

func (p *Policy) attempt(ctx context.Context, text string) (string, error) {
	if wait := p.pace - p.now().Sub(p.last); !p.last.IsZero() && wait > 0 {
		if err := speciesync.Pause(ctx, wait); err != nil {
			return "", err
		}
	}
	defer func() { p.last = p.now() }()

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.backend.Translate(cctx, text)
}

func sameText(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
