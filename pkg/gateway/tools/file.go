// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tailscale/hujson"
	"k8s.io/utils/clock"

	"github.com/stacklok/mcp-gateway/pkg/logger"
)

const (
	// DefaultDefinitionsPath is read when no path is configured.
	DefaultDefinitionsPath = "mcp-tools.json"
	// DefaultCacheTTL is how long a loaded file is served before it is read again.
	DefaultCacheTTL = 5 * time.Minute
)

// fileRoot is the document layout of a definitions file.
type fileRoot struct {
	Tools []Definition `json:"tools"`
}

// FileProvider serves tool definitions from a JSON file. Comments and trailing
// commas are accepted.
type FileProvider struct {
	path     string
	cacheTTL time.Duration
	clock    clock.PassiveClock
	logger   *slog.Logger

	mu       sync.Mutex
	cached   []Definition
	loadedAt time.Time
	loaded   bool
}

// FileOption configures a FileProvider.
type FileOption func(*FileProvider)

// WithFileClock sets the clock used to age the cache.
func WithFileClock(c clock.PassiveClock) FileOption {
	return func(p *FileProvider) { p.clock = c }
}

// NewFileProvider creates a provider for the file at path. A relative path is
// resolved against the working directory.
func NewFileProvider(path string, cacheTTL time.Duration, l *slog.Logger, opts ...FileOption) (*FileProvider, error) {
	if path == "" {
		path = DefaultDefinitionsPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tool definitions path %s: %w", path, err)
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	if l == nil {
		l = logger.Get()
	}

	p := &FileProvider{
		path:     abs,
		cacheTTL: cacheTTL,
		clock:    clock.RealClock{},
		logger:   l,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger.Info("tool definitions path", "path", p.path)
	return p, nil
}

var _ Provider = (*FileProvider)(nil)

// Path returns the absolute path of the definitions file.
func (p *FileProvider) Path() string {
	return p.path
}

// ListTools implements Provider.
func (p *FileProvider) ListTools(_ context.Context) ([]Definition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if p.loaded && now.Sub(p.loadedAt) < p.cacheTTL {
		return p.cached, nil
	}

	defs, err := p.load()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("tool definitions file not found", "path", p.path)
		} else {
			p.logger.Error("failed to load tool definitions", "path", p.path, "error", err)
		}
		// Failures are not cached so a fixed file is picked up on the next call.
		return []Definition{}, nil
	}

	p.cached, p.loadedAt, p.loaded = defs, now, true
	p.logger.Info("loaded tool definitions", "count", len(defs), "path", p.path)
	return defs, nil
}

// GetTool implements Provider.
func (p *FileProvider) GetTool(ctx context.Context, name string) (Definition, bool, error) {
	defs, err := p.ListTools(ctx)
	if err != nil {
		return Definition{}, false, err
	}
	d, ok := findTool(defs, name)
	return d, ok, nil
}

// ListMCPTools implements Provider.
func (p *FileProvider) ListMCPTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	defs, err := p.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	return toListToolsResult(defs), nil
}

// Invalidate drops the cached definitions.
func (p *FileProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached, p.loaded = nil, false
}

func (p *FileProvider) load() ([]Definition, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, err
	}
	standard, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p.path, err)
	}

	var root fileRoot
	if err := json.Unmarshal(standard, &root); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", p.path, err)
	}
	if root.Tools == nil {
		root.Tools = []Definition{}
	}
	return root.Tools, nil
}

// Watch drops the cache whenever the definitions file changes. It blocks until
// ctx is done. The parent directory is watched so editors that replace the file
// are noticed.
func (p *FileProvider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(p.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				p.logger.Debug("tool definitions file changed", "path", p.path, "op", event.Op.String())
				p.Invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("tool definitions watcher error", "error", err)
		}
	}
}
