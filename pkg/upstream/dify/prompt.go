package dify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DefaultSystemPrompt is sent when no prompt file is configured.
const DefaultSystemPrompt = `You are an assistant that helps users find companies.
When the user describes the companies they are looking for, call the
pick_companies tool with the facets you can infer (industry, size, region,
tech) and a short free-text query in "q".
If you cannot call tools, end your answer with a single block of the form
<FILTERS>{"industry":["..."],"size":["..."],"region":["..."],"tech":["..."]}</FILTERS>
containing only the facets you are confident about.`

// Prompt holds the system prompt sent with every chat request. When backed
// by a file it can be hot-reloaded with Watch.
type Prompt struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	text string
}

// NewPrompt loads the prompt at path. An empty path yields DefaultSystemPrompt.
func NewPrompt(path string, logger *slog.Logger) (*Prompt, error) {
	p := &Prompt{
		path:   path,
		logger: logger,
		text:   DefaultSystemPrompt,
	}
	if path == "" {
		return p, nil
	}

	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Text returns the current prompt.
func (p *Prompt) Text() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.text
}

func (p *Prompt) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("reading system prompt: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		text = DefaultSystemPrompt
	}

	p.mu.Lock()
	p.text = text
	p.mu.Unlock()
	return nil
}

// Watch reloads the prompt whenever its file is written or replaced, until
// ctx is cancelled. A reload failure keeps the previous prompt.
func (p *Prompt) Watch(ctx context.Context) error {
	if p.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating prompt watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		return fmt.Errorf("watching prompt dir: %w", err)
	}

	target := filepath.Clean(p.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := p.reload(); err != nil {
				p.logger.Warn("system prompt reload failed", "path", p.path, "error", err)
				continue
			}
			p.logger.Info("system prompt reloaded", "path", p.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("prompt watcher error: %w", err)
		}
	}
}
