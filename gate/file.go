package gate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kbukum/sdtmforge/logger"
)

// DecisionFileName is the document the file source waits for, relative to
// the checkpoint state directory. `sdtmforge decide` writes it.
const DecisionFileName = "decision.yaml"

// FileSource resolves the decision from a YAML document dropped next to the
// run document. An existing file is honored immediately, otherwise the
// directory is watched.
type FileSource struct {
	path string
	log  *logger.Logger
}

// NewFileSource watches for stateDir/decision.yaml.
func NewFileSource(stateDir string, log *logger.Logger) *FileSource {
	return &FileSource{
		path: filepath.Join(stateDir, DecisionFileName),
		log:  log.WithComponent("gate.file"),
	}
}

// Await blocks until the decision document appears and parses to a
// terminal decision. A document that does not parse yet is tolerated; the
// reviewer may still be writing it.
func (s *FileSource) Await(ctx context.Context) (Decision, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Decision{}, fmt.Errorf("create decision dir: %w", err)
	}

	if d, ok := s.tryRead(); ok {
		return d, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return Decision{}, fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return Decision{}, fmt.Errorf("watch %s: %w", dir, err)
	}

	// The file may have landed between the first read and the watch.
	if d, ok := s.tryRead(); ok {
		return d, nil
	}

	s.log.Info("waiting for decision document", logger.Fields("path", s.path))
	for {
		select {
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		case event, open := <-watcher.Events:
			if !open {
				return Decision{}, fmt.Errorf("watcher closed")
			}
			if event.Name != s.path {
				continue
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if d, ok := s.tryRead(); ok {
				return d, nil
			}
		case err, open := <-watcher.Errors:
			if !open {
				return Decision{}, fmt.Errorf("watcher closed")
			}
			return Decision{}, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
}

func (s *FileSource) tryRead() (Decision, bool) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Decision{}, false
	}

	var doc Decision
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		s.log.Warn("decision document not yet parseable", logger.Fields("path", s.path, "error", err.Error()))
		return Decision{}, false
	}
	if _, err := ParseDecision(string(doc.Decision)); err != nil {
		s.log.Warn("decision document invalid", logger.Fields("path", s.path, "error", err.Error()))
		return Decision{}, false
	}
	return doc, true
}

// WriteDecisionFile produces the document Await consumes, for the decide
// subcommand.
func WriteDecisionFile(stateDir string, d Decision) (string, error) {
	if _, err := ParseDecision(string(d.Decision)); err != nil {
		return "", err
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return "", fmt.Errorf("create decision dir: %w", err)
	}

	path := filepath.Join(stateDir, DecisionFileName)
	raw, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal decision: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write decision: %w", err)
	}
	return path, nil
}
