// Package spool delivers tab content events from a filesystem spool
// directory. The browser extension's native-messaging host drops one JSON
// snapshot file per content update and a tombstone file per closed tab;
// this adapter watches the directory and turns files into events.
//
// File naming:
//
//	tab-<id>-<seq>.json   content snapshot (domain.TabContent)
//	tab-<id>.removed      tab closed
//
// Files are deleted once consumed, so the spool never grows unbounded and
// a restart replays only what the host wrote while the CLI was down.
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tablens/tablens-cli/internal/core/domain"
	"github.com/tablens/tablens-cli/internal/core/ports/driven"
	"github.com/tablens/tablens-cli/internal/logger"
	"github.com/tablens/tablens-cli/internal/normaliser"
)

// Ensure Watcher implements the interface.
var _ driven.ContentSource = (*Watcher)(nil)

var (
	snapshotPattern  = regexp.MustCompile(`^tab-(\d+)-(\d+)\.json$`)
	tombstonePattern = regexp.MustCompile(`^tab-(\d+)\.removed$`)
)

// Watcher is a ContentSource backed by a spool directory.
type Watcher struct {
	dir     string
	events  chan driven.TabEvent
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a watcher over the given spool directory. The
// directory is created if missing.
func NewWatcher(dir string) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("spool directory required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}
	return &Watcher{
		dir:    dir,
		events: make(chan driven.TabEvent, 64),
	}, nil
}

// Start begins watching. Files already present in the spool are replayed
// in sequence order before live events flow.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("spool watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.watcher = fsw
	w.started = true

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go w.run(ctx)
	logger.Debug("spool: watching %s", w.dir)
	return nil
}

// run replays the backlog then streams filesystem events until cancelled.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	w.replayBacklog(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// The host writes to a temp name and renames into place, so a
			// Create or Rename is a complete file.
			if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.consumeFile(ctx, ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("spool: watch error: %v", err)
		}
	}
}

// replayBacklog consumes files that were spooled before Start, oldest
// sequence first so a tab's snapshots apply in write order.
func (w *Watcher) replayBacklog(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logger.Warn("spool: reading backlog: %v", err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(a, b int) bool {
		return spoolOrder(names[a]) < spoolOrder(names[b])
	})
	for _, name := range names {
		w.consumeFile(ctx, filepath.Join(w.dir, name))
	}
}

// spoolOrder extracts the write sequence from a snapshot name; tombstones
// sort last so a removal never precedes the snapshots it supersedes.
func spoolOrder(name string) int64 {
	if m := snapshotPattern.FindStringSubmatch(name); m != nil {
		seq, _ := strconv.ParseInt(m[2], 10, 64)
		return seq
	}
	return 1<<63 - 1
}

// consumeFile parses one spool file, emits its event and deletes it.
// Malformed files are deleted and logged; one bad snapshot must not wedge
// the spool.
func (w *Watcher) consumeFile(ctx context.Context, path string) {
	name := filepath.Base(path)

	var event driven.TabEvent
	switch {
	case snapshotPattern.MatchString(name):
		content, err := w.readSnapshot(path)
		if err != nil {
			logger.Warn("spool: dropping malformed snapshot %s: %v", name, err)
			os.Remove(path)
			return
		}
		event = driven.TabEvent{Kind: driven.TabEventContent, TabID: content.TabID, Content: content}
	case tombstonePattern.MatchString(name):
		m := tombstonePattern.FindStringSubmatch(name)
		tabID, err := strconv.Atoi(m[1])
		if err != nil {
			os.Remove(path)
			return
		}
		event = driven.TabEvent{Kind: driven.TabEventRemoved, TabID: tabID}
	default:
		return // not a spool file
	}

	os.Remove(path)

	select {
	case w.events <- event:
	case <-ctx.Done():
	}
}

// snapshot is the wire format of one spooled content file.
type snapshot struct {
	TabID int    `json:"tab_id"`
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (w *Watcher) readSnapshot(path string) (*domain.TabContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap.TabID < 0 {
		return nil, fmt.Errorf("invalid tab id %d", snap.TabID)
	}
	// Extension-side extraction is best effort; clean up before indexing.
	return &domain.TabContent{
		TabID: snap.TabID,
		URL:   snap.URL,
		Title: normaliser.CleanTitle(snap.Title),
		Text:  normaliser.CleanText(snap.Text),
	}, nil
}

// Events is the delivery channel.
func (w *Watcher) Events() <-chan driven.TabEvent {
	return w.events
}

// Close stops delivery and releases the filesystem watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil
	}
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	w.started = false
	return err
}
