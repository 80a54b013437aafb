package driven

import (
	"context"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

// TabEventKind discriminates tab lifecycle events.
type TabEventKind string

const (
	// TabEventContent carries new or changed extracted content.
	TabEventContent TabEventKind = "content"

	// TabEventRemoved signals the tab closed or navigated away.
	TabEventRemoved TabEventKind = "removed"
)

// TabEvent is one push from the content-extraction bridge.
type TabEvent struct {
	Kind TabEventKind

	// TabID is always set.
	TabID int

	// Content is set for TabEventContent.
	Content *domain.TabContent
}

// ContentSource delivers tab content and lifecycle events. The content
// indexer treats it as a push source; how the events reach the process
// (native messaging spool, socket, test fixture) is an adapter concern.
type ContentSource interface {
	// Start begins delivery. It returns once the source is watching;
	// events arrive on Events until ctx is cancelled or Close is called.
	Start(ctx context.Context) error

	// Events is the delivery channel. It is closed when the source stops.
	Events() <-chan TabEvent

	// Close stops delivery and releases resources.
	Close() error
}
