package events

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ContextCache drops cached permission contexts.
type ContextCache interface {
	Invalidate(userID string)
	InvalidateAll()
}

// CatalogReloader reloads role definitions.
type CatalogReloader interface {
	Reload(ctx context.Context) error
}

// Invalidator applies authorization changes locally and forwards them to
// other instances when a Publisher is configured.
type Invalidator struct {
	cache   ContextCache
	catalog CatalogReloader
	pub     Publisher
	log     logrus.FieldLogger
}

// NewInvalidator creates an Invalidator. pub may be nil for a single instance.
func NewInvalidator(cache ContextCache, catalog CatalogReloader, pub Publisher, log logrus.FieldLogger) *Invalidator {
	return &Invalidator{cache: cache, catalog: catalog, pub: pub, log: log}
}

// UserChanged drops userID's cached context here and on every other instance.
func (i *Invalidator) UserChanged(ctx context.Context, userID string) {
	i.cache.Invalidate(userID)
	i.publish(ctx, Message{Kind: KindUser, UserID: userID})
}

// CatalogChanged reloads role definitions here and on every other instance.
func (i *Invalidator) CatalogChanged(ctx context.Context) {
	i.reload(ctx)
	i.publish(ctx, Message{Kind: KindCatalog})
}

// Handle applies a message received from another instance.
func (i *Invalidator) Handle(ctx context.Context, msg Message) {
	switch msg.Kind {
	case KindUser:
		if msg.UserID != "" {
			i.cache.Invalidate(msg.UserID)
		}
	case KindCatalog:
		i.reload(ctx)
	default:
		i.log.WithField("kind", msg.Kind).Warn("unknown invalidation kind")
	}
}

func (i *Invalidator) reload(ctx context.Context) {
	if err := i.catalog.Reload(ctx); err != nil {
		// The previous catalog stays in force.
		i.log.WithError(err).Error("role catalog reload failed")
		i.cache.InvalidateAll()
	}
}

func (i *Invalidator) publish(ctx context.Context, msg Message) {
	if i.pub == nil {
		return
	}
	if err := i.pub.Publish(ctx, msg); err != nil {
		i.log.WithError(err).WithField("kind", msg.Kind).Warn("failed to publish invalidation")
	}
}
