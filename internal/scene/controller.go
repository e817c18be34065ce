// Package scene toggles source visibility inside a scene of a remote scene graph
package scene

import (
	"context"
	"log/slog"
)

// Item is one entry in a scene
type Item struct {
	ID         int    `json:"id"`
	SourceName string `json:"source_name"`
	Enabled    bool   `json:"enabled"`
}

// Provider is a session with a scene-control service
type Provider interface {
	// CurrentScene returns the name of the active scene
	CurrentScene(ctx context.Context) (string, error)

	// SceneItems lists the items of a scene
	SceneItems(ctx context.Context, scene string) ([]Item, error)

	// SetItemEnabled shows or hides an item by ID
	SetItemEnabled(ctx context.Context, scene string, id int, enabled bool) error

	// Close ends the session
	Close() error
}

// Controller makes one source visible and another hidden, best effort
type Controller struct {
	provider Provider
	logger   *slog.Logger
}

// NewController creates a controller on top of a provider session
func NewController(provider Provider, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		provider: provider,
		logger:   logger,
	}
}

// Show enables every item named show and disables every item named hide.
// Other items are untouched. Errors are logged, never returned; the result
// reports whether every remote call succeeded.
func (c *Controller) Show(ctx context.Context, scene, show, hide string) bool {
	items, err := c.provider.SceneItems(ctx, scene)
	if err != nil {
		c.logger.Error("failed to list scene items",
			"scene", scene,
			"error", err,
		)
		return false
	}

	ok := true
	for _, item := range items {
		var enabled bool
		switch item.SourceName {
		case show:
			enabled = true
		case hide:
			enabled = false
		default:
			continue
		}

		if err := c.provider.SetItemEnabled(ctx, scene, item.ID, enabled); err != nil {
			c.logger.Error("failed to switch source",
				"scene", scene,
				"source", item.SourceName,
				"item_id", item.ID,
				"enabled", enabled,
				"error", err,
			)
			ok = false
		}
	}

	if ok {
		c.logger.Debug("toggled sources",
			"scene", scene,
			"show", show,
			"hide", hide,
		)
	}
	return ok
}
