package integration

import (
	"context"
	"log/slog"
	"maps"

	"github.com/srab2001/featuregate/internal/kvstore"
)

// entitiesKey is where the local→remote ID map of an integration is persisted.
func entitiesKey(name string) string {
	return "integration:" + name + ":entities"
}

// loadEntitiesLocked lazily reads the persisted map. Caller holds entitiesMu.
func (i *Integration) loadEntitiesLocked(ctx context.Context) {
	if i.entities != nil {
		return
	}
	stored, _ := kvstore.LoadJSON[map[string]string](ctx, i.opts.Store, entitiesKey(i.name), i.logger)
	if stored == nil {
		stored = make(map[string]string)
	}
	i.entities = stored
}

func (i *Integration) saveEntitiesLocked(ctx context.Context) {
	if err := kvstore.SaveJSON(ctx, i.opts.Store, entitiesKey(i.name), i.entities); err != nil {
		i.logger.Warn("failed to persist synced entities, keeping them in memory",
			slog.String("error", err.Error()),
		)
	}
}

// TrackEntity records that localID was synced to remoteID on the remote side.
func (i *Integration) TrackEntity(ctx context.Context, localID, remoteID string) {
	i.entitiesMu.Lock()
	defer i.entitiesMu.Unlock()
	i.loadEntitiesLocked(ctx)
	i.entities[localID] = remoteID
	i.saveEntitiesLocked(ctx)
}

// RemoteID returns the remote ID localID was synced to.
func (i *Integration) RemoteID(ctx context.Context, localID string) (string, bool) {
	i.entitiesMu.Lock()
	defer i.entitiesMu.Unlock()
	i.loadEntitiesLocked(ctx)
	id, ok := i.entities[localID]
	return id, ok
}

// ForgetEntity drops the mapping for localID.
func (i *Integration) ForgetEntity(ctx context.Context, localID string) {
	i.entitiesMu.Lock()
	defer i.entitiesMu.Unlock()
	i.loadEntitiesLocked(ctx)
	if _, ok := i.entities[localID]; !ok {
		return
	}
	delete(i.entities, localID)
	i.saveEntitiesLocked(ctx)
}

// Entities returns a copy of the synced-entity map.
func (i *Integration) Entities(ctx context.Context) map[string]string {
	i.entitiesMu.Lock()
	defer i.entitiesMu.Unlock()
	i.loadEntitiesLocked(ctx)
	return maps.Clone(i.entities)
}
