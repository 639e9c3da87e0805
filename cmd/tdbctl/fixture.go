package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"tdbcore/internal/collection"
	"tdbcore/internal/config"
	"tdbcore/internal/core"
)

// fixtureFile is the on-disk shape a fixture JSON document holds: a map of
// collection id to its rows. Every row must carry the collection's key
// field (default "id").
type fixtureFile map[string][]core.Row

func loadFixtureFile(path string) (fixtureFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	var ff fixtureFile
	if err := json.NewDecoder(f).Decode(&ff); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return ff, nil
}

// buildCollections turns a fixture file into ready, static Collections: a
// driver that loads its rows once, commits, and marks ready, with no
// further syncing — a stand-in for a real sync driver good enough to
// exercise the query engine and optimistic mutation layer offline.
func buildCollections(ctx context.Context, ff fixtureFile, cfg config.Config) (map[string]*collection.Collection, error) {
	out := make(map[string]*collection.Collection, len(ff))
	for id, rows := range ff {
		rows := rows
		driver := func(ctx context.Context, sc *collection.SyncContext) (func(), error) {
			sc.Begin()
			for _, r := range rows {
				if err := sc.Write(collection.WriteOp{Type: core.Insert, Value: r}); err != nil {
					return nil, err
				}
			}
			if err := sc.Commit(); err != nil {
				return nil, err
			}
			sc.MarkReady()
			return func() {}, nil
		}
		c := collection.New(id, idKeyFunc, driver, cfg.Collection, nil)
		if err := c.Preload(ctx); err != nil {
			return nil, fmt.Errorf("preload collection %q: %w", id, err)
		}
		out[id] = c
	}
	return out, nil
}

func idKeyFunc(r core.Row) (core.Key, error) {
	return core.NormalizeKey(r["id"])
}
