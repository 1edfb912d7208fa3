// Package migrations applies idempotent, one-shot schema changes to the
// column store, in the fixed order they're declared, skipping migrations
// already recorded as applied. Adapted from migrations/migrations.go's
// Migration{Name, Up}/Migrator{Migrations}/Apply pattern: the dbutils
// bucket-rename idiom and stages-progress checkpoint are replaced by this
// module's kv.Column set and ChainHead checkpoint respectively.
//
// Idempotency is expected of every Up function. The established pattern
// for renaming a column: add a numbered suffix to the old kv.Column
// constant, introduce the new constant under the original name, migrate
// rows across, and only then stop referencing the old constant - never
// delete a column in the same release that stops writing to it.
package migrations

import (
	"fmt"

	"github.com/ledgerwatch/starksync/kv"
	"github.com/ledgerwatch/starksync/log"
)

// migrations apply sequentially in order of this array; skips migrations
// already recorded as applied, so merges across branches never conflict
// on migration order as long as each entry's Name is unique.
var migrations = []Migration{}

// Migration is a single named, idempotent schema change.
type Migration struct {
	Name string
	Up   func(db kv.Database) error
}

// NewMigrator builds a Migrator over the fixed migration list.
func NewMigrator() *Migrator {
	return &Migrator{Migrations: migrations}
}

// Migrator tracks and applies the module's schema migrations.
type Migrator struct {
	Migrations []Migration
}

// Apply runs every migration not yet recorded in kv.Migrations, in
// order, recording each as applied immediately after it succeeds.
func (m *Migrator) Apply(db kv.Database) error {
	if len(m.Migrations) == 0 {
		return nil
	}

	applied := map[string]bool{}
	it := db.IteratorPrefix(kv.Migrations, nil)
	for it.Next() {
		applied[string(it.Key())] = true
	}
	if err := it.Err(); err != nil {
		it.Close()
		return err
	}
	it.Close()

	for _, mig := range m.Migrations {
		if applied[mig.Name] {
			continue
		}
		log.Info("applying migration", "name", mig.Name)
		if err := mig.Up(db); err != nil {
			return fmt.Errorf("migration %q failed: %w", mig.Name, err)
		}
		if err := db.Put(kv.Migrations, []byte(mig.Name), []byte{1}); err != nil {
			return fmt.Errorf("migration %q: recording applied: %w", mig.Name, err)
		}
		log.Info("applied migration", "name", mig.Name)
	}
	return nil
}
