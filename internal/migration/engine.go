// Package migration copies a KeePass database into a Bitwarden organization.
package migration

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/nvinuesa/kdbx2bw/internal/bitwarden"
	"github.com/nvinuesa/kdbx2bw/internal/model"
)

// Source lists the entries to migrate. *sources.KeePassSource implements it.
type Source interface {
	Passwords() ([]model.PasswordEntry, error)
}

// Target is the vault entries are written to. *bitwarden.Client implements
// it.
type Target interface {
	Sync(ctx context.Context) error
	CreateCollections(ctx context.Context, orgID string, paths []string) (map[string]string, error)
	CreateItem(ctx context.Context, item bitwarden.Item) (string, error)
	AddAttachment(ctx context.Context, itemID string, a model.Attachment) error
}

// Report summarises a migration run. On failure it covers the work done
// before the error.
type Report struct {
	// Collections maps each collection path to its id. Ids are empty in
	// dry-run mode.
	Collections map[string]string
	Entries     int
	Created     int
	Skipped     int
	Attachments int
	Bytes       uint64
}

// Engine runs a migration.
type Engine struct {
	orgID    string
	source   Source
	target   Target
	rewrites []PathRewrite
	log      *zap.SugaredLogger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPathRewrites sets the collection path rewrites, applied in order.
func WithPathRewrites(rewrites ...PathRewrite) Option {
	return func(e *Engine) {
		e.rewrites = append(e.rewrites, rewrites...)
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// New returns an engine migrating source into the organization orgID of
// target.
func New(orgID string, source Source, target Target, opts ...Option) *Engine {
	e := &Engine{
		orgID:  orgID,
		source: source,
		target: target,
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MigrateCollectionPaths applies the configured rewrites to entries.
func (e *Engine) MigrateCollectionPaths(entries []model.PasswordEntry) []model.PasswordEntry {
	return RewriteCollectionPaths(entries, e.rewrites)
}

// Migrate copies every entry into the target. Collections are created up
// front, then each entry becomes one item followed by its attachments.
// Entries without a title are skipped. The first failure stops the run;
// nothing already created is rolled back.
func (e *Engine) Migrate(ctx context.Context) (*Report, error) {
	report := &Report{Collections: map[string]string{}}

	entries, err := e.source.Passwords()
	if err != nil {
		return report, fmt.Errorf("read entries: %w", err)
	}
	entries = e.MigrateCollectionPaths(entries)
	report.Entries = len(entries)
	paths, err := collectionPaths(entries)
	if err != nil {
		return report, err
	}

	if err := e.target.Sync(ctx); err != nil {
		return report, fmt.Errorf("sync: %w", err)
	}

	e.log.Infof("Migrating %d entries into %d collections", len(entries), len(paths))
	ids, err := e.target.CreateCollections(ctx, e.orgID, paths)
	for path, id := range ids {
		report.Collections[path] = id
	}
	if err != nil {
		return report, fmt.Errorf("create collections: %w", err)
	}

	for _, pe := range entries {
		item := ConvertToTarget(e.orgID, ids[pe.CollectionPath], pe.Entry)
		if item.Name == "" {
			e.log.Warnf("Skipping entry %s in %s: empty title", pe.Entry.ID, pe.CollectionPath)
			report.Skipped++
			continue
		}

		e.log.Debugf("Migrating %s/%s", pe.CollectionPath, item.Name)
		itemID, err := e.target.CreateItem(ctx, item)
		if err != nil {
			return report, fmt.Errorf("create item %q: %w", item.Name, err)
		}
		report.Created++

		for _, a := range Attachments(pe.Entry) {
			if err := e.target.AddAttachment(ctx, itemID, a); err != nil {
				return report, fmt.Errorf("attach %q to %q: %w", a.Filename, item.Name, err)
			}
			report.Attachments++
			report.Bytes += uint64(len(a.Data))
		}
	}

	if err := e.target.Sync(ctx); err != nil {
		return report, fmt.Errorf("sync: %w", err)
	}

	e.log.Infof("Migrated %d items (%d skipped), %d attachments (%s)",
		report.Created, report.Skipped, report.Attachments, humanize.Bytes(report.Bytes))
	return report, nil
}
