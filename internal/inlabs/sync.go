// Package inlabs ingests official-gazette (DOU) editions published through
// the INLABS portal: one zip of XML articles per date and section.
package inlabs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/reconcile"
	"github.com/yourorg/procurement-sync/internal/records"
	"github.com/yourorg/procurement-sync/internal/storage"
)

// DefaultSections are the gazette sections synced when none are named.
var DefaultSections = []string{"DO1", "DO2", "DO3"}

type Stores struct {
	Articles reconcile.Store[records.ArticleKey, records.Article]
	Scope    reconcile.Scope
}

// DryRunStores wraps stores so article upserts only look rows up.
func DryRunStores(s Stores) Stores {
	return Stores{Articles: reconcile.DryRun(s.Articles), Scope: reconcile.NoScope{}}
}

type SectionResult struct {
	Section   string `json:"section"`
	Published bool   `json:"published"`
	Archived  string `json:"archived,omitempty"`
	Processed int    `json:"processed"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Skipped   int    `json:"skipped"`
}

type EditionResult struct {
	Date     time.Time       `json:"date"`
	Sections []SectionResult `json:"sections"`
	Errors   []string        `json:"errors,omitempty"`
}

// Articles totals the reconciled articles across sections.
func (r EditionResult) Articles() int {
	n := 0
	for _, s := range r.Sections {
		n += s.Processed
	}
	return n
}

type Syncer struct {
	fetcher Fetcher
	stores  Stores
	archive storage.ObjectStore
	prefix  string
	log     *zap.Logger
}

type Option func(*Syncer)

// WithArchive stores each downloaded bundle under prefix before parsing.
func WithArchive(store storage.ObjectStore, prefix string) Option {
	return func(s *Syncer) {
		if prefix != "" {
			s.archive, s.prefix = store, prefix
		}
	}
}

func New(f Fetcher, stores Stores, log *zap.Logger, opts ...Option) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	if stores.Scope == nil {
		stores.Scope = reconcile.NoScope{}
	}
	s := &Syncer{fetcher: f, stores: stores, log: log.With(zap.String("pipeline", pipeline))}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SyncEdition downloads, archives and reconciles each section of the
// edition published on date. An unpublished section yields zero articles.
// Sections fail independently; their errors are joined in the return value.
func (s *Syncer) SyncEdition(ctx context.Context, date time.Time, sections ...string) (EditionResult, error) {
	if len(sections) == 0 {
		sections = DefaultSections
	}
	res := EditionResult{Date: date}
	var errs []error
	for _, sec := range sections {
		sec = strings.ToUpper(strings.TrimSpace(sec))
		sr, err := s.syncSection(ctx, date, sec)
		res.Sections = append(res.Sections, sr)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", sec, err))
			errs = append(errs, fmt.Errorf("section %s: %w", sec, err))
		}
	}
	s.log.Info("edition synced", zap.String("date", date.Format(dateLayout)),
		zap.Int("articles", res.Articles()), zap.Int("errors", len(res.Errors)))
	return res, errors.Join(errs...)
}

func (s *Syncer) syncSection(ctx context.Context, date time.Time, section string) (SectionResult, error) {
	out := SectionResult{Section: section}
	log := s.log.With(zap.String("date", date.Format(dateLayout)), zap.String("section", section))
	bundle, err := s.fetcher.FetchEdition(ctx, date, section)
	if errors.Is(err, ErrNotPublished) {
		log.Info("section not published")
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.Published = true

	if s.archive != nil {
		uri := storage.Join(s.prefix, "inlabs", date.Format(dateLayout), section+".zip")
		if out.Archived, err = s.archive.Put(ctx, uri, bytes.NewReader(bundle)); err != nil {
			log.Warn("archive failed", zap.String("uri", uri), zap.Error(err))
			out.Archived = ""
		}
	}

	articles, err := ParseBundle(log, bundle, date, section)
	if err != nil {
		return out, err
	}
	rr, err := reconcile.Reconcile(ctx, s.stores.Articles, articles,
		func(a records.Article) records.ArticleKey { return a.Key },
		reconcile.Options{Entity: "dou_article", Scope: s.stores.Scope, Log: log})
	out.Processed, out.Created, out.Updated, out.Skipped = rr.Processed, rr.Created, rr.Updated, rr.Skipped
	return out, err
}
