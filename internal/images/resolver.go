// Package images locates the picture a row names for an image placeholder and
// applies the job's missing-image policy when it cannot be found.
package images

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"deckgen/internal/deck"
	"deckgen/internal/jobs"
	"deckgen/internal/logger"
	"deckgen/internal/storage"
)

// MissingImageError is the row-fatal outcome of a miss under the fail policy.
type MissingImageError struct {
	Variable string
	Value    string
	Err      error
}

func (e *MissingImageError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("image %s: no filename given", e.Variable)
	}
	return fmt.Sprintf("image %s: %q: %v", e.Variable, e.Value, e.Err)
}

func (e *MissingImageError) Unwrap() error { return e.Err }

// Miss describes one lookup that fell through to the policy.
type Miss struct {
	Variable string
	Value    string
	Policy   jobs.MissingImagePolicy
	Err      error
}

// Stats counts resolver outcomes across a job.
type Stats struct {
	Found       int
	Substituted int
	Skipped     int
}

// Resolver is scoped to one job. It is not safe for concurrent use; rows are
// processed one at a time.
type Resolver struct {
	Store      storage.Store
	Policy     jobs.MissingImagePolicy
	OwnerID    string
	TemplateID string
	Log        *logger.Logger

	// OnMiss, when set, is told about every lookup that fell through.
	OnMiss func(Miss)

	stats Stats
}

func NewResolver(store storage.Store, policy jobs.MissingImagePolicy, ownerID, templateID string, log *logger.Logger) *Resolver {
	return &Resolver{
		Store:      store,
		Policy:     policy,
		OwnerID:    ownerID,
		TemplateID: templateID,
		Log:        log.With("component", "images.Resolver"),
	}
}

func (r *Resolver) Stats() Stats { return r.stats }

// Candidates lists the keys tried for a filename, most specific first.
func (r *Resolver) Candidates(filename string) []string {
	return []string{
		storage.Key(r.OwnerID, r.TemplateID, filename),
		storage.Key(r.OwnerID, filename),
		storage.Key(filename),
	}
}

// Resolve satisfies deck.ResolveFunc.
func (r *Resolver) Resolve(ctx context.Context, variable, value string) (deck.Image, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return r.miss(variable, value, storage.ErrNotFound)
	}

	var lastErr error = storage.ErrNotFound
	for _, key := range r.Candidates(value) {
		data, err := r.Store.Download(ctx, key)
		if err == nil {
			if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
				lastErr = fmt.Errorf("%s is %s, not an image", key, mt.String())
				continue
			}
			r.stats.Found++
			r.Log.Debug("image resolved", "variable", variable, "key", key)
			return deck.Image{Data: data}, nil
		}
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if r.Policy == jobs.MissingImageFail {
			return deck.Image{}, &MissingImageError{Variable: variable, Value: value, Err: err}
		}
		r.Log.Warn("image lookup failed", "variable", variable, "key", key, "error", err)
		lastErr = err
		break
	}
	return r.miss(variable, value, lastErr)
}

func (r *Resolver) miss(variable, value string, cause error) (deck.Image, error) {
	m := Miss{Variable: variable, Value: value, Policy: r.Policy, Err: cause}
	switch r.Policy {
	case jobs.MissingImageFail:
		return deck.Image{}, &MissingImageError{Variable: variable, Value: value, Err: cause}
	case jobs.MissingImagePlaceholder:
		data, err := Fallback()
		if err != nil {
			return deck.Image{}, fmt.Errorf("render placeholder image: %w", err)
		}
		r.stats.Substituted++
		r.notify(m)
		return deck.Image{Data: data}, nil
	case jobs.MissingImageSkip:
		r.stats.Skipped++
		r.notify(m)
		return deck.Image{Skip: true}, nil
	default:
		return deck.Image{}, fmt.Errorf("unknown missing image policy %q", r.Policy)
	}
}

func (r *Resolver) notify(m Miss) {
	if r.OnMiss != nil {
		r.OnMiss(m)
	}
}
