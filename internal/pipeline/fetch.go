package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"deckgen/internal/storage"
)

const (
	PhaseTemplate = "template"
	PhaseData     = "data"
)

// FetchError reports which input could not be downloaded.
type FetchError struct {
	Phase string
	Key   string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("download %s input %s: %v", e.Phase, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Inputs struct {
	Template []byte
	Data     []byte
}

// FetchInputs downloads the template and the data file concurrently. Either
// failure cancels the other download.
func FetchInputs(ctx context.Context, store storage.Store, templateKey, dataKey string) (*Inputs, error) {
	in := &Inputs{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := store.Download(gctx, templateKey)
		if err != nil {
			return &FetchError{Phase: PhaseTemplate, Key: templateKey, Err: err}
		}
		in.Template = data
		return nil
	})
	g.Go(func() error {
		data, err := store.Download(gctx, dataKey)
		if err != nil {
			return &FetchError{Phase: PhaseData, Key: dataKey, Err: err}
		}
		in.Data = data
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}
