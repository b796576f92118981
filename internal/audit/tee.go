package audit

import (
	"context"
	"errors"
	"fmt"
)

// Sink receives a copy of every event the primary store accepted.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

type teeStore struct {
	Store
	sinks []Sink
}

// Tee returns a Store that writes to primary and then to every sink. Reads
// are served by primary. A primary failure skips the sinks.
func Tee(primary Store, sinks ...Sink) Store {
	if len(sinks) == 0 {
		return primary
	}
	return &teeStore{Store: primary, sinks: sinks}
}

func (t *teeStore) Append(ctx context.Context, event Event) error {
	if err := t.Store.Append(ctx, event); err != nil {
		return err
	}
	var errs []error
	for _, s := range t.sinks {
		if err := s.Append(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("audit sink: %w", err))
		}
	}
	return errors.Join(errs...)
}
