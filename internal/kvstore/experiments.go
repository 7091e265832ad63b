package kvstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
)

// Bucket is an experiment arm.
type Bucket string

const (
	BucketControl Bucket = "control"
	BucketTest    Bucket = "test"
)

// ErrAlreadyAssigned is returned when assigning an experiment twice.
var ErrAlreadyAssigned = errors.New("kvstore: experiment already assigned")

// Experiments assigns experiment buckets once and remembers them.
type Experiments struct {
	store *Store
	roll  func() int
}

// ExperimentsOption configures Experiments.
type ExperimentsOption func(*Experiments)

// WithRoll replaces the random roll. roll must return a value in [0, 100).
func WithRoll(roll func() int) ExperimentsOption {
	return func(e *Experiments) { e.roll = roll }
}

// NewExperiments creates an experiment registry over store.
func NewExperiments(store *Store, opts ...ExperimentsOption) *Experiments {
	e := &Experiments{
		store: store,
		roll:  func() int { return rand.IntN(100) },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func experimentKey(name string) string { return "experiment." + name }

// BucketFor returns the stored bucket of an experiment.
func (e *Experiments) BucketFor(ctx context.Context, name string) (Bucket, bool, error) {
	b, err := Load[Bucket](ctx, e.store, experimentKey(name))
	switch {
	case errors.Is(err, ErrNotFound):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return b, true, nil
}

// DetermineBucket assigns the experiment: percentage of callers land in
// BucketTest, the rest in BucketControl. The assignment is persisted and
// a second call fails with ErrAlreadyAssigned.
func (e *Experiments) DetermineBucket(ctx context.Context, name string, percentage int) (Bucket, error) {
	if percentage < 0 || percentage > 100 {
		return "", fmt.Errorf("experiment %s: percentage %d out of range", name, percentage)
	}
	if _, ok, err := e.BucketFor(ctx, name); err != nil {
		return "", err
	} else if ok {
		return "", fmt.Errorf("%w: %s", ErrAlreadyAssigned, name)
	}

	bucket := BucketControl
	if e.roll() < percentage {
		bucket = BucketTest
	}
	if err := e.store.Save(ctx, experimentKey(name), bucket); err != nil {
		return "", err
	}
	return bucket, nil
}

// Reset forgets an experiment's assignment.
func (e *Experiments) Reset(ctx context.Context, name string) error {
	return e.store.Remove(ctx, experimentKey(name))
}
