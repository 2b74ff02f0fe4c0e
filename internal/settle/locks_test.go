package settle

import (
	"context"
	"errors"
	"testing"
)

func TestLocalLockerExcludesSameRegion(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "region-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "region-1"); !errors.Is(err, ErrRegionBusy) {
		t.Fatalf("expected ErrRegionBusy, got %v", err)
	}

	release()
	release2, err := l.Acquire(ctx, "region-1")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestLocalLockerAllowsDistinctRegions(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	r1, err := l.Acquire(ctx, "region-1")
	if err != nil {
		t.Fatalf("acquire region-1: %v", err)
	}
	defer r1()
	r2, err := l.Acquire(ctx, "region-2")
	if err != nil {
		t.Fatalf("acquire region-2: %v", err)
	}
	defer r2()
}

type recordingLocker struct {
	acquired int
	released int
	err      error
}

func (r *recordingLocker) Acquire(ctx context.Context, regionID string) (func(), error) {
	if r.err != nil {
		return nil, r.err
	}
	r.acquired++
	return func() { r.released++ }, nil
}

func TestChainLockersReleaseOnPartialFailure(t *testing.T) {
	first := &recordingLocker{}
	second := &recordingLocker{err: ErrRegionBusy}

	chain := ChainLockers(first, second)
	if _, err := chain.Acquire(context.Background(), "region-1"); !errors.Is(err, ErrRegionBusy) {
		t.Fatalf("expected ErrRegionBusy, got %v", err)
	}
	if first.acquired != 1 || first.released != 1 {
		t.Fatalf("first lock not rolled back: acquired=%d released=%d", first.acquired, first.released)
	}
}

func TestChainLockersReleaseAll(t *testing.T) {
	first := &recordingLocker{}
	second := &recordingLocker{}

	chain := ChainLockers(first, second)
	release, err := chain.Acquire(context.Background(), "region-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	if first.released != 1 || second.released != 1 {
		t.Fatalf("expected both locks released")
	}
}
