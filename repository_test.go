package ruleswp_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ezachrisen/ruleswp"
	"github.com/matryer/is"
	"go.uber.org/goleak"
)

// countingLoader builds a one-rule set for any name except "missing", and
// waits for release before returning.
type countingLoader struct {
	calls   atomic.Int64
	release chan struct{}
	fail    atomic.Bool
}

func (l *countingLoader) Load(ctx context.Context, name string) (*ruleswp.RuleSet, error) {
	l.calls.Add(1)
	if l.release != nil {
		<-l.release
	}
	if name == "missing" {
		return nil, fmt.Errorf("%w: %s", ruleswp.ErrRuleSetNotFound, name)
	}
	if l.fail.Load() {
		return nil, errors.New("source unavailable")
	}
	return ruleswp.NewRuleSet(name, &ruleswp.Rule{ID: "r", Condition: ruleswp.Always})
}

func TestRepository_LoadsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	is := is.New(t)

	loader := &countingLoader{release: make(chan struct{})}
	repo, err := ruleswp.NewRepository(loader)
	is.NoErr(err)
	defer repo.Close()

	const callers = 50
	var wg sync.WaitGroup
	results := make([]*ruleswp.RuleSet, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = repo.RuleSet(context.Background(), "tax-v1")
		}()
	}

	// Let the callers pile up on the flight before releasing the load
	time.Sleep(50 * time.Millisecond)
	close(loader.release)
	wg.Wait()

	for i := range callers {
		is.NoErr(errs[i])
		is.True(results[i] == results[0])
	}
	is.Equal(loader.calls.Load(), int64(1))
	is.Equal(repo.Loads(), int64(1))

	// Served from the cache from now on
	rs, err := repo.RuleSet(context.Background(), "tax-v1")
	is.NoErr(err)
	is.True(rs == results[0])
	is.Equal(loader.calls.Load(), int64(1))
	is.Equal(repo.Names(), []string{"tax-v1"})
}

func TestRepository_FailuresNotCached(t *testing.T) {
	is := is.New(t)

	loader := &countingLoader{}
	repo, err := ruleswp.NewRepository(loader)
	is.NoErr(err)

	_, err = repo.RuleSet(context.Background(), "missing")
	is.True(errors.Is(err, ruleswp.ErrRuleSetNotFound))
	_, err = repo.RuleSet(context.Background(), "missing")
	is.True(errors.Is(err, ruleswp.ErrRuleSetNotFound))
	is.Equal(loader.calls.Load(), int64(2))

	loader.fail.Store(true)
	_, err = repo.RuleSet(context.Background(), "flaky")
	is.True(err != nil)

	loader.fail.Store(false)
	rs, err := repo.RuleSet(context.Background(), "flaky")
	is.NoErr(err)
	is.Equal(rs.Name, "flaky")
	is.Equal(repo.Names(), []string{"flaky"})
}

func TestRepository_CallerCanceled(t *testing.T) {
	is := is.New(t)

	loader := &countingLoader{release: make(chan struct{})}
	repo, err := ruleswp.NewRepository(loader)
	is.NoErr(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = repo.RuleSet(ctx, "tax-v1")
	is.True(errors.Is(err, context.Canceled))

	// The load carries on for the next caller
	close(loader.release)
	rs, err := repo.RuleSet(context.Background(), "tax-v1")
	is.NoErr(err)
	is.Equal(rs.Name, "tax-v1")
	is.Equal(loader.calls.Load(), int64(1))
}

func TestRepository_NilRuleSet(t *testing.T) {
	is := is.New(t)

	repo, err := ruleswp.NewRepository(ruleswp.LoaderFunc(func(context.Context, string) (*ruleswp.RuleSet, error) {
		return nil, nil
	}))
	is.NoErr(err)

	_, err = repo.RuleSet(context.Background(), "x")
	is.True(errors.Is(err, ruleswp.ErrRuleSetNotFound))
}

func TestRepository_Options(t *testing.T) {
	is := is.New(t)

	_, err := ruleswp.NewRepository(nil)
	is.True(err != nil)

	_, err = ruleswp.NewRepository(&countingLoader{}, ruleswp.WithExpiry(0, time.Minute))
	is.True(err != nil)
}

func TestRepository_Expiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test in short mode.")
	}
	is := is.New(t)

	loader := &countingLoader{}
	repo, err := ruleswp.NewRepository(loader, ruleswp.WithExpiry(10, time.Second))
	is.NoErr(err)
	defer repo.Close()

	_, err = repo.RuleSet(context.Background(), "tax-v1")
	is.NoErr(err)
	_, err = repo.RuleSet(context.Background(), "tax-v1")
	is.NoErr(err)
	is.Equal(loader.calls.Load(), int64(1))
	is.Equal(repo.Names(), []string{"tax-v1"})

	time.Sleep(2500 * time.Millisecond)

	_, err = repo.RuleSet(context.Background(), "tax-v1")
	is.NoErr(err)
	is.Equal(loader.calls.Load(), int64(2))
}

func TestStaticLoader(t *testing.T) {
	is := is.New(t)

	rs := mustRuleSet("tax-v1", &ruleswp.Rule{ID: "r", Condition: ruleswp.Always})
	repo, err := ruleswp.NewRepository(ruleswp.NewStaticLoader(rs))
	is.NoErr(err)

	got, err := repo.RuleSet(context.Background(), "tax-v1")
	is.NoErr(err)
	is.True(got == rs)

	_, err = repo.RuleSet(context.Background(), "other")
	is.True(errors.Is(err, ruleswp.ErrRuleSetNotFound))

	// Repositories stack
	outer, err := ruleswp.NewRepository(repo)
	is.NoErr(err)
	got, err = outer.RuleSet(context.Background(), "tax-v1")
	is.NoErr(err)
	is.True(got == rs)
}
