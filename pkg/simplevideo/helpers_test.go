package simplevideo_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-video/pkg/simplevideo"
	computememory "github.com/tendant/simple-video/pkg/simplevideo/compute/memory"
	"github.com/tendant/simple-video/pkg/simplevideo/repo/memory"
	memorystorage "github.com/tendant/simple-video/pkg/simplevideo/storage/memory"
)

const testBucket = "media"

var (
	testSelector = simplevideo.TagSelector{Key: "Name", Value: "video-server"}
	fixedNow     = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

type fixedProber struct {
	duration float64
	err      error

	mu      sync.Mutex
	sources []string
}

func (p *fixedProber) ProbeDuration(ctx context.Context, source string) (float64, error) {
	p.mu.Lock()
	p.sources = append(p.sources, source)
	p.mu.Unlock()
	return p.duration, p.err
}

type fakeFrames struct {
	err   error
	panic bool
	stall bool
}

func (f fakeFrames) ExtractFrame(ctx context.Context, source string, offset time.Duration, width, height int) ([]byte, error) {
	if f.panic {
		panic("decoder crashed")
	}
	if f.stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte{0xff, 0xd8, 0xff, 0xd9}, nil
}

type recordingLocker struct {
	mu       sync.Mutex
	names    []string
	released int
	err      error
}

func (l *recordingLocker) Lock(ctx context.Context, name string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.names = append(l.names, name)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

// failingDeleteRepo keeps records but refuses to delete them
type failingDeleteRepo struct {
	*memory.Repository
}

func (r failingDeleteRepo) DeleteAssetByKey(ctx context.Context, key string) error {
	return errors.New("metadata store unavailable")
}

type fixture struct {
	svc        simplevideo.Service
	repo       *memory.Repository
	store      *memorystorage.Backend
	controller *computememory.Controller
	prober     *fixedProber
}

func newTestSyncer(t *testing.T, controller simplevideo.InstanceController, opts ...simplevideo.SyncerOption) *simplevideo.Syncer {
	t.Helper()
	syncer, err := simplevideo.NewSyncer(controller, simplevideo.SyncerConfig{
		Selector:        testSelector,
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 5,
	}, opts...)
	require.NoError(t, err)
	return syncer
}

// newFixture wires the service over in-memory backends. Extra options are
// applied last so tests can override any default.
func newFixture(t *testing.T, opts ...simplevideo.Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:       memory.New(),
		store:      memorystorage.New(testBucket),
		controller: computememory.New(testSelector, "i-0abc", "203.0.113.5"),
		prober:     &fixedProber{duration: 42.5},
	}
	base := []simplevideo.Option{
		simplevideo.WithRepository(f.repo),
		simplevideo.WithBlobStore(testBucket, f.store),
		simplevideo.WithProber(f.prober),
		simplevideo.WithClock(func() time.Time { return fixedNow }),
	}
	svc, err := simplevideo.New(append(base, opts...)...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func created(key string) simplevideo.StorageRecord {
	return simplevideo.StorageRecord{EventName: "ObjectCreated:Put", Bucket: testBucket, Key: key}
}

func removed(key string) simplevideo.StorageRecord {
	return simplevideo.StorageRecord{EventName: "ObjectRemoved:Delete", Bucket: testBucket, Key: key}
}

func newSyncedFixture(t *testing.T, opts ...simplevideo.Option) *fixture {
	t.Helper()
	controller := computememory.New(testSelector, "i-0abc", "203.0.113.5")
	controller.StopLatency = 2
	syncer := newTestSyncer(t, controller)
	f := newFixture(t, append([]simplevideo.Option{simplevideo.WithDistributor(syncer)}, opts...)...)
	f.controller = controller
	return f
}
