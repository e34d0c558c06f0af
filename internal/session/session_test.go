package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step scripts one Navigate call of a fakeDriver.
type step struct {
	navErr error
	docErr error
	html   string
}

// fakeBrowser hands out drivers that share one scripted sequence of steps,
// so the script survives session replacement.
type fakeBrowser struct {
	mu        sync.Mutex
	steps     []step
	launches  []LaunchOptions
	launchErr []error
	closed    int
	navigated []string
}

func (b *fakeBrowser) Launch(_ context.Context, opts LaunchOptions) (Driver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launches = append(b.launches, opts)
	if len(b.launchErr) > 0 {
		err := b.launchErr[0]
		b.launchErr = b.launchErr[1:]
		if err != nil {
			return nil, err
		}
	}
	return &fakeDriver{browser: b}, nil
}

type fakeDriver struct {
	browser *fakeBrowser
	current step
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	b := d.browser
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navigated = append(b.navigated, url)
	if len(b.steps) == 0 {
		d.current = step{html: "<html>" + url + "</html>"}
		return nil
	}
	d.current = b.steps[0]
	b.steps = b.steps[1:]
	return d.current.navErr
}

func (d *fakeDriver) Document(context.Context) (string, error) {
	return d.current.html, d.current.docErr
}

func (d *fakeDriver) Close() error {
	d.browser.mu.Lock()
	defer d.browser.mu.Unlock()
	d.browser.closed++
	return nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("session-%d", g.n), nil
}

type recordingPauser struct {
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.delays = append(p.delays, d)
}

func newTestSession(t *testing.T, b *fakeBrowser, cfg Config) (*Session, *recordingPauser) {
	t.Helper()
	s, err := New(b, cfg, &seqIDs{}, nil)
	require.NoError(t, err)
	p := &recordingPauser{}
	s.pauser = p
	return s, p
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{}, &seqIDs{}, nil)
	require.Error(t, err)
	_, err = New(&fakeBrowser{}, Config{}, nil, nil)
	require.Error(t, err)
	_, err = New(&fakeBrowser{}, Config{RestartCooldown: -time.Second}, &seqIDs{}, nil)
	require.Error(t, err)
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{}
	s, _ := newTestSession(t, b, Config{})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.Len(t, b.launches, 1)
	assert.Equal(t, "session-1", s.ID())
}

func TestReplaceClosesWaitsAndRotatesIdentity(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{}
	s, pauser := newTestSession(t, b, Config{
		RestartCooldown: 4 * time.Second,
		UserAgents:      []string{"ua-1", "ua-2"},
	})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Replace(context.Background(), "scheduled"))
	require.NoError(t, s.Replace(context.Background(), "scheduled"))

	assert.Equal(t, 2, b.closed)
	assert.Equal(t, []time.Duration{4 * time.Second, 4 * time.Second}, pauser.delays)
	require.Len(t, b.launches, 3)
	assert.Equal(t, "ua-1", b.launches[0].UserAgent)
	assert.Equal(t, "ua-2", b.launches[1].UserAgent)
	assert.Equal(t, "ua-1", b.launches[2].UserAgent)
	assert.Equal(t, "session-3", s.ID())
	assert.Equal(t, 2, s.Restarts())
}

func TestReplaceWithoutLiveDriver(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{}
	s, _ := newTestSession(t, b, Config{})
	require.NoError(t, s.Replace(context.Background(), ReasonSessionDead))
	assert.Equal(t, 0, b.closed)
	assert.Len(t, b.launches, 1)
}

func TestReplaceHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{}
	s, _ := newTestSession(t, b, Config{})
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Replace(ctx, "scheduled")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "", s.ID())
	assert.Equal(t, 0, s.Restarts())
}

func TestReplaceLaunchFailure(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{launchErr: []error{nil, errors.New("chrome missing")}}
	s, _ := newTestSession(t, b, Config{})
	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Replace(context.Background(), "scheduled"))

	// The next Driver call starts a fresh handle.
	drv, err := s.Driver(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, drv)
}

func TestTimerPauseControllerHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	timerPauseController{}.Pause(ctx, 5*time.Second)
	require.Less(t, time.Since(start), time.Second, "pause should exit immediately when context is done")
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ClassOK, Classify(nil))
	assert.Equal(t, ClassSessionDead, Classify(fmt.Errorf("navigate: %w", ErrSessionDead)))
	assert.Equal(t, ClassTransient, Classify(fmt.Errorf("navigate: %w", ErrTimeout)))
	assert.Equal(t, ClassTransient, Classify(errors.New("net::ERR_CONNECTION_RESET")))
	assert.Equal(t, ClassUnrecoverable, Classify(fmt.Errorf("status 404: %w", ErrPermanent)))
	assert.Equal(t, "session_dead", ClassSessionDead.String())
}

func TestDiscardDefersReplacement(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{}
	s, pauser := newTestSession(t, b, Config{RestartCooldown: time.Second})
	require.NoError(t, s.Start(context.Background()))

	s.Discard(ReasonSessionDead)
	assert.Equal(t, 1, b.closed)
	assert.Empty(t, s.ID())
	assert.Len(t, b.launches, 1)

	// Discarding with nothing live changes nothing.
	s.Discard(ReasonSessionDead)
	assert.Equal(t, 1, b.closed)

	_, err := s.Driver(context.Background())
	require.NoError(t, err)
	assert.Len(t, b.launches, 2)
	assert.Equal(t, []time.Duration{time.Second}, pauser.delays)
	assert.Equal(t, 1, s.Restarts())

	// A plain lazy start after that carries no cooldown.
	require.NoError(t, s.Close())
	_, err = s.Driver(context.Background())
	require.NoError(t, err)
	assert.Len(t, pauser.delays, 1)
	assert.Equal(t, 1, s.Restarts())
}
