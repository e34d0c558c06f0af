package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, b *fakeBrowser, attempts int) (*Fetcher, *Session) {
	t.Helper()
	s, _ := newTestSession(t, b, Config{})
	f, err := NewFetcher(s, FetcherConfig{MaxAttempts: attempts, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)
	return f, s
}

func TestNewFetcherValidation(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, &fakeBrowser{}, Config{})
	_, err := NewFetcher(nil, DefaultFetcherConfig(), nil)
	require.Error(t, err)
	_, err = NewFetcher(s, FetcherConfig{MaxAttempts: 0}, nil)
	require.Error(t, err)
	_, err = NewFetcher(s, FetcherConfig{MaxAttempts: 1, RetryDelay: -time.Second}, nil)
	require.Error(t, err)
}

func TestFetchSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{steps: []step{{html: "<html>ok</html>"}}}
	f, _ := newTestFetcher(t, b, 3)

	doc, err := f.Fetch(context.Background(), "https://example.com/fr/a/1")
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", doc.HTML)
	assert.Equal(t, "https://example.com/fr/a/1", doc.URL)
	assert.Len(t, b.launches, 1)
}

func TestFetchRetriesTransientInPlace(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{steps: []step{
		{navErr: fmt.Errorf("wait ready: %w", ErrTimeout)},
		{navErr: errors.New("net::ERR_CONNECTION_RESET")},
		{html: "<html>third</html>"},
	}}
	f, s := newTestFetcher(t, b, 3)

	doc, err := f.Fetch(context.Background(), "https://example.com/p")
	require.NoError(t, err)
	assert.Equal(t, "<html>third</html>", doc.HTML)
	assert.Len(t, b.navigated, 3)
	assert.Equal(t, 0, s.Restarts(), "transient failures must not replace the session")
	assert.Equal(t, 0, b.closed)
}

func TestFetchSessionDeadThenSuccessIsTransparent(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{steps: []step{
		{navErr: fmt.Errorf("invalid session id: %w", ErrSessionDead)},
		{html: "<html>listing</html>"},
	}}
	f, s := newTestFetcher(t, b, 3)

	doc, err := f.Fetch(context.Background(), "https://example.com/fr/a/9")
	require.NoError(t, err)
	assert.Equal(t, "<html>listing</html>", doc.HTML)
	assert.Equal(t, 1, s.Restarts())
	assert.Equal(t, 1, b.closed)
	assert.Len(t, b.launches, 2)
	assert.Equal(t, "session-2", s.ID())
}

func TestFetchDeadDuringDocumentRead(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{steps: []step{
		{docErr: fmt.Errorf("page source: %w", ErrSessionDead)},
		{html: "<html>recovered</html>"},
	}}
	f, s := newTestFetcher(t, b, 3)

	doc, err := f.Fetch(context.Background(), "https://example.com/fr/a/9")
	require.NoError(t, err)
	assert.Equal(t, "<html>recovered</html>", doc.HTML)
	assert.Equal(t, 1, s.Restarts())
}

func TestFetchExhaustsAttempts(t *testing.T) {
	t.Parallel()

	timeout := fmt.Errorf("navigate: %w", ErrTimeout)
	b := &fakeBrowser{steps: []step{{navErr: timeout}, {navErr: timeout}, {navErr: timeout}, {html: "late"}}}
	f, _ := newTestFetcher(t, b, 3)

	_, err := f.Fetch(context.Background(), "https://example.com/p:7")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnrecoverable)
	assert.ErrorIs(t, err, ErrTimeout)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, ClassTransient, fe.Class)
	assert.Len(t, b.navigated, 3)
}

func TestFetchPermanentIsNotRetried(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{steps: []step{{navErr: fmt.Errorf("status 404: %w", ErrPermanent)}}}
	f, _ := newTestFetcher(t, b, 3)

	_, err := f.Fetch(context.Background(), "https://example.com/gone")
	require.ErrorIs(t, err, ErrUnrecoverable)
	assert.Len(t, b.navigated, 1)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ClassUnrecoverable, fe.Class)
	assert.Contains(t, fe.Error(), "last unrecoverable")
}

func TestFetchRecoversFromLaunchFailure(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{launchErr: []error{errors.New("chrome crashed on start")}}
	f, _ := newTestFetcher(t, b, 3)

	doc, err := f.Fetch(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Contains(t, doc.HTML, "https://example.com/a")
}

func TestFetchCanceledContextIsNotRetried(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{}
	f, _ := newTestFetcher(t, b, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, "https://example.com/a")
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnrecoverable)
}

func TestFetchDeadOnFinalAttemptDefersRelaunch(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{steps: []step{{navErr: fmt.Errorf("target closed: %w", ErrSessionDead)}}}
	s, pauser := newTestSession(t, b, Config{RestartCooldown: 3 * time.Second})
	f, err := NewFetcher(s, FetcherConfig{MaxAttempts: 1}, nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "https://example.com/fr/a/1")
	require.ErrorIs(t, err, ErrUnrecoverable)
	assert.Len(t, b.launches, 1, "no replacement is launched when no retry follows")
	assert.Equal(t, 1, b.closed)
	assert.Empty(t, pauser.delays)
	assert.Equal(t, 0, s.Restarts())

	doc, err := f.Fetch(context.Background(), "https://example.com/fr/a/2")
	require.NoError(t, err)
	assert.Contains(t, doc.HTML, "/fr/a/2")
	assert.Len(t, b.launches, 2)
	assert.Equal(t, []time.Duration{3 * time.Second}, pauser.delays)
	assert.Equal(t, 1, s.Restarts())
}
