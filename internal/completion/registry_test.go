// ABOUTME: Tests for the completion token registry.
// ABOUTME: Covers at-most-once completion, unknown tokens, listeners, concurrency.

package completion

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateNotCompleted(t *testing.T) {
	r := NewRegistry(nil)

	token := r.Create()

	assert.False(t, r.IsCompleted(token))
	assert.Equal(t, 1, r.ActiveCount())
}

func TestRegistry_SignalCompletion(t *testing.T) {
	r := NewRegistry(nil)

	token := r.Create()
	require.NoError(t, r.SignalCompletion(token))

	assert.True(t, r.IsCompleted(token))
	assert.Equal(t, 0, r.ActiveCount())
}

func TestRegistry_DoubleCompletionFails(t *testing.T) {
	r := NewRegistry(nil)

	token := r.Create()
	require.NoError(t, r.SignalCompletion(token))

	err := r.SignalCompletion(token)
	require.Error(t, err)

	var ownErr *OwnershipError
	require.ErrorAs(t, err, &ownErr)
	assert.Equal(t, token, ownErr.Token)
	assert.True(t, ownErr.AlreadyCompleted)

	// Still completed after the failed second signal
	assert.True(t, r.IsCompleted(token))
}

func TestRegistry_UnknownTokenFails(t *testing.T) {
	r := NewRegistry(nil)

	err := r.SignalCompletion(Token("nonexistent-id"))
	require.Error(t, err)

	var ownErr *OwnershipError
	require.ErrorAs(t, err, &ownErr)
	assert.False(t, ownErr.AlreadyCompleted)
}

func TestRegistry_IsCompletedUnknownToken(t *testing.T) {
	r := NewRegistry(nil)

	// Query, not validation: unknown tokens report false, no error
	assert.False(t, r.IsCompleted(Token("never-created")))
}

func TestRegistry_TokensAreIndependent(t *testing.T) {
	r := NewRegistry(nil)

	t1 := r.Create()
	t2 := r.Create()
	require.NotEqual(t, t1, t2)

	require.NoError(t, r.SignalCompletion(t1))

	assert.True(t, r.IsCompleted(t1))
	assert.False(t, r.IsCompleted(t2))
	assert.Equal(t, 1, r.ActiveCount())
}

func TestRegistry_ListenerInvokedOnCompletion(t *testing.T) {
	r := NewRegistry(nil)

	var notified []Token
	r.OnCompletion(func(token Token) {
		notified = append(notified, token)
	})

	token := r.Create()
	require.NoError(t, r.SignalCompletion(token))

	require.Len(t, notified, 1)
	assert.Equal(t, token, notified[0])
}

func TestRegistry_ListenerNotInvokedOnFailedSignal(t *testing.T) {
	r := NewRegistry(nil)

	calls := 0
	r.OnCompletion(func(Token) { calls++ })

	token := r.Create()
	require.NoError(t, r.SignalCompletion(token))
	require.Error(t, r.SignalCompletion(token))

	assert.Equal(t, 1, calls)
}

func TestRegistry_PanickingListenerDoesNotCorruptState(t *testing.T) {
	r := NewRegistry(nil)

	r.OnCompletion(func(Token) { panic("broken listener") })

	second := 0
	r.OnCompletion(func(Token) { second++ })

	token := r.Create()
	require.NoError(t, r.SignalCompletion(token))

	// Registry state survived and the next listener still ran
	assert.True(t, r.IsCompleted(token))
	assert.Equal(t, 1, second)

	// And the at-most-once guarantee still holds
	err := r.SignalCompletion(token)
	var ownErr *OwnershipError
	require.True(t, errors.As(err, &ownErr))
}

func TestRegistry_ConcurrentWorkflows(t *testing.T) {
	r := NewRegistry(nil)

	const workers = 50

	completions := make(map[Token]int)
	var notifyMu sync.Mutex
	r.OnCompletion(func(token Token) {
		notifyMu.Lock()
		completions[token]++
		notifyMu.Unlock()
	})

	tokens := make([]Token, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := r.Create()
			tokens[i] = token
			errs[i] = r.SignalCompletion(token)
		}(i)
	}
	wg.Wait()

	// Every workflow's own completion succeeded exactly once, with no
	// cross-contamination between tokens.
	seen := make(map[Token]bool)
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.True(t, r.IsCompleted(tokens[i]))
		assert.False(t, seen[tokens[i]], "duplicate token minted")
		seen[tokens[i]] = true
		assert.Equal(t, 1, completions[tokens[i]])
	}
	assert.Equal(t, 0, r.ActiveCount())
}

func TestRegistry_ConcurrentDoubleSignalOnlyOneWins(t *testing.T) {
	r := NewRegistry(nil)

	token := r.Create()

	const racers = 16
	results := make(chan error, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.SignalCompletion(token)
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			var ownErr *OwnershipError
			require.ErrorAs(t, err, &ownErr)
		}
	}
	assert.Equal(t, 1, succeeded)
}
