package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"
	"novel-engine/internal/story"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingContent struct {
	interfaces.ContentRepository
	mu    sync.Mutex
	loads int
	graph *story.Graph
}

func (c *countingContent) LoadStory(ctx context.Context, code string) (*story.Graph, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	if c.graph == nil || c.graph.Code != code {
		return nil, models.ErrStoryNotFound
	}
	return c.graph, nil
}

type memoryCache struct {
	mu          sync.Mutex
	graphs      map[string]*story.Graph
	deleted     []string
	failGet     bool
	subscribers []func(code string)
	subscribed  chan struct{}
}

func newMemoryCache() *memoryCache {
	return &memoryCache{graphs: map[string]*story.Graph{}, subscribed: make(chan struct{}, 8)}
}

func (m *memoryCache) Get(ctx context.Context, code string) (*story.Graph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, errors.New("redis down")
	}
	return m.graphs[code], nil
}

func (m *memoryCache) Set(ctx context.Context, g *story.Graph) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphs[g.Code] = g
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, code string) error {
	m.mu.Lock()
	delete(m.graphs, code)
	m.deleted = append(m.deleted, code)
	subscribers := append([]func(string){}, m.subscribers...)
	m.mu.Unlock()
	for _, fn := range subscribers {
		fn(code)
	}
	return nil
}

func (m *memoryCache) Subscribe(ctx context.Context, onInvalidate func(code string)) error {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, onInvalidate)
	m.mu.Unlock()
	m.subscribed <- struct{}{}
	<-ctx.Done()
	return nil
}

func loadFixture(t *testing.T) *story.Graph {
	t.Helper()
	g, err := story.LoadFile("testdata/loop_story.yaml")
	require.NoError(t, err)
	return g
}

func TestStoryProvider_LocalCache(t *testing.T) {
	content := &countingContent{graph: loadFixture(t)}
	p := NewStoryProvider(content, nil, time.Minute, zap.NewNop()).(*storyProvider)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	for range 3 {
		g, err := p.Story(context.Background(), "loop_story")
		require.NoError(t, err)
		assert.Equal(t, "hub", g.StartScene)
	}
	assert.Equal(t, 1, content.loads)

	now = now.Add(2 * time.Minute)
	_, err := p.Story(context.Background(), "loop_story")
	require.NoError(t, err)
	assert.Equal(t, 2, content.loads, "expired entry must be reloaded")

	p.Invalidate(context.Background(), "loop_story")
	_, err = p.Story(context.Background(), "loop_story")
	require.NoError(t, err)
	assert.Equal(t, 3, content.loads)

	_, err = p.Story(context.Background(), "other")
	assert.ErrorIs(t, err, models.ErrStoryNotFound)
}

func TestStoryProvider_SharedCache(t *testing.T) {
	g := loadFixture(t)
	content := &countingContent{graph: g}
	shared := newMemoryCache()

	first := NewStoryProvider(content, shared, time.Minute, zap.NewNop())
	_, err := first.Story(context.Background(), "loop_story")
	require.NoError(t, err)
	assert.Contains(t, shared.graphs, "loop_story")

	second := NewStoryProvider(content, shared, time.Minute, zap.NewNop())
	_, err = second.Story(context.Background(), "loop_story")
	require.NoError(t, err)
	assert.Equal(t, 1, content.loads, "second instance must be served by the shared cache")

	second.Invalidate(context.Background(), "loop_story")
	assert.Equal(t, []string{"loop_story"}, shared.deleted)

	t.Run("Shared cache failure falls back to storage", func(t *testing.T) {
		shared.mu.Lock()
		shared.failGet = true
		shared.mu.Unlock()
		third := NewStoryProvider(content, shared, 0, zap.NewNop())
		_, err := third.Story(context.Background(), "loop_story")
		require.NoError(t, err)
		assert.Equal(t, 2, content.loads)
	})
}

type blockingContent struct {
	interfaces.ContentRepository
	once    sync.Once
	started chan struct{}
	release chan struct{}
	graph   *story.Graph
}

func newBlockingContent(g *story.Graph) *blockingContent {
	return &blockingContent{started: make(chan struct{}), release: make(chan struct{}), graph: g}
}

func (b *blockingContent) LoadStory(ctx context.Context, code string) (*story.Graph, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return b.graph, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestStoryProvider_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	content := newBlockingContent(loadFixture(t))
	p := NewStoryProvider(content, nil, time.Minute, zap.NewNop())

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Story(firstCtx, "loop_story")
		firstErr <- err
	}()
	<-content.started

	type result struct {
		graph *story.Graph
		err   error
	}
	second := make(chan result, 1)
	go func() {
		g, err := p.Story(context.Background(), "loop_story")
		second <- result{g, err}
	}()

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, models.ErrStorageUnavailable)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(content.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, "loop_story", res.graph.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not receive the story")
	}
}

func TestStoryProvider_LoadTimeout(t *testing.T) {
	content := newBlockingContent(loadFixture(t))
	p := NewStoryProvider(content, nil, time.Minute, zap.NewNop()).(*storyProvider)
	p.timeout = 20 * time.Millisecond

	_, err := p.Story(context.Background(), "loop_story")
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
}

func TestStoryProvider_WatchDropsRemotelyInvalidatedGraph(t *testing.T) {
	content := &countingContent{graph: loadFixture(t)}
	shared := newMemoryCache()

	server := NewStoryProvider(content, shared, time.Hour, zap.NewNop())
	importer := NewStoryProvider(content, shared, 0, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan error, 1)
	go func() { watchDone <- server.Watch(ctx) }()
	<-shared.subscribed

	_, err := server.Story(context.Background(), "loop_story")
	require.NoError(t, err)
	require.Equal(t, 1, content.loads)

	importer.Invalidate(context.Background(), "loop_story")

	_, err = server.Story(context.Background(), "loop_story")
	require.NoError(t, err)
	assert.Equal(t, 2, content.loads, "server must reload after a remote invalidation")

	cancel()
	assert.NoError(t, <-watchDone)

	t.Run("Without shared cache", func(t *testing.T) {
		local := NewStoryProvider(content, nil, time.Hour, zap.NewNop())
		assert.NoError(t, local.Watch(context.Background()))
	})
}
