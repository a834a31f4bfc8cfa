package service_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"novel-engine/internal/database/sqlite"
	"novel-engine/internal/models"
	"novel-engine/internal/service"
	"novel-engine/internal/story"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const brokenStory = `
code: broken
start_scene: nowhere
scenes:
  - code: a
    text: {en: A}
    choices:
      - code: go
        leads_to: missing
`

func TestContentService_Import(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "content.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	stories := service.NewStoryProvider(store.Content(), nil, time.Hour, logger)
	svc := service.NewContentService(store.Content(), stories, logger)

	g, err := story.LoadFile("testdata/loop_story.yaml")
	require.NoError(t, err)
	report, err := svc.Import(ctx, g)
	require.NoError(t, err)
	assert.False(t, report.HasErrors())

	cached, err := stories.Story(ctx, "loop_story")
	require.NoError(t, err)
	room, _ := cached.Scene("room")
	assert.Equal(t, 1, room.EnergyCost)

	t.Run("Reimport invalidates cached graph", func(t *testing.T) {
		g, err := story.LoadFile("testdata/loop_story.yaml")
		require.NoError(t, err)
		room, _ := g.Scene("room")
		room.EnergyCost = 3

		_, err = svc.Import(ctx, g)
		require.NoError(t, err)

		reloaded, err := stories.Story(ctx, "loop_story")
		require.NoError(t, err)
		room, _ = reloaded.Scene("room")
		assert.Equal(t, 3, room.EnergyCost)
		assert.Equal(t, cached.ID, reloaded.ID)
	})

	t.Run("Invalid story is rejected", func(t *testing.T) {
		broken, err := story.Parse(strings.NewReader(brokenStory))
		require.NoError(t, err)

		report, err := svc.Import(ctx, broken)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		require.NotNil(t, report)
		assert.True(t, report.HasErrors())

		_, err = store.Content().LoadStory(ctx, "broken")
		assert.ErrorIs(t, err, models.ErrStoryNotFound)
	})

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "loop_story", list[0].Code)
}
