//go:build integration

package database_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"novel-engine/internal/database"
	"novel-engine/internal/interfaces"
	"novel-engine/internal/ledger"
	"novel-engine/internal/messaging"
	"novel-engine/internal/models"
	"novel-engine/internal/service"
	"novel-engine/internal/story"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// IntegrationTestSuite проверяет PostgreSQL-хранилище, Redis-кэш и RabbitMQ-издателя на реальных контейнерах.
type IntegrationTestSuite struct {
	suite.Suite
	ctx          context.Context
	logger       *zap.Logger
	pgContainer  *postgres.PostgresContainer
	rdContainer  *tcredis.RedisContainer
	rmqContainer *rabbitmq.RabbitMQContainer
	pool         *pgxpool.Pool
	store        *database.PgStore
	redisClient  *redis.Client
	amqpURL      string
}

func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()
	var err error

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("novel_engine_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	dsn, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)

	s.pool, err = database.NewPgPool(s.ctx, database.PoolConfig{DSN: dsn, MaxConns: 10}, s.logger)
	require.NoError(s.T(), err)
	require.NoError(s.T(), database.NewMigrator(s.pool, s.logger).Up(s.ctx))
	s.store = database.NewPgStore(s.pool, s.logger)

	s.rdContainer, err = tcredis.Run(s.ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(1*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start redis container")
	redisURL, err := s.rdContainer.ConnectionString(s.ctx)
	require.NoError(s.T(), err)
	opts, err := redis.ParseURL(redisURL)
	require.NoError(s.T(), err)
	s.redisClient = redis.NewClient(opts)

	s.rmqContainer, err = rabbitmq.Run(s.ctx, "rabbitmq:3.13-management-alpine")
	require.NoError(s.T(), err, "Failed to start rabbitmq container")
	s.amqpURL, err = s.rmqContainer.AmqpURL(s.ctx)
	require.NoError(s.T(), err)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	for _, c := range []testcontainers.Container{s.pgContainer, s.rdContainer, s.rmqContainer} {
		if c != nil {
			_ = c.Terminate(s.ctx)
		}
	}
}

func (s *IntegrationTestSuite) importStory(path string) *story.Graph {
	g, err := story.LoadFile(path)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Content().SaveStory(s.ctx, g))
	return g
}

func (s *IntegrationTestSuite) TestMigrationVersion() {
	version, dirty, err := database.NewMigrator(s.pool, s.logger).Version(s.ctx)
	s.Require().NoError(err)
	s.False(dirty)
	s.EqualValues(1, version)
}

func (s *IntegrationTestSuite) TestContentRoundTrip() {
	g := s.importStory("../story/testdata/office_flirt.yaml")

	loaded, err := s.store.Content().LoadStory(s.ctx, "office_flirt")
	s.Require().NoError(err)
	s.Equal(g.ID, loaded.ID)
	s.Equal(g.Document(), loaded.Document())

	again := s.importStory("../story/testdata/office_flirt.yaml")
	s.Equal(g.ID, again.ID, "reimport keeps the story id")

	_, err = s.store.Content().LoadStory(s.ctx, "missing")
	s.ErrorIs(err, models.ErrStoryNotFound)
}

func (s *IntegrationTestSuite) TestConcurrentRegistration() {
	key := "concurrent-" + uuid.NewString()
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := s.store.Players().GetOrCreate(s.ctx, key, "ru", func(id uuid.UUID) *ledger.Wallet {
				return ledger.DefaultPolicy().NewWallet(id, time.Now())
			})
			s.NoError(err)
			if p != nil {
				ids[i] = p.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		s.Equal(ids[0], id)
	}
}

func (s *IntegrationTestSuite) TestWalletLockSerializesWriters() {
	p, err := s.store.Players().GetOrCreate(s.ctx, "lock-"+uuid.NewString(), "ru", func(id uuid.UUID) *ledger.Wallet {
		return ledger.DefaultPolicy().NewWallet(id, time.Now())
	})
	s.Require().NoError(err)

	const writers = 5
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.InTx(s.ctx, func(ctx context.Context, tx interfaces.Tx) error {
				w, err := tx.Wallets().GetForUpdate(ctx, p.ID)
				if err != nil {
					return err
				}
				time.Sleep(20 * time.Millisecond)
				w.AddGems(1)
				return tx.Wallets().Save(ctx, w)
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	err = s.store.InTx(s.ctx, func(ctx context.Context, tx interfaces.Tx) error {
		w, err := tx.Wallets().GetForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		s.Equal(writers, w.Gems)
		return nil
	})
	s.Require().NoError(err)
}

func (s *IntegrationTestSuite) TestProgressionOnPostgres() {
	s.importStory("../service/testdata/loop_story.yaml")
	stories := service.NewStoryProvider(s.store.Content(), nil, time.Minute, s.logger)
	svc, err := service.NewProgressionService(s.store, stories, messaging.NewNoopPublisher(), service.DefaultOptions(), s.logger)
	s.Require().NoError(err)

	player := "pg-" + uuid.NewString()
	_, err = svc.GrantResources(s.ctx, player, models.GrantRequest{Gems: 5})
	s.Require().NoError(err)

	view, err := svc.Choose(s.ctx, player, "loop_story", "pay", "en")
	s.Require().NoError(err)
	s.Equal(3, view.Player.Gems)
	_, err = svc.Choose(s.ctx, player, "loop_story", "back", "en")
	s.Require().NoError(err)
	view, err = svc.Choose(s.ctx, player, "loop_story", "pay", "en")
	s.Require().NoError(err)
	s.Equal(3, view.Player.Gems, "gem unlock is charged once")

	_, err = svc.GrantResources(s.ctx, player, models.GrantRequest{Energy: -(view.Player.Energy - 1)})
	s.Require().NoError(err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Choose(s.ctx, player, "loop_story", "again", "en")
		}(i)
	}
	wg.Wait()

	succeeded, gated := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, models.ErrEnergyRequired):
			gated++
		}
	}
	s.Equal(1, succeeded)
	s.Equal(1, gated)
}

func (s *IntegrationTestSuite) TestRedisStoryCache() {
	g := s.importStory("../story/testdata/office_flirt.yaml")
	cache := database.NewRedisStoryCache(s.redisClient, time.Minute, s.logger)

	miss, err := cache.Get(s.ctx, "office_flirt")
	s.Require().NoError(err)
	s.Nil(miss)

	s.Require().NoError(cache.Set(s.ctx, g))
	hit, err := cache.Get(s.ctx, "office_flirt")
	s.Require().NoError(err)
	s.Require().NotNil(hit)
	s.Equal(g.ID, hit.ID)
	s.Equal(g.Document(), hit.Document())

	watchCtx, stopWatch := context.WithCancel(s.ctx)
	defer stopWatch()
	invalidated := make(chan string, 1)
	go func() {
		_ = database.NewRedisStoryCache(s.redisClient, time.Minute, s.logger).Subscribe(watchCtx, func(code string) {
			invalidated <- code
		})
	}()
	s.Require().Eventually(func() bool {
		counts, err := s.redisClient.PubSubNumSub(s.ctx, "story_graph:invalidated").Result()
		return err == nil && counts["story_graph:invalidated"] > 0
	}, 10*time.Second, 50*time.Millisecond)

	s.Require().NoError(cache.Delete(s.ctx, "office_flirt"))
	miss, err = cache.Get(s.ctx, "office_flirt")
	s.Require().NoError(err)
	s.Nil(miss)

	select {
	case code := <-invalidated:
		s.Equal("office_flirt", code)
	case <-time.After(10 * time.Second):
		s.Fail("invalidation was not delivered to the subscriber")
	}
}

func (s *IntegrationTestSuite) TestRabbitMQPublisher() {
	conn, err := messaging.Connect(s.amqpURL, 3, time.Second, s.logger)
	s.Require().NoError(err)
	defer conn.Close()
	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	const queue = "progress_events_test"
	publisher, err := messaging.NewRabbitMQEventPublisher(ch, queue, s.logger)
	s.Require().NoError(err)

	event := models.ProgressEvent{
		EventID:    uuid.NewString(),
		Type:       models.EventChoiceMade,
		PlayerID:   uuid.New(),
		StoryCode:  "office_flirt",
		SceneCode:  "coffee",
		ChoiceCode: "smile_back",
		HeatScore:  1,
		OccurredAt: time.Now().UTC().Truncate(time.Second),
	}
	s.Require().NoError(publisher.PublishProgressEvent(s.ctx, event))

	var msg amqp.Delivery
	s.Require().Eventually(func() bool {
		var ok bool
		msg, ok, err = ch.Get(queue, true)
		return err == nil && ok
	}, 10*time.Second, 100*time.Millisecond)

	s.Equal(event.EventID, msg.MessageId)
	var got models.ProgressEvent
	s.Require().NoError(json.Unmarshal(msg.Body, &got))
	s.Equal(event.PlayerID, got.PlayerID)
	s.Equal(event.ChoiceCode, got.ChoiceCode)
	s.True(event.OccurredAt.Equal(got.OccurredAt))
}

func TestIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("integration tests are skipped in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
