package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"vidtube/internal/config"
	"vidtube/internal/llm"
	"vidtube/internal/media"
	"vidtube/internal/metrics"
	"vidtube/internal/objectstore"
	"vidtube/internal/ratelimit"
	"vidtube/internal/search"
	"vidtube/internal/session"
	"vidtube/internal/store"
	"vidtube/internal/workflow"
)

// memoTTL outlives the longest JetStream redelivery schedule.
const memoTTL = 48 * time.Hour

// runtime owns the connections shared by the serve, worker and reindex
// commands. Optional backends stay nil when their URL is empty.
type runtime struct {
	cfg     config.Config
	db      *sql.DB
	store   *store.PostgresStore
	redis   *redis.Client
	nats    *nats.Conn
	js      jetstream.JetStream
	meili   *search.Meili
	search  *search.Service
	objects *objectstore.Store
	media   *media.Client
	llm     *llm.Client
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

func openRuntime(ctx context.Context, cfg config.Config, pool store.PoolConfig) (*runtime, error) {
	rt := &runtime{cfg: cfg, metrics: metrics.New()}

	db, err := store.Open(ctx, cfg.DatabaseURL, pool)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt.db = db
	rt.store = store.NewPostgresStore(db)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := session.Dial(cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rt.redis = client
		slog.Info("using redis for sessions, rate limits and workflow memo")
	} else {
		slog.Info("redis not configured, using postgres sessions and in-process limits")
	}

	if strings.TrimSpace(cfg.NATSURL) != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("vidtube"), nats.MaxReconnects(-1))
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("nats connection failed: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			rt.Close()
			return nil, fmt.Errorf("jetstream init failed: %w", err)
		}
		rt.nats, rt.js = nc, js
	}

	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		rt.meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		index = rt.meili
	}
	rt.search = search.NewService(index, rt.store)

	objects, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
		PublicURL: cfg.S3PublicURL,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		slog.Warn("object storage bucket check failed", "bucket", cfg.S3Bucket, "error", err)
	}
	rt.objects = objects

	rt.media = media.New(media.Config{
		TokenID:     cfg.MuxTokenID,
		TokenSecret: cfg.MuxTokenSecret,
		CORSOrigin:  cfg.MuxCORSOrigin,
	})
	if !rt.media.Configured() {
		slog.Warn("mux credentials missing, uploads are disabled")
	}
	rt.llm = llm.New(llm.Config{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.OpenAIModel,
		ImageModel: cfg.OpenAIImageModel,
	})
	return rt, nil
}

func (rt *runtime) engine() *workflow.Engine {
	deps := workflow.Deps{
		Videos:      rt.store,
		Transcripts: rt.media,
		Generator:   rt.llm,
		Objects:     rt.objects,
		Metrics:     rt.metrics,
		OnVideoUpdated: func(_ context.Context, video store.Video) {
			rt.search.IndexVideo(video)
		},
	}
	if rt.redis != nil {
		deps.Memo = workflow.NewRedisMemo(rt.redis, memoTTL)
	}
	return workflow.NewEngine(deps)
}

func (rt *runtime) worker(engine *workflow.Engine) *workflow.Worker {
	return workflow.NewWorker(rt.js, engine, rt.cfg.WorkflowMaxDeliver)
}

// queue picks where generation runs go: JetStream when NATS is configured,
// otherwise an in-process queue. Background consumers stop with ctx.
func (rt *runtime) queue(ctx context.Context, engine *workflow.Engine) (workflow.Queue, error) {
	if rt.js == nil {
		slog.Warn("nats not configured, workflows run in-process")
		local := workflow.NewLocalQueue(engine, 2, rt.cfg.WorkflowMaxDeliver)
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			local.Run(ctx)
		}()
		return local, nil
	}

	if _, err := workflow.EnsureStream(ctx, rt.js); err != nil {
		return nil, err
	}
	if rt.cfg.WorkflowEmbedWorker {
		worker := rt.worker(engine)
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			if err := worker.Run(ctx); err != nil {
				slog.Error("embedded workflow worker stopped", "error", err)
			}
		}()
	}
	return workflow.NewPublisher(rt.js), nil
}

func (rt *runtime) sessions() *session.RedisStore {
	if rt.redis == nil {
		return nil
	}
	return session.NewRedisStoreWithClient(rt.redis)
}

func (rt *runtime) limiter() ratelimit.Limiter {
	if rt.cfg.RateLimitRequests <= 0 || rt.cfg.RateLimitWindow <= 0 {
		return nil
	}
	if rt.redis == nil {
		return ratelimit.NewLocal(rt.cfg.RateLimitRequests, rt.cfg.RateLimitWindow)
	}
	return ratelimit.NewSlidingWindow(rt.redis, rt.cfg.RateLimitRequests, rt.cfg.RateLimitWindow)
}

// wait blocks until background consumers have returned.
func (rt *runtime) wait() {
	rt.wg.Wait()
}

func (rt *runtime) Close() {
	if rt.meili != nil {
		rt.meili.Close()
	}
	if rt.nats != nil {
		rt.nats.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
}
