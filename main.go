package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	appcmd "github.com/apicomponents/s3-collection/cmd"
	"github.com/apicomponents/s3-collection/collection"
)

func main() {
	logFormat := getenvDefault("S3COLLECTION_LOG_FORMAT", "text")
	logger := newLogger(logFormat)

	addr := getenvDefault("S3COLLECTION_HTTP_ADDR", "127.0.0.1:8080")
	viewPrefix := getenvDefault("S3COLLECTION_VIEW_PREFIX", "views/")
	refreshInterval := getenvDurationDefault(logger, "S3COLLECTION_INDEX_REFRESH_INTERVAL", 60*time.Second)

	store := newBlobStore(logger)

	opts := []collection.ManifestOption{
		collection.WithViewPrefix(viewPrefix),
		collection.WithLogger(logger),
	}

	// Snapshot store: MongoDB or blob-backed (default).
	if mongoURI := os.Getenv("S3COLLECTION_MONGO_URI"); mongoURI != "" {
		mongoDB := getenvDefault("S3COLLECTION_MONGO_DB", "s3collection")
		mongoColl := getenvDefault("S3COLLECTION_MONGO_COLLECTION", "snapshots")

		mongoClient, err := mongo.Connect(mongooptions.Client().ApplyURI(mongoURI))
		if err != nil {
			logger.Error("mongo connect", "error", err)
			os.Exit(1)
		}
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()
		if err := mongoClient.Ping(pingCtx, nil); err != nil {
			logger.Error("mongo ping", "error", err)
			os.Exit(1)
		}
		defer func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoClient.Disconnect(disconnectCtx)
		}()
		coll := mongoClient.Database(mongoDB).Collection(mongoColl)
		opts = append(opts, collection.WithSnapshotStore(collection.NewMongoSnapshotStore(coll, "")))
		logger.Info("configured mongo snapshot store", "db", mongoDB, "collection", mongoColl)
	}

	// Write lease: Redis for multi-instance deployments, in-process otherwise.
	if redisAddr := os.Getenv("S3COLLECTION_REDIS_ADDR"); redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Error("redis ping", "error", err)
			os.Exit(1)
		}
		defer func() { _ = client.Close() }()

		leaseMgr, err := collection.NewRedisWriteLeaseManager(client, os.Getenv("S3COLLECTION_REDIS_LEASE_PREFIX"))
		if err != nil {
			logger.Error("redis lease manager", "error", err)
			os.Exit(1)
		}
		opts = append(opts, collection.WithWriteLeaseManager(leaseMgr))
		logger.Info("configured redis write lease", "addr", redisAddr)
	}

	manifest := collection.NewManifest(store, opts...)

	appCfg := appcmd.AppConfig{
		Address:              addr,
		ReadHeaderTimeout:    5 * time.Second,
		ShutdownTimeout:      10 * time.Second,
		IndexRefreshInterval: refreshInterval,
		Logger:               logger,
	}
	app := appcmd.NewApp(manifest, appCfg)

	if err := app.Start(); err != nil {
		logger.Error("start app", "error", err)
		os.Exit(1)
	}
	logger.Info("s3-collection listening", "address", app.Address())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
		defer cancel()
		if err := app.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := app.Wait(); err != nil {
		logger.Error("app exited with error", "error", err)
		os.Exit(1)
	}
}

// newBlobStore builds an S3-backed store when a bucket is configured and
// falls back to the local filesystem otherwise.
func newBlobStore(logger *slog.Logger) collection.BlobStore {
	bucket := os.Getenv("S3COLLECTION_S3_BUCKET")
	if bucket == "" {
		root := getenvDefault("S3COLLECTION_BLOB_ROOT", "./.temp/blobs")
		logger.Info("configured local blob store", "root", root)
		return &collection.LocalBlobStore{Root: root}
	}

	cfgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	awsCfg, err := config.LoadDefaultConfig(cfgCtx)
	if err != nil {
		logger.Error("load aws config", "error", err)
		os.Exit(1)
	}

	prefix := os.Getenv("S3COLLECTION_S3_PREFIX")
	logger.Info("configured s3 blob store", "bucket", bucket, "prefix", prefix)
	return collection.NewS3BlobStore(awss3.NewFromConfig(awsCfg), bucket, prefix)
}

func newLogger(format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func getenvDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvDurationDefault(logger *slog.Logger, key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("invalid duration env var", "key", key, "value", v, "error", err)
		os.Exit(1)
	}
	return d
}
