package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/oklog/run"
	"github.com/redis/go-redis/v9"

	"github.com/avstrong/bnb/internal/analytics"
	"github.com/avstrong/bnb/internal/availability"
	"github.com/avstrong/bnb/internal/blob"
	"github.com/avstrong/bnb/internal/blob/fs"
	"github.com/avstrong/bnb/internal/blob/gridfs"
	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/config"
	"github.com/avstrong/bnb/internal/identity"
	"github.com/avstrong/bnb/internal/idgen/uuidgen"
	"github.com/avstrong/bnb/internal/lock/redislock"
	"github.com/avstrong/bnb/internal/logger"
	"github.com/avstrong/bnb/internal/metrics"
	"github.com/avstrong/bnb/internal/migration"
	"github.com/avstrong/bnb/internal/payment"
	"github.com/avstrong/bnb/internal/rooms"
	"github.com/avstrong/bnb/internal/storage/gormdb"
	"github.com/avstrong/bnb/internal/storage/memory"
	"github.com/avstrong/bnb/internal/tracing"
	"github.com/avstrong/bnb/internal/transport/web"
)

const shutdownTimeout = 4 * time.Second

// Store is everything the domain packages need from a backing store.
type Store interface {
	BeginTransaction(ctx context.Context, level string) (context.Context, error)
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error

	SaveAvailabilityRecords(ctx context.Context, records []*availability.Record) error
	DeleteAvailabilityRecords(ctx context.Context, roomID, bookingID string, from, to time.Time) error
	GetAvailabilityRecords(ctx context.Context, roomID string, from, to time.Time) ([]*availability.Record, error)

	SaveBooking(ctx context.Context, b *booking.Booking) error
	GetBooking(ctx context.Context, id string) (*booking.Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, key string) (*booking.Booking, error)
	ListBookings(ctx context.Context, filter booking.Filter) ([]*booking.Booking, error)
	CountRoomBookings(ctx context.Context, roomID string) (int, error)

	SaveRoom(ctx context.Context, room *booking.Room) error
	GetRoom(ctx context.Context, id string) (*booking.Room, error)
	ListRooms(ctx context.Context, onlyActive bool) ([]*booking.Room, error)
	DeleteRoom(ctx context.Context, id string) error

	SaveUser(ctx context.Context, user *identity.User) error
	GetUser(ctx context.Context, id string) (*identity.User, error)
	GetUserByEmail(ctx context.Context, email string) (*identity.User, error)
}

var (
	_ Store = (*memory.DB)(nil)
	_ Store = (*gormdb.DB)(nil)
)

// Components is the wired domain. Close releases the store, lock and blob clients.
type Components struct {
	Store     Store
	Metrics   *metrics.Metrics
	Index     *availability.Index
	Ledger    *booking.Ledger
	Rooms     *rooms.Catalog
	Identity  *identity.Provider
	Checkout  *payment.Checkout
	Analytics *analytics.Service
	Blobs     blob.Store

	closers []func(context.Context) error
}

func (c *Components) Close(ctx context.Context) error {
	var errs []error

	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i](ctx))
	}

	return errors.Join(errs...)
}

// OpenStore opens and migrates the store named by conf. The returned closer may be nil.
func OpenStore(ctx context.Context, l *logger.Logger, conf *config.Config) (Store, func(context.Context) error, error) {
	var driver, dsn string

	switch conf.Store {
	case config.StoreMemory:
		return memory.New(memory.Config{L: l}), nil, nil
	case config.StoreSQLite:
		driver, dsn = gormdb.DriverSQLite, conf.SQLitePath
	case config.StorePostgres:
		driver, dsn = gormdb.DriverPostgres, conf.PostgresDSN
	default:
		return nil, nil, fmt.Errorf("%w: store %q", config.ErrInvalid, conf.Store)
	}

	db, err := gormdb.Open(gormdb.Config{L: l, Driver: driver, DSN: dsn})
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()

		return nil, nil, fmt.Errorf("migrate %s store: %w", driver, err)
	}

	return db, func(context.Context) error { return db.Close() }, nil
}

func openBlobs(ctx context.Context, l *logger.Logger, conf *config.Config) (blob.Store, func(context.Context) error, error) {
	if conf.Blob == config.BlobGridFS {
		store, err := gridfs.New(ctx, gridfs.Config{
			L:         l,
			URI:       conf.MongoURI,
			Database:  conf.MongoDB,
			PublicURL: conf.PublicURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open gridfs: %w", err)
		}

		return store, store.Close, nil
	}

	store, err := fs.New(fs.Config{L: l, Dir: conf.BlobDir, PublicURL: conf.PublicURL})
	if err != nil {
		return nil, nil, fmt.Errorf("open blob dir: %w", err)
	}

	return store, nil, nil
}

func openLocker(ctx context.Context, l *logger.Logger, conf *config.Config) (availability.Locker, func(context.Context) error, error) {
	if conf.RedisAddr == "" {
		return availability.NewMutexLocker(), nil, nil
	}

	//nolint:exhaustruct
	client := redis.NewClient(&redis.Options{Addr: conf.RedisAddr})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, nil, fmt.Errorf("ping redis %s: %w", conf.RedisAddr, err)
	}

	l.LogInfo("Room locks are held in redis at %s", conf.RedisAddr)

	//nolint:exhaustruct
	return redislock.New(redislock.Config{L: l, Client: client}), func(context.Context) error { return client.Close() }, nil
}

// Build opens the backing services named by conf and wires the domain on top.
func Build(ctx context.Context, l *logger.Logger, conf *config.Config) (_ *Components, err error) {
	c := &Components{Metrics: metrics.New()}

	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	store, closeStore, err := OpenStore(ctx, l, conf)
	if err != nil {
		return nil, err
	}

	c.Store = store
	if closeStore != nil {
		c.closers = append(c.closers, closeStore)
	}

	locker, closeLocker, err := openLocker(ctx, l, conf)
	if err != nil {
		return nil, err
	}

	if closeLocker != nil {
		c.closers = append(c.closers, closeLocker)
	}

	blobs, closeBlobs, err := openBlobs(ctx, l, conf)
	if err != nil {
		return nil, err
	}

	c.Blobs = blobs
	if closeBlobs != nil {
		c.closers = append(c.closers, closeBlobs)
	}

	c.Index = availability.New(l.With("component", "availability"), store, locker)
	c.Index.Subscribe(c.Metrics.AvailabilityChanged)

	ids := uuidgen.New()

	c.Ledger = booking.New(l.With("component", "ledger"), store, c.Index, ids, booking.WithObserver(c.Metrics))
	c.Rooms = rooms.New(l.With("component", "rooms"), store, blobs, ids)
	c.Identity = identity.New(l.With("component", "identity"), store, identity.Config{
		Secret:   []byte(conf.JWTSecret),
		TokenTTL: conf.JWTTTL,
	})
	c.Identity.Subscribe(func(ev identity.Event) {
		l.LogInfo("User %s %s", ev.Principal.ID, ev.Kind)
	})
	c.Checkout = payment.NewCheckout(l.With("component", "checkout"), c.Ledger, payment.NewSandbox(), conf.Currency)
	c.Analytics = analytics.NewService(store)

	return c, nil
}

// Run serves the API and the metrics endpoint until a signal arrives or one of
// them fails.
//
//nolint:funlen
func Run(l *logger.Logger, conf *config.Config) error {
	shutdownTracing, err := tracing.Setup(tracing.Config{ServiceName: "bnb", Stdout: conf.TraceStdout, W: os.Stdout})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := shutdownTracing(ctx); err != nil {
			l.LogErrorf("Failed to flush traces: %v", err.Error())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := Build(ctx, l, conf)
	if err != nil {
		return err
	}

	defer func() {
		if err := c.Close(context.Background()); err != nil {
			l.LogErrorf("Failed to close components: %v", err.Error())
		}
	}()

	if conf.Seed {
		if _, err := migration.Up(ctx, l, c.Store, time.Now()); err != nil {
			return fmt.Errorf("seed rooms: %w", err)
		}
	}

	srv, err := web.New(ctx, web.Conf{
		L:                 l.With("component", "web"),
		ServerLogger:      log.New(kitlog.NewStdlibAdapter(l.With("component", "http").Kit()), "", 0),
		Host:              conf.Host,
		Port:              conf.Port,
		ReadHeaderTimeout: 20 * time.Second, //nolint:gomnd
		LivenessEndpoint:  "/liveness",
		CORSOrigins:       conf.CORSOrigins,
		RateLimit:         conf.RateLimit,
		RateBurst:         conf.RateBurst,
		Currency:          conf.Currency,
	}, web.Services{
		Ledger:    c.Ledger,
		Rooms:     c.Rooms,
		Index:     c.Index,
		Identity:  c.Identity,
		Checkout:  c.Checkout,
		Analytics: c.Analytics,
		Blobs:     c.Blobs,
		Metrics:   c.Metrics,
	})
	if err != nil {
		return fmt.Errorf("init http server: %w", err)
	}

	g := &run.Group{}

	g.Add(func() error {
		l.LogInfo("Application is running on %v...", srv.Srv().Addr)

		if err := srv.Srv().ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve api: %w", err)
		}

		return nil
	}, func(error) {
		cancel()

		ctx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()

		if err := srv.Srv().Shutdown(ctx); err != nil {
			l.LogErrorf("Failed to stop http server: %v", err.Error())
		}
	})

	if conf.MetricsPort != "" {
		//nolint:exhaustruct
		metricsSrv := &http.Server{
			Addr:              net.JoinHostPort(conf.Host, conf.MetricsPort),
			Handler:           c.Metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second, //nolint:gomnd
		}

		g.Add(func() error {
			l.LogInfo("Metrics are served on %v", metricsSrv.Addr)

			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}

			return nil
		}, func(error) {
			if err := metricsSrv.Close(); err != nil {
				l.LogErrorf("Failed to stop metrics server: %v", err.Error())
			}
		})
	}

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP))

	err = g.Run()

	var signalErr run.SignalError
	if errors.As(err, &signalErr) {
		l.LogInfo("Received %v, application stopped gracefully", signalErr.Signal)

		return nil
	}

	return err
}
