package gormdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/avstrong/bnb/internal/availability"
	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/identity"
	"github.com/avstrong/bnb/internal/logger"
	"github.com/avstrong/bnb/internal/pricing"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrUnknownDriver              = errors.New("unknown database driver")
	ErrTransactionIDNotFoundInCtx = errors.New("no transaction id found in ctx")
	ErrTransactionNotFound        = errors.New("transaction not found or already finished")
)

type Config struct {
	L      *logger.Logger
	Driver string
	DSN    string
}

// DB persists rooms, bookings, availability and users through gorm. Transactions are
// carried in the context the same way the in-memory store does it.
type DB struct {
	l      *logger.Logger
	db     *gorm.DB
	driver string

	mu           sync.Mutex
	transactions map[string]*gorm.DB
}

// printer adapts the app logger to gorm's logger.Writer.
type printer struct {
	l *logger.Logger
}

func (p printer) Printf(format string, args ...any) {
	p.l.LogDebugf(format, args...)
}

func Open(conf Config) (*DB, error) {
	var dialector gorm.Dialector

	switch conf.Driver {
	case DriverPostgres:
		dialector = postgres.Open(conf.DSN)
	case DriverSQLite:
		dsn := conf.DSN
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000&_foreign_keys=on"
		}

		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, conf.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger: gormlogger.New(printer{l: conf.L}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond, //nolint:gomnd
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", conf.Driver, err)
	}

	if conf.Driver == DriverSQLite {
		// SQLite allows a single writer; one connection keeps writers queued in Go.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	return &DB{
		l:            conf.L,
		db:           gdb,
		driver:       conf.Driver,
		transactions: make(map[string]*gorm.DB),
	}, nil
}

// Migrate creates or updates the schema.
func (db *DB) Migrate(ctx context.Context) error {
	err := db.db.WithContext(ctx).AutoMigrate(&roomModel{}, &bookingModel{}, &availabilityModel{}, &userModel{})
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	return nil
}

func (db *DB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	return nil
}

type trxCtxKey struct{}

// conn returns the transaction of ctx or the plain connection pool.
func (db *DB) conn(ctx context.Context) (*gorm.DB, error) {
	trxID, ok := ctx.Value(trxCtxKey{}).(string)
	if !ok || trxID == "" {
		return db.db.WithContext(ctx), nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, exists := db.transactions[trxID]
	if !exists {
		return nil, fmt.Errorf("transaction %s: %w", trxID, ErrTransactionNotFound)
	}

	return tx.WithContext(ctx), nil
}

func isolation(level string) sql.IsolationLevel {
	switch strings.ToUpper(level) {
	case "SERIALIZABLE":
		return sql.LevelSerializable
	case "REPEATABLE READ":
		return sql.LevelRepeatableRead
	case "READ COMMITTED":
		return sql.LevelReadCommitted
	default:
		return sql.LevelDefault
	}
}

func (db *DB) BeginTransaction(ctx context.Context, level string) (context.Context, error) {
	opts := &sql.TxOptions{}
	if db.driver == DriverPostgres {
		opts.Isolation = isolation(level)
	}

	// Detached from ctx cancellation: the transaction is ended through Commit or Rollback.
	tx := db.db.WithContext(context.WithoutCancel(ctx)).Begin(opts)
	if tx.Error != nil {
		return ctx, fmt.Errorf("begin transaction: %w", tx.Error)
	}

	trxID := uuid.NewString()

	db.mu.Lock()
	db.transactions[trxID] = tx
	db.mu.Unlock()

	return context.WithValue(ctx, trxCtxKey{}, trxID), nil
}

func (db *DB) finish(ctx context.Context) (*gorm.DB, string, error) {
	trxID, ok := ctx.Value(trxCtxKey{}).(string)
	if !ok || trxID == "" {
		return nil, "", ErrTransactionIDNotFoundInCtx
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, exists := db.transactions[trxID]
	if !exists {
		return nil, "", fmt.Errorf("transaction %s: %w", trxID, ErrTransactionNotFound)
	}

	delete(db.transactions, trxID)

	return tx, trxID, nil
}

func (db *DB) CommitTransaction(ctx context.Context) error {
	tx, trxID, err := db.finish(ctx)
	if err != nil {
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("commit %s: %w", trxID, translate(err))
	}

	return nil
}

func (db *DB) RollbackTransaction(ctx context.Context) error {
	tx, trxID, err := db.finish(ctx)
	if err != nil {
		return err
	}

	if err := tx.Rollback().Error; err != nil {
		return fmt.Errorf("rollback %s: %w", trxID, err)
	}

	return nil
}

// serializationFailure is the SQLSTATE postgres reports when a SERIALIZABLE
// transaction lost a race.
const serializationFailure = "40001"

// translate maps unique violations and serialization failures to the availability
// sentinel so the index can report a conflict instead of a store fault.
func translate(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", availability.ErrDuplicate, err)
	}

	// pgconn.PgError carries SQLState; matching the method keeps pgx out of the imports.
	var stateErr interface{ SQLState() string }
	if errors.As(err, &stateErr) && stateErr.SQLState() == serializationFailure {
		return fmt.Errorf("%w: %w", availability.ErrDuplicate, err)
	}

	return err
}

func (db *DB) SaveAvailabilityRecords(ctx context.Context, records []*availability.Record) error {
	if len(records) == 0 {
		return nil
	}

	conn, err := db.conn(ctx)
	if err != nil {
		return err
	}

	models := make([]*availabilityModel, 0, len(records))
	for _, r := range records {
		models = append(models, &availabilityModel{
			RoomID:      r.RoomID,
			Date:        pricing.Day(r.Date),
			IsAvailable: r.IsAvailable,
			BookingID:   r.BookingID,
		})
	}

	if err := conn.Create(&models).Error; err != nil {
		return fmt.Errorf("insert availability records: %w", translate(err))
	}

	return nil
}

func (db *DB) DeleteAvailabilityRecords(ctx context.Context, roomID, bookingID string, from, to time.Time) error {
	conn, err := db.conn(ctx)
	if err != nil {
		return err
	}

	err = conn.
		Where("room_id = ? AND booking_id = ? AND date >= ? AND date < ?", roomID, bookingID, pricing.Day(from), pricing.Day(to)).
		Delete(&availabilityModel{}).Error
	if err != nil {
		return fmt.Errorf("delete availability records: %w", err)
	}

	return nil
}

func (db *DB) GetAvailabilityRecords(ctx context.Context, roomID string, from, to time.Time) ([]*availability.Record, error) {
	conn, err := db.conn(ctx)
	if err != nil {
		return nil, err
	}

	var models []*availabilityModel

	err = conn.
		Where("room_id = ? AND date >= ? AND date < ?", roomID, pricing.Day(from), pricing.Day(to)).
		Order("date").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("select availability records: %w", translate(err))
	}

	records := make([]*availability.Record, 0, len(models))
	for _, m := range models {
		records = append(records, m.toRecord())
	}

	return records, nil
}

func (db *DB) SaveBooking(ctx context.Context, b *booking.Booking) error {
	conn, err := db.conn(ctx)
	if err != nil {
		return err
	}

	if err := conn.Clauses(clause.OnConflict{UpdateAll: true}).Create(toBookingModel(b)).Error; err != nil {
		return fmt.Errorf("upsert booking %s: %w", b.ID, err)
	}

	return nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*booking.Booking, error) {
	conn, err := db.conn(ctx)
	if err != nil {
		return nil, err
	}

	var m bookingModel
	if err := conn.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("booking %s: %w", id, booking.ErrRecordNotFound)
		}

		return nil, fmt.Errorf("select booking %s: %w", id, err)
	}

	return m.toBooking(), nil
}

func (db *DB) GetBookingByIdempotencyKey(ctx context.Context, key string) (*booking.Booking, error) {
	conn, err := db.conn(ctx)
	if err != nil {
		return nil, err
	}

	var m bookingModel
	if err := conn.First(&m, "idempotency_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, booking.ErrRecordNotFound
		}

		return nil, fmt.Errorf("select booking by idempotency key: %w", err)
	}

	return m.toBooking(), nil
}

func (db *DB) ListBookings(ctx context.Context, filter booking.Filter) ([]*booking.Booking, error) {
	conn, err := db.conn(ctx)
	if err != nil {
		return nil, err
	}

	q := conn.Model(&bookingModel{})

	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}

	if filter.RoomID != "" {
		q = q.Where("room_id = ?", filter.RoomID)
	}

	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}

	var models []*bookingModel
	if err := q.Order("check_in DESC, created_at DESC, id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}

	bookings := make([]*booking.Booking, 0, len(models))
	for _, m := range models {
		bookings = append(bookings, m.toBooking())
	}

	return bookings, nil
}

func (db *DB) CountRoomBookings(ctx context.Context, roomID string) (int, error) {
	conn, err := db.conn(ctx)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := conn.Model(&bookingModel{}).Where("room_id = ?", roomID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count bookings of room %s: %w", roomID, err)
	}

	return int(n), nil
}

func (db *DB) SaveRoom(ctx context.Context, room *booking.Room) error {
	conn, err := db.conn(ctx)
	if err != nil {
		return err
	}

	if err := conn.Clauses(clause.OnConflict{UpdateAll: true}).Create(toRoomModel(room)).Error; err != nil {
		return fmt.Errorf("upsert room %s: %w", room.ID, err)
	}

	return nil
}

func (db *DB) GetRoom(ctx context.Context, id string) (*booking.Room, error) {
	conn, err := db.conn(ctx)
	if err != nil {
		return nil, err
	}

	var m roomModel
	if err := conn.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("room %s: %w", id, booking.ErrRecordNotFound)
		}

		return nil, fmt.Errorf("select room %s: %w", id, err)
	}

	return m.toRoom(), nil
}

func (db *DB) ListRooms(ctx context.Context, onlyActive bool) ([]*booking.Room, error) {
	conn, err := db.conn(ctx)
	if err != nil {
		return nil, err
	}

	q := conn.Model(&roomModel{})
	if onlyActive {
		q = q.Where("is_active = ?", true)
	}

	var models []*roomModel
	if err := q.Order("name, id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("select rooms: %w", err)
	}

	rooms := make([]*booking.Room, 0, len(models))
	for _, m := range models {
		rooms = append(rooms, m.toRoom())
	}

	return rooms, nil
}

func (db *DB) DeleteRoom(ctx context.Context, id string) error {
	conn, err := db.conn(ctx)
	if err != nil {
		return err
	}

	res := conn.Delete(&roomModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete room %s: %w", id, res.Error)
	}

	if res.RowsAffected == 0 {
		return fmt.Errorf("room %s: %w", id, booking.ErrRecordNotFound)
	}

	return nil
}

func (db *DB) SaveUser(ctx context.Context, user *identity.User) error {
	conn, err := db.conn(ctx)
	if err != nil {
		return err
	}

	m := toUserModel(user)
	m.Email = strings.ToLower(m.Email)

	err = conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("user %s: %w", user.Email, identity.ErrEmailTaken)
	}

	if err != nil {
		return fmt.Errorf("upsert user %s: %w", user.ID, err)
	}

	return nil
}

func (db *DB) GetUser(ctx context.Context, id string) (*identity.User, error) {
	return db.findUser(ctx, "id = ?", id)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	return db.findUser(ctx, "email = ?", strings.ToLower(email))
}

func (db *DB) findUser(ctx context.Context, cond string, arg string) (*identity.User, error) {
	conn, err := db.conn(ctx)
	if err != nil {
		return nil, err
	}

	var m userModel
	if err := conn.First(&m, cond, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", arg, identity.ErrUserNotFound)
		}

		return nil, fmt.Errorf("select user: %w", err)
	}

	return m.toUser(), nil
}
