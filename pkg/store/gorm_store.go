package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bookchat/internal/util"
	"bookchat/pkg/domain"
)

const migrateLockID int64 = 73217321

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type GormStoreOptions struct {
	Driver string
	Logger gormlogger.Interface
}

type GormStoreOption func(*GormStoreOptions)

// WithDriver selects the SQL dialect. Defaults to postgres.
func WithDriver(driver string) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.Driver = driver
	}
}

// WithLogger replaces the default gorm logger.
func WithLogger(l gormlogger.Interface) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.Logger = l
	}
}

// GormStore implements Store using GORM over Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{Driver: DriverPostgres}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	if opts.Logger == nil {
		opts.Logger = gormlogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormlogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		)
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverPostgres:
		dialector = postgres.Open(dsn)
		opts.Driver = DriverPostgres
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
		opts.Driver = DriverSQLite
	default:
		return nil, fmt.Errorf("unknown store driver: %s", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: opts.Logger, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&SessionModel{}, &MessageModel{}, &InsightModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if opts.Driver == DriverPostgres {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateSession inserts a session. A second session for the same
// (user, book) pair fails with ErrDuplicate.
func (s *GormStore) CreateSession(ctx context.Context, sess domain.Session) error {
	model := sessionToModel(sess)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create session: %w", ErrDuplicate)
		}
		return err
	}
	return nil
}

// GetSession returns a session by id.
func (s *GormStore) GetSession(ctx context.Context, id string) (domain.Session, bool, error) {
	var model SessionModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	return sessionFromModel(model), true, nil
}

// GetSessionByUserBook looks up the session for a (user, book) pair.
func (s *GormStore) GetSessionByUserBook(ctx context.Context, userID, bookID string) (domain.Session, bool, error) {
	var model SessionModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND book_id = ?", userID, bookID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	return sessionFromModel(model), true, nil
}

// TouchSession records that a turn completed at the given time.
func (s *GormStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&SessionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_message_at": at,
			"updated_at":      at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage inserts one ledger entry.
func (s *GormStore) AppendMessage(ctx context.Context, msg domain.Message) error {
	model, err := messageToModel(msg)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListMessages returns messages ordered by created_at, then insertion order.
func (s *GormStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	var models []MessageModel
	tx := s.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if limit > 0 {
		tx = tx.Order("created_at DESC").Order("seq DESC").Limit(limit)
	} else {
		tx = tx.Order("created_at ASC").Order("seq ASC")
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	if limit > 0 {
		for i, j := 0, len(models)-1; i < j; i, j = i+1, j-1 {
			models[i], models[j] = models[j], models[i]
		}
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(ctx, m))
	}
	return res, nil
}

// AppendInsight inserts one insight.
func (s *GormStore) AppendInsight(ctx context.Context, in domain.Insight) error {
	model := insightToModel(in)
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListInsights returns insights for a (user, book) scope, newest first.
func (s *GormStore) ListInsights(ctx context.Context, userID, bookID string) ([]domain.Insight, error) {
	var models []InsightModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND book_id = ?", userID, bookID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Insight, 0, len(models))
	for _, m := range models {
		res = append(res, insightFromModel(m))
	}
	return res, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}

func sessionToModel(s domain.Session) SessionModel {
	return SessionModel{
		ID:            s.ID,
		UserID:        s.UserID,
		BookID:        s.BookID,
		LastMessageAt: s.LastMessageAt,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func sessionFromModel(m SessionModel) domain.Session {
	return domain.Session{
		ID:            m.ID,
		UserID:        m.UserID,
		BookID:        m.BookID,
		LastMessageAt: m.LastMessageAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) (MessageModel, error) {
	var meta datatypes.JSON
	if len(msg.Metadata) > 0 {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return MessageModel{}, fmt.Errorf("encode message metadata: %w", err)
		}
		meta = datatypes.JSON(raw)
	}
	return MessageModel{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Metadata:  meta,
		CreatedAt: msg.CreatedAt,
	}, nil
}

// messageFromModel keeps the turn when its metadata cannot be decoded;
// the content is what the conversation needs.
func messageFromModel(ctx context.Context, m MessageModel) domain.Message {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &meta); err != nil {
			util.LoggerFromContext(ctx).Warn("message metadata unreadable", "message_id", m.ID, "session_id", m.SessionID, "err", err)
			meta = nil
		}
	}
	return domain.Message{
		ID:        m.ID,
		SessionID: m.SessionID,
		Role:      domain.MessageRole(m.Role),
		Content:   m.Content,
		Metadata:  meta,
		CreatedAt: m.CreatedAt,
	}
}

func insightToModel(in domain.Insight) InsightModel {
	return InsightModel{
		ID:        in.ID,
		UserID:    in.UserID,
		BookID:    in.BookID,
		Title:     in.Title,
		Content:   in.Content,
		CreatedAt: in.CreatedAt,
	}
}

func insightFromModel(m InsightModel) domain.Insight {
	return domain.Insight{
		ID:        m.ID,
		UserID:    m.UserID,
		BookID:    m.BookID,
		Title:     m.Title,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}
