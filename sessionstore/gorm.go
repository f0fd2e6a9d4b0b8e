package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DialectorOpener returns a gorm.Dialector for a DSN.
type DialectorOpener = func(string) gorm.Dialector

var dialectors = map[string]DialectorOpener{
	"sqlite":   sqlite.Open,
	"postgres": postgres.Open,
	"mysql":    mysql.Open,
}

// Entry is one session value persisted by GORM.
type Entry struct {
	Namespace string `gorm:"primaryKey;size:191"`
	Key       string `gorm:"primaryKey;size:191"`
	Value     []byte
	UpdatedAt time.Time
}

// TableName keeps the table name stable regardless of naming strategy.
func (Entry) TableName() string {
	return "grantx_session_entries"
}

// OpenGORM opens a database by dialect name ("sqlite", "postgres", "mysql").
// cfg may be nil.
func OpenGORM(dialect, dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	opener, ok := dialectors[dialect]
	if !ok {
		return nil, fmt.Errorf("sessionstore: unknown dialect %q", dialect)
	}
	if cfg == nil {
		cfg = &gorm.Config{}
	}

	db, err := gorm.Open(opener(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open %s: %w", dialect, err)
	}
	return db, nil
}

// GORM stores a session as rows keyed by (namespace, key).
type GORM struct {
	db        *gorm.DB
	namespace string
}

// NewGORM migrates the entry table and returns the session for namespace.
func NewGORM(db *gorm.DB, namespace string) (*GORM, error) {
	if db == nil {
		return nil, errors.New("sessionstore: database is required")
	}
	if namespace == "" {
		return nil, errors.New("sessionstore: namespace is required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("sessionstore: migrate: %w", err)
	}

	return &GORM{db: db, namespace: namespace}, nil
}

// match selects the row for key, the empty key included.
func (g *GORM) match(key string) map[string]any {
	return map[string]any{"namespace": g.namespace, "key": key}
}

// Get returns the value stored under key.
func (g *GORM) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry Entry
	err := g.db.WithContext(ctx).Where(g.match(key)).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sessionstore: get failed: %w", err)
	}
	return entry.Value, true, nil
}

// Set inserts or replaces the value under key.
func (g *GORM) Set(ctx context.Context, key string, value []byte) error {
	entry := Entry{Namespace: g.namespace, Key: key, Value: value}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("sessionstore: set failed: %w", err)
	}
	return nil
}

// Delete removes key.
func (g *GORM) Delete(ctx context.Context, key string) error {
	err := g.db.WithContext(ctx).Where(g.match(key)).Delete(&Entry{}).Error
	if err != nil {
		return fmt.Errorf("sessionstore: delete failed: %w", err)
	}
	return nil
}

// Keys returns the namespace's keys in sorted order.
func (g *GORM) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := g.db.WithContext(ctx).Model(&Entry{}).
		Where(map[string]any{"namespace": g.namespace}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "key"}}).
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("sessionstore: keys failed: %w", err)
	}
	return keys, nil
}

// Close closes the database connection pool behind the session.
func (g *GORM) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("sessionstore: close failed: %w", err)
	}
	return sqlDB.Close()
}
