package watcher

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	didtdw "github.com/did-method-tdw/go-didtdw"
	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrHistoryRewritten is returned by ExtendLog when a freshly fetched log
// disagrees with entries already committed locally. A DID log is append-only:
// a shrunk log or a changed historical versionId means the controller (or the
// host) rewrote published history, which watchers must surface rather than
// silently accept.
var ErrHistoryRewritten = errors.New("published DID history rewritten")

// entryDB wraps didtdw.LogEntry to provide SQL Scanner/Valuer for GORM storage.
type entryDB didtdw.LogEntry

func (e entryDB) Value() (driver.Value, error) {
	return json.Marshal((*didtdw.LogEntry)(&e))
}

func (e *entryDB) Scan(value interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for entryDB: %T", value)
	}
	return json.Unmarshal(bytes, (*didtdw.LogEntry)(e))
}

// DIDRecord is the tracked head state for a watched DID.
type DIDRecord struct {
	DID  string `gorm:"column:did;primaryKey"`
	SCID string `gorm:"column:scid;not null"`
	// LogURL overrides the web location derived from the DID, for mirrors
	// and test fixtures. Empty means derive.
	LogURL        string    `gorm:"column:log_url"`
	HeadVersion   int64     `gorm:"column:head_version;not null;default:0"`
	HeadVersionID string    `gorm:"column:head_version_id"`
	Deactivated   bool      `gorm:"column:deactivated;not null;default:0"`
	Document      []byte    `gorm:"column:document"`
	Created       time.Time `gorm:"column:created"`
	Updated       time.Time `gorm:"column:updated"`
	LastRefreshed time.Time `gorm:"column:last_refreshed"`
}

func (DIDRecord) TableName() string {
	return "dids"
}

// EntryRecord is one committed log entry of a watched DID.
type EntryRecord struct {
	DID         string    `gorm:"column:did;primaryKey"`
	Version     int64     `gorm:"column:version;primaryKey"`
	VersionID   string    `gorm:"column:version_id;not null"`
	VersionTime time.Time `gorm:"column:version_time;not null"`
	Entry       entryDB   `gorm:"column:entry;not null"`
}

func (EntryRecord) TableName() string {
	return "entries"
}

// Store persists watched DIDs and their verified logs.
type Store struct {
	db *gorm.DB
}

// NewStoreWithDialector creates a database-backed store with a custom dialector.
func NewStoreWithDialector(dialector gorm.Dialector, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger: slogGorm.New(
			slogGorm.WithHandler(logger.With("component", "store").Handler()),
			slogGorm.WithTraceAll(),
			slogGorm.SetLogLevel(slogGorm.DefaultLogType, slog.LevelDebug),
			slogGorm.SetLogLevel(slogGorm.SlowQueryLogType, slog.LevelWarn),
			slogGorm.SetLogLevel(slogGorm.ErrorLogType, slog.LevelError),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(40)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&DIDRecord{}, &EntryRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

func NewStoreWithSqlite(dbPath string, logger *slog.Logger) (*Store, error) {
	return NewStoreWithDialector(
		sqlite.Open(dbPath+"?mode=rwc&cache=shared&_journal_mode=WAL"),
		logger,
	)
}

func NewStoreWithPostgres(dsn string, logger *slog.Logger) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), logger)
}

// Watch registers a DID for tracking. Re-watching an already tracked DID
// updates its log URL override and nothing else.
func (s *Store) Watch(ctx context.Context, didstr string, logURL string) error {
	did, err := didtdw.ParseDID(didstr)
	if err != nil {
		return err
	}
	rec := DIDRecord{
		DID:    did.String(),
		SCID:   did.SCID,
		LogURL: logURL,
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "did"}},
		DoUpdates: clause.AssignmentColumns([]string{"log_url"}),
	}).Create(&rec)
	return result.Error
}

// Unwatch removes a DID and its committed entries.
func (s *Store) Unwatch(ctx context.Context, didstr string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("did = ?", didstr).Delete(&EntryRecord{}).Error; err != nil {
			return err
		}
		result := tx.Where("did = ?", didstr).Delete(&DIDRecord{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// ListDIDs returns all tracked DIDs.
func (s *Store) ListDIDs(ctx context.Context) ([]DIDRecord, error) {
	var recs []DIDRecord
	result := s.db.WithContext(ctx).Order("did ASC").Find(&recs)
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return recs, nil
}

// GetRecord returns the tracked state for a DID, or nil if it is not watched.
func (s *Store) GetRecord(ctx context.Context, didstr string) (*DIDRecord, error) {
	var rec DIDRecord
	result := s.db.WithContext(ctx).Where("did = ?", didstr).Take(&rec)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &rec, nil
}

// GetEntries returns the committed log of a DID in version order.
func (s *Store) GetEntries(ctx context.Context, didstr string) ([]didtdw.LogEntry, error) {
	var recs []EntryRecord
	result := s.db.WithContext(ctx).Where("did = ?", didstr).Order("version ASC").Find(&recs)
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	entries := make([]didtdw.LogEntry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, didtdw.LogEntry(rec.Entry))
	}
	return entries, nil
}

// ExtendLog commits a freshly verified resolution on top of the stored head
// and returns the newly appended entries. Committed history is immutable: the
// new log must contain the stored head at the same version with the same
// versionId, otherwise ErrHistoryRewritten is returned and nothing changes.
func (s *Store) ExtendLog(ctx context.Context, didstr string, st *didtdw.ResolvedState) ([]didtdw.LogEntry, error) {
	var appended []didtdw.LogEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec DIDRecord
		if err := tx.Where("did = ?", didstr).Take(&rec).Error; err != nil {
			return fmt.Errorf("DID not watched: %w", err)
		}

		if st.VersionNumber < rec.HeadVersion {
			return fmt.Errorf("%w: log shrank from version %d to %d", ErrHistoryRewritten, rec.HeadVersion, st.VersionNumber)
		}
		if rec.HeadVersion > 0 {
			got := st.Entries[rec.HeadVersion-1].VersionID
			if got != rec.HeadVersionID {
				return fmt.Errorf("%w: version %d changed from %s to %s", ErrHistoryRewritten, rec.HeadVersion, rec.HeadVersionID, got)
			}
		}

		for i := rec.HeadVersion; i < st.VersionNumber; i++ {
			e := st.Entries[i]
			t, err := e.Time()
			if err != nil {
				return err
			}
			newRec := EntryRecord{
				DID:         didstr,
				Version:     i + 1,
				VersionID:   e.VersionID,
				VersionTime: t,
				Entry:       entryDB(e),
			}
			if err := tx.Create(&newRec).Error; err != nil {
				return fmt.Errorf("failed to create entry: %w", err)
			}
			appended = append(appended, e)
		}

		// head update with optimistic locking check
		result := tx.Model(&DIDRecord{}).
			Where("did = ? AND head_version = ?", didstr, rec.HeadVersion).
			Updates(map[string]interface{}{
				"head_version":    st.VersionNumber,
				"head_version_id": st.VersionID,
				"deactivated":     st.Deactivated,
				"document":        []byte(st.Document),
				"created":         st.Created,
				"updated":         st.Updated,
				"last_refreshed":  time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update head: %w", result.Error)
		} else if result.RowsAffected != 1 {
			return fmt.Errorf("head version mismatch")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

// TouchRefreshed records a refresh attempt that produced no new entries.
func (s *Store) TouchRefreshed(ctx context.Context, didstr string) error {
	return s.db.WithContext(ctx).Model(&DIDRecord{}).
		Where("did = ?", didstr).
		Update("last_refreshed", time.Now()).Error
}
