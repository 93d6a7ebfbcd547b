package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"klinevault/internal/market"
)

type entryModel struct {
	ID        string `gorm:"primaryKey;column:id"`
	Provider  string `gorm:"column:provider"`
	Market    int    `gorm:"column:market"`
	Chart     int    `gorm:"column:chart"`
	Symbol    string `gorm:"column:symbol"`
	Interval  string `gorm:"column:interval"`
	Date      int64  `gorm:"column:date"`
	Path      string `gorm:"column:path"`
	Checksum  string `gorm:"column:checksum"`
	RowCount  int64  `gorm:"column:row_count"`
	CoverFrom int64  `gorm:"column:cover_from"`
	CoverTo   int64  `gorm:"column:cover_to"`
	WrittenAt int64  `gorm:"column:written_at"`
}

func (entryModel) TableName() string { return "cache_entries" }

// index is the persisted key → entry map. Sqlite keeps mutations atomic and
// visible to concurrent processes sharing the cache directory.
type index struct {
	db *gorm.DB
}

func openIndex(dir string) (*index, error) {
	path := filepath.Join(dir, "index.db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open cache index failed: %w", err)
	}
	if err := db.AutoMigrate(&entryModel{}); err != nil {
		return nil, fmt.Errorf("migrate cache index failed: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
	}
	return &index{db: db}, nil
}

func (ix *index) get(k Key) (Entry, bool, error) {
	var m entryModel
	err := ix.db.Where("id = ?", k.ID()).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return modelToEntry(m), true, nil
}

func (ix *index) put(e Entry) error {
	m := entryToModel(e)
	return ix.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

func (ix *index) remove(k Key) error {
	return ix.db.Where("id = ?", k.ID()).Delete(&entryModel{}).Error
}

func (ix *index) close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func entryToModel(e Entry) entryModel {
	return entryModel{
		ID:        e.Key.ID(),
		Provider:  e.Key.Provider,
		Market:    int(e.Key.Market),
		Chart:     int(e.Key.Chart),
		Symbol:    e.Key.Symbol,
		Interval:  e.Key.Interval,
		Date:      e.Key.Date,
		Path:      e.Path,
		Checksum:  e.Checksum,
		RowCount:  e.RowCount,
		CoverFrom: e.CoverFrom,
		CoverTo:   e.CoverTo,
		WrittenAt: e.WrittenAt.UnixMilli(),
	}
}

func modelToEntry(m entryModel) Entry {
	return Entry{
		Key: Key{
			Provider: m.Provider,
			Market:   market.MarketType(m.Market),
			Chart:    market.ChartType(m.Chart),
			Symbol:   m.Symbol,
			Interval: m.Interval,
			Date:     m.Date,
		},
		Path:      m.Path,
		Checksum:  m.Checksum,
		RowCount:  m.RowCount,
		CoverFrom: m.CoverFrom,
		CoverTo:   m.CoverTo,
		WrittenAt: time.UnixMilli(m.WrittenAt).UTC(),
	}
}
