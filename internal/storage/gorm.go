package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"semaforo/internal/logger"
	"semaforo/internal/models"
)

// aircraftRecord is the persisted shape of models.Aircraft
type aircraftRecord struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Registration string    `gorm:"size:32;not null;uniqueIndex"`
	Model        string    `gorm:"size:128"`
	TotalHours   float64   `gorm:"not null"`
	Version      int64     `gorm:"not null;default:1"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time
}

func (aircraftRecord) TableName() string {
	return "aircraft"
}

// componentRecord is the persisted shape of models.Component. Thresholds
// and the cached alert are stored as JSON documents. Ownership is enforced
// by DeleteAircraft rather than a foreign key so that every backend behaves
// the same.
type componentRecord struct {
	ID           string    `gorm:"primaryKey;size:64"`
	AircraftID   string    `gorm:"size:64;not null;index"`
	Name         string    `gorm:"size:255;not null"`
	Kind         string    `gorm:"size:32;not null"`
	SerialNumber string    `gorm:"size:128"`
	Usage        float64   `gorm:"column:usage_counter;not null"`
	Thresholds   string    `gorm:"type:text;not null"`
	LastAlert    string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time
}

func (componentRecord) TableName() string {
	return "components"
}

// GormStore implements Store on a relational database through gorm
type GormStore struct {
	db *gorm.DB
}

// NewSQLite opens (creating if needed) a SQLite database file
func NewSQLite(path string, debug bool) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newGormLogger(debug), TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite allows a single writer; serialize through one connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get SQLite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return openGorm(db, "sqlite")
}

// NewMySQL connects to a MySQL database
func NewMySQL(dsn string, debug bool) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: newGormLogger(debug), TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get MySQL handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return openGorm(db, "mysql")
}

// NewGorm wraps an already opened gorm handle and migrates the schema
func NewGorm(db *gorm.DB) (*GormStore, error) {
	return openGorm(db, db.Dialector.Name())
}

func openGorm(db *gorm.DB, backend string) (*GormStore, error) {
	if err := db.AutoMigrate(&aircraftRecord{}, &componentRecord{}); err != nil {
		return nil, fmt.Errorf("%s auto-migration failed: %w", backend, err)
	}

	log := logger.WithComponent("storage")
	log.Info().Str("backend", backend).Msg("database schema migrated")

	return &GormStore{db: db}, nil
}

func newGormLogger(debug bool) gormlogger.Interface {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return gormlogger.New(
		stdlog.New(logger.WithComponent("gorm"), "", 0),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		},
	)
}

func (s *GormStore) GetAircraft(ctx context.Context, id string) (*models.Aircraft, error) {
	var rec aircraftRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("aircraft", id)
		}
		return nil, storageErr("get_aircraft", err)
	}
	a := toAircraft(&rec)
	return &a, nil
}

func (s *GormStore) ListAircraft(ctx context.Context) ([]models.Aircraft, error) {
	var recs []aircraftRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, storageErr("list_aircraft", err)
	}
	out := make([]models.Aircraft, 0, len(recs))
	for i := range recs {
		out = append(out, toAircraft(&recs[i]))
	}
	return out, nil
}

func (s *GormStore) CreateAircraft(ctx context.Context, a *models.Aircraft) error {
	now := time.Now().UTC()
	rec := aircraftRecord{
		ID:           a.ID,
		Registration: a.Registration,
		Model:        a.Model,
		TotalHours:   a.TotalHours,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: aircraft %q or registration %q already exists",
				models.ErrValidation, a.ID, a.Registration)
		}
		return storageErr("create_aircraft", err)
	}
	a.Version = rec.Version
	a.CreatedAt, a.UpdatedAt = now, now
	return nil
}

// SaveAircraft performs a compare-and-set on the version column so that a
// writer holding a stale read cannot commit.
func (s *GormStore) SaveAircraft(ctx context.Context, a *models.Aircraft) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&aircraftRecord{}).
		Where("id = ? AND version = ?", a.ID, a.Version).
		Updates(map[string]interface{}{
			"registration": a.Registration,
			"model":        a.Model,
			"total_hours":  a.TotalHours,
			"version":      a.Version + 1,
			"updated_at":   now,
		})
	if res.Error != nil {
		return storageErr("save_aircraft", res.Error)
	}

	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&aircraftRecord{}).Where("id = ?", a.ID).Count(&count).Error; err != nil {
			return storageErr("save_aircraft", err)
		}
		if count == 0 {
			return notFound("aircraft", a.ID)
		}
		return fmt.Errorf("%w: aircraft %q changed since version %d", models.ErrConflict, a.ID, a.Version)
	}

	a.Version++
	a.UpdatedAt = now
	return nil
}

// DeleteAircraft removes the aircraft and every component it owns
func (s *GormStore) DeleteAircraft(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("aircraft_id = ?", id).Delete(&componentRecord{}).Error; err != nil {
			return storageErr("delete_components", err)
		}
		res := tx.Where("id = ?", id).Delete(&aircraftRecord{})
		if res.Error != nil {
			return storageErr("delete_aircraft", res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound("aircraft", id)
		}
		return nil
	})
}

func (s *GormStore) GetComponent(ctx context.Context, id string) (*models.Component, error) {
	var rec componentRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("component", id)
		}
		return nil, storageErr("get_component", err)
	}
	c, err := toComponent(&rec)
	if err != nil {
		return nil, storageErr("get_component", err)
	}
	return &c, nil
}

func (s *GormStore) ListComponents(ctx context.Context, aircraftID string) ([]models.Component, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&aircraftRecord{}).Where("id = ?", aircraftID).Count(&count).Error; err != nil {
		return nil, storageErr("list_components", err)
	}
	if count == 0 {
		return nil, notFound("aircraft", aircraftID)
	}

	var recs []componentRecord
	if err := s.db.WithContext(ctx).Where("aircraft_id = ?", aircraftID).Order("id").Find(&recs).Error; err != nil {
		return nil, storageErr("list_components", err)
	}

	out := make([]models.Component, 0, len(recs))
	for i := range recs {
		c, err := toComponent(&recs[i])
		if err != nil {
			return nil, storageErr("list_components", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *GormStore) CreateComponent(ctx context.Context, c *models.Component) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&aircraftRecord{}).Where("id = ?", c.AircraftID).Count(&count).Error; err != nil {
		return storageErr("create_component", err)
	}
	if count == 0 {
		return notFound("aircraft", c.AircraftID)
	}

	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	rec, err := toComponentRecord(c)
	if err != nil {
		return storageErr("create_component", err)
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: component %q already exists", models.ErrValidation, c.ID)
		}
		return storageErr("create_component", err)
	}
	return nil
}

func (s *GormStore) SaveComponent(ctx context.Context, c *models.Component) error {
	now := time.Now().UTC()
	rec, err := toComponentRecord(c)
	if err != nil {
		return storageErr("save_component", err)
	}

	res := s.db.WithContext(ctx).
		Model(&componentRecord{}).
		Where("id = ?", c.ID).
		Updates(map[string]interface{}{
			"name":          rec.Name,
			"kind":          rec.Kind,
			"serial_number": rec.SerialNumber,
			"usage_counter": rec.Usage,
			"thresholds":    rec.Thresholds,
			"last_alert":    rec.LastAlert,
			"updated_at":    now,
		})
	if res.Error != nil {
		return storageErr("save_component", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("component", c.ID)
	}
	c.UpdatedAt = now
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toAircraft(rec *aircraftRecord) models.Aircraft {
	return models.Aircraft{
		ID:           rec.ID,
		Registration: rec.Registration,
		Model:        rec.Model,
		TotalHours:   rec.TotalHours,
		Version:      rec.Version,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func toComponentRecord(c *models.Component) (*componentRecord, error) {
	thresholds, err := json.Marshal(c.Thresholds)
	if err != nil {
		return nil, err
	}

	rec := &componentRecord{
		ID:           c.ID,
		AircraftID:   c.AircraftID,
		Name:         c.Name,
		Kind:         string(c.Kind),
		SerialNumber: c.SerialNumber,
		Usage:        c.Usage,
		Thresholds:   string(thresholds),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}

	if c.LastAlert != nil {
		alert, err := json.Marshal(c.LastAlert)
		if err != nil {
			return nil, err
		}
		rec.LastAlert = string(alert)
	}
	return rec, nil
}

func toComponent(rec *componentRecord) (models.Component, error) {
	c := models.Component{
		ID:           rec.ID,
		AircraftID:   rec.AircraftID,
		Name:         rec.Name,
		Kind:         models.ComponentKind(rec.Kind),
		SerialNumber: rec.SerialNumber,
		Usage:        rec.Usage,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}

	if err := json.Unmarshal([]byte(rec.Thresholds), &c.Thresholds); err != nil {
		return models.Component{}, fmt.Errorf("decode thresholds of %q: %w", rec.ID, err)
	}

	if rec.LastAlert != "" {
		var alert models.AlertResult
		if err := json.Unmarshal([]byte(rec.LastAlert), &alert); err != nil {
			return models.Component{}, fmt.Errorf("decode last alert of %q: %w", rec.ID, err)
		}
		c.LastAlert = &alert
	}
	return c, nil
}
