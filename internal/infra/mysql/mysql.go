package mysql

import (
	"fmt"
	"time"

	"checkout-service/internal/config"
	"checkout-service/internal/domain"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// NewMySQL connects, sizes the pool and migrates the checkout tables.
func NewMySQL(c config.MySQL) (*gorm.DB, error) {
	db, err := Open(mysql.Open(c.DSN()))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	sqlDB.SetMaxIdleConns(c.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(c.ConnMaxLifetime.Duration)
	sqlDB.SetConnMaxIdleTime(time.Minute)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Open applies the gorm settings every store relies on: unique violations
// are translated to gorm.ErrDuplicatedKey and timestamps are UTC.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Warn),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: false,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Order{},
		&domain.Entitlement{},
		&domain.MerchantAccount{},
		&domain.ResourcePricing{},
		&domain.CallbackEvent{},
	); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}
