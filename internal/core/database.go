package core

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDatabase opens the gorm handle for the engine named in the config.
// TranslateError is required so unique-constraint violations surface as
// gorm.ErrDuplicatedKey on both engines.
func OpenDatabase(cfg *Config) (*gorm.DB, error) {
	log := gormlogger.Default.LogMode(gormlogger.Error)
	if cfg.Debugging.DatabaseLoggingEnabled {
		log = gormlogger.Default.LogMode(gormlogger.Info)
	}
	gormCfg := &gorm.Config{Logger: log, TranslateError: true}

	switch cfg.Database.Engine {
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.Database.File), gormCfg)
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DatabaseURL()), gormCfg)
	}
	return nil, fmt.Errorf("unsupported database engine %q", cfg.Database.Engine)
}
