package db

import (
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var Instance *gorm.DB

// Init opens MySQL when a DSN is given, the SQLite file otherwise.
func Init(mysqlDSN, sqliteFile string) *gorm.DB {
	var dialector gorm.Dialector
	if mysqlDSN != "" {
		dialector = mysql.Open(mysqlDSN)
	} else {
		dialector = sqlite.Open(sqliteFile + "?_busy_timeout=5000&_journal_mode=WAL")
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil || db == nil {
		panic(err)
	}
	Instance = db
	return db
}
