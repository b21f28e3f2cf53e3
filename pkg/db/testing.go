package db

import (
	"fmt"
	"sync/atomic"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

// NewTest opens an isolated in-memory database. Each call gets its own
// namespace so parallel tests do not share state.
func NewTest() *gorm.DB {
	dsn := fmt.Sprintf("file:reelay_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		panic(fmt.Sprintf("open test database: %v", err))
	}
	return conn
}
