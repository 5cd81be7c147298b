package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/depot/services/bagtrack/internal/cache"
	"example.com/depot/services/bagtrack/internal/db"
)

const (
	testCapacity    = 30
	testUnitWeight  = 0.5
	testLockTimeout = 3 * time.Second
	testUndoWindow  = time.Hour
)

// newTestDB opens a private in-memory database and migrates the schema.
// A single connection keeps the shared-cache database alive for the test.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

// fixture bundles the services under test against one database
type fixture struct {
	db     *gorm.DB
	stats  *StatisticsService
	bags   *BagService
	linker *LinkerService
	bills  *BillService
	undo   *UndoService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithWindow(t, testUndoWindow)
}

func newFixtureWithWindow(t *testing.T, window time.Duration) *fixture {
	t.Helper()

	gdb := newTestDB(t)
	cacheClient := cache.NewDisabledClient()
	stats := NewStatisticsService(gdb, cacheClient)

	return &fixture{
		db:     gdb,
		stats:  stats,
		bags:   NewBagService(gdb, stats, testLockTimeout),
		linker: NewLinkerService(gdb, stats, testCapacity, testUnitWeight, testLockTimeout),
		bills:  NewBillService(gdb, stats, cacheClient, testUnitWeight, testCapacity, testLockTimeout),
		undo:   NewUndoService(gdb, stats, window, testUnitWeight, testCapacity, testLockTimeout),
	}
}
