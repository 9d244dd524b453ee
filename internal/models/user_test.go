package models_test

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/nivora/internal/database"
	"github.com/example/nivora/internal/models"
)

func newModelDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func TestAffiliateCodeUniquenessIgnoresEmptyCodes(t *testing.T) {
	db := newModelDB(t)

	first := models.User{Name: "asha", Email: "asha@example.com"}
	require.NoError(t, db.Create(&first).Error)
	second := models.User{Name: "ravi", Email: "ravi@example.com"}
	assert.NoError(t, db.Create(&second).Error,
		"users without an affiliate code must not collide with each other")
}

func TestAffiliateCodeDuplicateRejected(t *testing.T) {
	db := newModelDB(t)

	first := models.User{Name: "asha", Email: "asha@example.com", AffiliateCode: "ASHA10"}
	require.NoError(t, db.Create(&first).Error)
	second := models.User{Name: "ravi", Email: "ravi@example.com", AffiliateCode: "ASHA10"}
	assert.Error(t, db.Create(&second).Error)
}
