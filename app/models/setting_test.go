package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func settingsDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&Setting{}))
	return db
}

func TestSettlementSettings_Validate(t *testing.T) {
	zero, big := 0, 1000
	negative := int64(-1)

	assert.NoError(t, (&SettlementSettings{}).Validate())
	assert.NoError(t, (&SettlementSettings{DelayDays: &zero}).Validate())
	assert.Error(t, (&SettlementSettings{WindowDays: &zero}).Validate())
	assert.Error(t, (&SettlementSettings{ItemMaxAttempts: &big}).Validate())
	assert.Error(t, (&SettlementSettings{MinTransferAmount: &negative}).Validate())
}

func TestSaveSettlementSettings_TypesAndUpsert(t *testing.T) {
	db := settingsDB(t)
	enabled := false
	retry := int64(60000)
	require.NoError(t, SaveSettlementSettings(db, &SettlementSettings{Enabled: &enabled, ItemRetryDelayMs: &retry}))

	var rows []Setting
	require.NoError(t, db.Order("setting_key").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, SettingSettlementEnabled, rows[0].Key)
	assert.Equal(t, "boolean", rows[0].Type)
	assert.Equal(t, "false", rows[0].Value)
	assert.Equal(t, "integer", rows[1].Type)

	retry = 5000
	require.NoError(t, SaveSettlementSettings(db, &SettlementSettings{ItemRetryDelayMs: &retry}))
	loaded, err := LoadSettlementSettings(db)
	require.NoError(t, err)
	require.NotNil(t, loaded.ItemRetryDelayMs)
	assert.Equal(t, int64(5000), *loaded.ItemRetryDelayMs)
	require.NotNil(t, loaded.Enabled)
	assert.False(t, *loaded.Enabled)
}

func TestSaveSettlementSettings_RejectsInvalid(t *testing.T) {
	db := settingsDB(t)
	zero := 0
	assert.Error(t, SaveSettlementSettings(db, &SettlementSettings{ItemMaxAttempts: &zero}))

	var count int64
	db.Model(&Setting{}).Count(&count)
	assert.Zero(t, count)
}

func TestLoadSettlementSettings_BadValue(t *testing.T) {
	db := settingsDB(t)
	require.NoError(t, db.Create(&Setting{Key: SettingSettlementDelayDays, Value: "soon", Type: "integer"}).Error)

	_, err := LoadSettlementSettings(db)
	assert.ErrorContains(t, err, SettingSettlementDelayDays)
}
