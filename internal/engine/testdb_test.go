package engine

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"blood_bank/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newTestDB 每个测试一个独立的内存库（命名 + shared cache，连接池内可见）。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.BloodRequest{},
		&model.BloodInventory{},
		&model.DonationRequest{},
		&model.RequestMatch{},
		&model.BloodRequestInventory{},
		&model.Notification{},
	))
	return db
}

func ptrInt64(v int64) *int64 { return &v }

func seedRequest(t *testing.T, db *gorm.DB, userID int64, typeID, componentID uint, quantity int, location string) *model.BloodRequest {
	t.Helper()
	req := &model.BloodRequest{
		UserID:           ptrInt64(userID),
		BloodTypeID:      typeID,
		BloodComponentID: componentID,
		Quantity:         quantity,
		Location:         location,
		Status:           model.RequestSuccessful,
	}
	require.NoError(t, db.Create(req).Error)
	return req
}

func seedInventory(t *testing.T, db *gorm.DB, typeID, componentID uint, quantity int, location string, lastUpdated time.Time) *model.BloodInventory {
	t.Helper()
	inv := &model.BloodInventory{
		BloodTypeID:      typeID,
		BloodComponentID: componentID,
		Quantity:         quantity,
		Unit:             DefaultUnit,
		Location:         location,
		LastUpdated:      lastUpdated,
	}
	require.NoError(t, db.Create(inv).Error)
	return inv
}

func seedDonation(t *testing.T, db *gorm.DB, userID int64, typeID, componentID uint, quantity int, status model.DonationStatus) *model.DonationRequest {
	t.Helper()
	d := &model.DonationRequest{
		UserID:           ptrInt64(userID),
		BloodTypeID:      typeID,
		BloodComponentID: componentID,
		Quantity:         quantity,
		Status:           status,
	}
	require.NoError(t, db.Create(d).Error)
	return d
}
