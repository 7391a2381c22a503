package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upsert(t *testing.T, db *Database, token string, pushType models.PushType, registerID string) *models.PushRegistration {
	t.Helper()
	reg := &models.PushRegistration{PushToken: token, PushType: pushType, RegisterID: registerID, CreatedAt: fixedNow}
	require.NoError(t, db.UpsertPushRegistration(context.Background(), reg))
	return reg
}

func allRegistrations(t *testing.T, db *Database) map[string]string {
	t.Helper()
	rows, err := db.DB().Query("SELECT register_id, push_token FROM t_push_registration")
	require.NoError(t, err)
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var registerID, token string
		require.NoError(t, rows.Scan(&registerID, &token))
		out[registerID] = token
	}
	require.NoError(t, rows.Err())
	return out
}

func TestUpsertPushRegistration(t *testing.T) {
	ctx := context.Background()

	t.Run("Insert new registration", func(t *testing.T) {
		db := setupTestDB(t)
		reg := upsert(t, db, "token-1", models.PushTypeIOS, "device-1")
		assert.NotZero(t, reg.ID)
		assert.Equal(t, map[string]string{"device-1": "token-1"}, allRegistrations(t, db))
	})

	t.Run("Token churn updates the row of the register id", func(t *testing.T) {
		db := setupTestDB(t)
		first := upsert(t, db, "token-1", models.PushTypeIOS, "device-1")
		second := upsert(t, db, "token-2", models.PushTypeIOS, "device-1")
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, map[string]string{"device-1": "token-2"}, allRegistrations(t, db))
	})

	t.Run("New register id takes over an existing token", func(t *testing.T) {
		db := setupTestDB(t)
		first := upsert(t, db, "token-1", models.PushTypeIOS, "device-1")
		second := upsert(t, db, "token-1", models.PushTypeIOS, "device-2")
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, map[string]string{"device-2": "token-1"}, allRegistrations(t, db))
	})

	t.Run("Token and register id on different rows collapse into one", func(t *testing.T) {
		db := setupTestDB(t)
		upsert(t, db, "token-1", models.PushTypeIOS, "device-1")
		upsert(t, db, "token-2", models.PushTypeIOS, "device-2")

		upsert(t, db, "token-1", models.PushTypeIOS, "device-2")
		assert.Equal(t, map[string]string{"device-2": "token-1"}, allRegistrations(t, db))
	})

	t.Run("Empty token deregisters the register id", func(t *testing.T) {
		db := setupTestDB(t)
		upsert(t, db, "token-1", models.PushTypeIOS, "device-1")
		upsert(t, db, "token-2", models.PushTypeIOS, "device-2")

		require.NoError(t, db.UpsertPushRegistration(ctx, &models.PushRegistration{RegisterID: "device-1", PushType: models.PushTypeIOS}))
		assert.Equal(t, map[string]string{"device-2": "token-2"}, allRegistrations(t, db))
	})
}

func TestDeletePushRegistrationsByTokens(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	upsert(t, db, "token-1", models.PushTypeIOS, "device-1")
	upsert(t, db, "token-2", models.PushTypeIOD, "device-2")
	upsert(t, db, "token-3", models.PushTypeIOS, "device-3")

	t.Run("Empty set is a no-op", func(t *testing.T) {
		n, err := db.DeletePushRegistrationsByTokens(ctx, []string{})
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Len(t, allRegistrations(t, db), 3)
	})

	t.Run("Remove matching tokens only", func(t *testing.T) {
		n, err := db.DeletePushRegistrationsByTokens(ctx, []string{"token-1", "token-3", "unknown"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Equal(t, map[string]string{"device-2": "token-2"}, allRegistrations(t, db))
	})
}

func TestListPushRegistrationsAfter(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	for i := 0; i < 20; i++ {
		upsert(t, db, fmt.Sprintf("token-%02d", i), models.PushTypeIOS, fmt.Sprintf("device-%02d", i))
	}
	upsert(t, db, "sandbox", models.PushTypeIOD, "sandbox-device")

	seen := map[int64]int{}
	var afterID int64
	pages := 0
	for {
		page, err := db.ListPushRegistrationsAfter(ctx, models.PushTypeIOS, afterID, 3)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		pages++
		require.LessOrEqual(t, len(page), 3)
		assert.Greater(t, page[0].ID, afterID)
		for i, reg := range page {
			assert.Equal(t, models.PushTypeIOS, reg.PushType)
			if i > 0 {
				assert.Greater(t, reg.ID, page[i-1].ID)
			}
			seen[reg.ID]++
		}
		afterID = page[len(page)-1].ID
	}

	assert.Equal(t, 7, pages)
	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, "registration %d", id)
	}
}

func TestListPushRegistrationsDue(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	never := upsert(t, db, "never", models.PushTypeIOS, "device-never")
	old := upsert(t, db, "old", models.PushTypeIOS, "device-old")
	older := upsert(t, db, "older", models.PushTypeIOS, "device-older")
	recent := upsert(t, db, "recent", models.PushTypeIOS, "device-recent")
	upsert(t, db, "sandbox", models.PushTypeIOD, "device-sandbox")

	require.NoError(t, db.MarkPushed(ctx, []int64{old.ID}, fixedNow.Add(-3*time.Hour)))
	require.NoError(t, db.MarkPushed(ctx, []int64{older.ID}, fixedNow.Add(-5*time.Hour)))
	require.NoError(t, db.MarkPushed(ctx, []int64{recent.ID}, fixedNow.Add(-10*time.Minute)))

	t.Run("Never pushed first, then oldest", func(t *testing.T) {
		due, err := db.ListPushRegistrationsDue(ctx, models.PushTypeIOS, fixedNow.Add(-2*time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, due, 3)
		assert.Equal(t, never.ID, due[0].ID)
		assert.False(t, due[0].LastPush.Valid)
		assert.Equal(t, older.ID, due[1].ID)
		assert.Equal(t, old.ID, due[2].ID)
	})

	t.Run("Limit caps the batch", func(t *testing.T) {
		due, err := db.ListPushRegistrationsDue(ctx, models.PushTypeIOS, fixedNow.Add(-2*time.Hour), 1)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, never.ID, due[0].ID)
	})

	t.Run("Never pushed is due for any interval", func(t *testing.T) {
		due, err := db.ListPushRegistrationsDue(ctx, models.PushTypeIOS, fixedNow.Add(-100*24*time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, never.ID, due[0].ID)
	})

	t.Run("Marked rows are not due again within the cycle", func(t *testing.T) {
		due, err := db.ListPushRegistrationsDue(ctx, models.PushTypeIOS, fixedNow.Add(-2*time.Hour), 10)
		require.NoError(t, err)
		ids := make([]int64, 0, len(due))
		for _, reg := range due {
			ids = append(ids, reg.ID)
		}
		require.NoError(t, db.MarkPushed(ctx, ids, fixedNow))

		due, err = db.ListPushRegistrationsDue(ctx, models.PushTypeIOS, fixedNow.Add(-2*time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, due)
	})
}

func TestMarkPushed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	a := upsert(t, db, "a", models.PushTypeIOS, "device-a")
	b := upsert(t, db, "b", models.PushTypeIOS, "device-b")

	require.NoError(t, db.MarkPushed(ctx, nil, fixedNow))
	require.NoError(t, db.MarkPushed(ctx, []int64{a.ID}, fixedNow))

	regs, err := db.ListPushRegistrationsAfter(ctx, models.PushTypeIOS, 0, 10)
	require.NoError(t, err)
	require.Len(t, regs, 2)
	assert.Equal(t, a.ID, regs[0].ID)
	assert.True(t, regs[0].LastPush.Valid)
	assert.True(t, regs[0].LastPush.Time.Equal(fixedNow))
	assert.Equal(t, b.ID, regs[1].ID)
	assert.False(t, regs[1].LastPush.Valid)
}

func TestCountPushRegistrations(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	count, err := db.CountPushRegistrations(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	upsert(t, db, "a", models.PushTypeIOS, "device-a")
	upsert(t, db, "b", models.PushTypeAndroid, "device-b")

	count, err = db.CountPushRegistrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
