package service

import (
	"context"
	"strings"
	"time"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/database"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/database/models"
)

// PushRegistry stores device opt-ins for heartbeat pushes
type PushRegistry struct {
	db  *database.Database
	now func() time.Time
}

// NewPushRegistry creates a new push registry
func NewPushRegistry(db *database.Database) *PushRegistry {
	return &PushRegistry{db: db, now: time.Now}
}

// Upsert registers pushToken for registerID. A blank token deregisters.
func (r *PushRegistry) Upsert(ctx context.Context, pushToken string, pushType models.PushType, registerID string) error {
	pushToken = strings.TrimSpace(pushToken)
	if pushToken == "" {
		return r.RemoveByRegisterID(ctx, registerID)
	}
	return r.db.UpsertPushRegistration(ctx, &models.PushRegistration{
		PushToken:  pushToken,
		PushType:   pushType,
		RegisterID: registerID,
		CreatedAt:  r.now().UTC(),
	})
}

// RemoveByRegisterID deletes the registration of registerID
func (r *PushRegistry) RemoveByRegisterID(ctx context.Context, registerID string) error {
	return r.db.DeletePushRegistrationByRegisterID(ctx, registerID)
}

// RemoveMany deletes every registration holding one of tokens
func (r *PushRegistry) RemoveMany(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	return r.db.DeletePushRegistrationsByTokens(ctx, tokens)
}

// PageByType returns up to batchSize registrations with an id above afterID.
// Feed the last id back in until an empty page comes back.
func (r *PushRegistry) PageByType(ctx context.Context, pushType models.PushType, afterID int64, batchSize int) ([]*models.PushRegistration, error) {
	return r.db.ListPushRegistrationsAfter(ctx, pushType, afterID, batchSize)
}

// DueForPush returns up to limit registrations never pushed or not pushed
// within notPushedWithin, oldest first
func (r *PushRegistry) DueForPush(ctx context.Context, pushType models.PushType, notPushedWithin time.Duration, limit int) ([]*models.PushRegistration, error) {
	return r.db.ListPushRegistrationsDue(ctx, pushType, r.now().Add(-notPushedWithin), limit)
}

// MarkPushed records a push attempt for exactly the given rows
func (r *PushRegistry) MarkPushed(ctx context.Context, regs []*models.PushRegistration) error {
	ids := make([]int64, len(regs))
	for i, reg := range regs {
		ids[i] = reg.ID
	}
	return r.db.MarkPushed(ctx, ids, r.now())
}

// Count returns the number of active registrations
func (r *PushRegistry) Count(ctx context.Context) (int64, error) {
	return r.db.CountPushRegistrations(ctx)
}
