package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportflow/internal/types"
)

func TestBounceProcessor_HardBounceRecordsInvalidRecipients(t *testing.T) {
	repo := newMemRepo()
	sentAt := time.Date(2026, 3, 2, 9, 0, 5, 0, time.UTC)
	require.NoError(t, repo.Create(context.Background(), &types.DeliveryLog{
		ID:     "dlv_1",
		Status: types.DeliveryStatusSent,
		SentAt: &sentAt,
	}))

	p := NewBounceProcessor(repo, testLogger{})
	err := p.Process(context.Background(), BounceEvent{
		DeliveryID: "dlv_1",
		Type:       types.BounceHard,
		Recipients: []string{"gone@example.com"},
		Message:    "550 user unknown",
	})
	require.NoError(t, err)

	stored, _ := repo.GetByID(context.Background(), "dlv_1")
	assert.Equal(t, types.DeliveryStatusBounced, stored.Status)
	assert.Equal(t, string(types.BounceHard), stored.Metadata.BounceType)
	assert.Equal(t, []string{"gone@example.com"}, stored.Metadata.InvalidRecipients)
}

func TestBounceProcessor_SoftBounceKeepsRecipients(t *testing.T) {
	repo := newMemRepo()
	require.NoError(t, repo.Create(context.Background(), &types.DeliveryLog{
		ID:     "dlv_1",
		Status: types.DeliveryStatusSent,
	}))

	p := NewBounceProcessor(repo, testLogger{})
	err := p.Process(context.Background(), BounceEvent{
		DeliveryID: "dlv_1",
		Type:       types.BounceSoft,
		Recipients: []string{"full@example.com"},
		Message:    "452 mailbox full",
	})
	require.NoError(t, err)

	stored, _ := repo.GetByID(context.Background(), "dlv_1")
	assert.Equal(t, types.DeliveryStatusBounced, stored.Status)
	assert.Empty(t, stored.Metadata.InvalidRecipients)
}

func TestBounceProcessor_DropsEventForUnsentDelivery(t *testing.T) {
	repo := newMemRepo()
	require.NoError(t, repo.Create(context.Background(), &types.DeliveryLog{
		ID:     "dlv_1",
		Status: types.DeliveryStatusFailed,
	}))

	p := NewBounceProcessor(repo, testLogger{})
	err := p.Process(context.Background(), BounceEvent{
		DeliveryID: "dlv_1",
		Type:       types.BounceHard,
	})
	require.NoError(t, err)

	stored, _ := repo.GetByID(context.Background(), "dlv_1")
	assert.Equal(t, types.DeliveryStatusFailed, stored.Status)
}
