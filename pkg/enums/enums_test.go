package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderStatus(t *testing.T) {
	status, err := ParseOrderStatus("driver_completed")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusDriverCompleted, status)

	_, err = ParseOrderStatus("shipped")
	require.Error(t, err)
}

func TestOrderStatusDriverInvariant(t *testing.T) {
	tests := map[OrderStatus]bool{
		OrderStatusPending:         false,
		OrderStatusAccepted:        true,
		OrderStatusDriverCompleted: true,
		OrderStatusCompleted:       true,
		OrderStatusCancelled:       false,
	}
	for status, want := range tests {
		assert.Equal(t, want, status.HasDriver(), status)
	}
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusCompleted.IsTerminal())
	assert.False(t, OrderStatusAccepted.IsTerminal())
}

func TestUserRoleAccess(t *testing.T) {
	assert.True(t, UserRoleAdmin.HasUnconditionalAccess())
	assert.False(t, UserRoleDriver.HasUnconditionalAccess())
	assert.False(t, UserRoleCompany.HasUnconditionalAccess())

	role, err := ParseUserRole("company")
	require.NoError(t, err)
	assert.Equal(t, UserRoleCompany, role)

	_, err = ParseUserRole("owner")
	assert.Error(t, err)
}

func TestPackageTypeValidity(t *testing.T) {
	assert.True(t, PackageTypeMedium.IsValid())
	assert.False(t, PackageType("pallet").IsValid())
}

func TestOutboxEventTypes(t *testing.T) {
	for _, et := range validOutboxEventTypes {
		parsed, err := ParseOutboxEventType(string(et))
		require.NoError(t, err)
		assert.Equal(t, et, parsed)
	}
	_, err := ParseOutboxEventType("license_expired")
	assert.Error(t, err)
}
