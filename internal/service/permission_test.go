package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/langchou/locationd/internal/models"
)

func TestStaticPermissionChecker(t *testing.T) {
	open := NewStaticPermissionChecker(nil)
	assert.True(t, open.Check(1, models.PermissionLocation))

	open.Revoke(1, models.PermissionLocation)
	assert.False(t, open.Check(1, models.PermissionLocation))
	assert.True(t, open.Check(1, models.PermissionApproximately))
	assert.True(t, open.Check(2, models.PermissionLocation))

	restricted := NewStaticPermissionChecker([]uint32{10, 11})
	assert.True(t, restricted.Check(10, models.PermissionBackground))
	assert.False(t, restricted.Check(12, models.PermissionApproximately))
}

func TestRequiredPermissions(t *testing.T) {
	assert.Equal(t, []string{models.PermissionApproximately, models.PermissionLocation}, requiredPermissions(models.AbilityGnss))
	assert.Equal(t, []string{models.PermissionApproximately}, requiredPermissions(models.AbilityPassive))
}
