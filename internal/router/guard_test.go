package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vdavid/mailrelay/internal/models"
)

func TestGuard(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	guard := NewGuard(30 * time.Second)
	guard.now = func() time.Time { return now }

	assert.True(t, guard.Acquire(models.ActionTrash, "abc@x", "42"))

	t.Run("bracketed and bare ids share an entry", func(t *testing.T) {
		assert.False(t, guard.Acquire(models.ActionTrash, "<abc@x>", "43"))
	})

	t.Run("other actions are independent", func(t *testing.T) {
		assert.True(t, guard.Acquire(models.ActionRead, "abc@x", "42"))
	})

	t.Run("release", func(t *testing.T) {
		guard.Release(models.ActionRead, "abc@x")
		assert.True(t, guard.Acquire(models.ActionRead, "abc@x", "42"))
	})

	t.Run("result for another chat message keeps the entry", func(t *testing.T) {
		guard.ResolveResult(models.ActionTrash, "99")
		assert.False(t, guard.Acquire(models.ActionTrash, "abc@x", "42"))
	})

	t.Run("expiry", func(t *testing.T) {
		now = now.Add(30 * time.Second)
		assert.Equal(t, 2, guard.Sweep())
		assert.True(t, guard.Acquire(models.ActionTrash, "abc@x", "42"))
	})
}

func TestGuard_Disabled(t *testing.T) {
	guard := NewGuard(0)
	assert.Nil(t, guard)

	assert.True(t, guard.Acquire(models.ActionTrash, "abc@x", "42"))
	assert.True(t, guard.Acquire(models.ActionTrash, "abc@x", "42"))
	guard.Release(models.ActionTrash, "abc@x")
	guard.ResolveResult(models.ActionTrash, "42")
	assert.Equal(t, 0, guard.Sweep())
}
