package gpu

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asesmartice/floorwatch/internal/config"
)

func testThresholds() config.GPUSettings {
	return config.GPUSettings{
		TempScaleUpMax:     70,
		UtilScaleUpMax:     70,
		FreeGBScaleUpMin:   2,
		TempScaleDownMin:   75,
		UtilScaleDownMin:   85,
		FreeGBScaleDownMax: 1,
		TempEmergency:      80,
	}
}

func TestClassify_ScaleUp(t *testing.T) {
	s := Sample{TempC: 50, UtilPercent: 40, FreeMemGB: 4}
	assert.Equal(t, DecisionScaleUp, Classify(s, testThresholds()))
}

func TestClassify_ScaleDownOnHighUtil(t *testing.T) {
	s := Sample{TempC: 60, UtilPercent: 90, FreeMemGB: 4}
	assert.Equal(t, DecisionScaleDown, Classify(s, testThresholds()))
}

func TestClassify_ScaleDownOnLowFreeMemory(t *testing.T) {
	s := Sample{TempC: 60, UtilPercent: 50, FreeMemGB: 0.5}
	assert.Equal(t, DecisionScaleDown, Classify(s, testThresholds()))
}

func TestClassify_Emergency_TakesPriorityOverScaleDown(t *testing.T) {
	s := Sample{TempC: 85, UtilPercent: 95, FreeMemGB: 0.2}
	assert.Equal(t, DecisionEmergency, Classify(s, testThresholds()))
}

func TestClassify_Hold_InBetweenThresholds(t *testing.T) {
	s := Sample{TempC: 72, UtilPercent: 72, FreeMemGB: 1.5}
	assert.Equal(t, DecisionHold, Classify(s, testThresholds()))
}

func TestInProcessCooldownStore_ExpiresAfterDuration(t *testing.T) {
	store := NewInProcessCooldownStore()
	ctx := context.Background()

	in, err := store.InCooldown(ctx)
	require.NoError(t, err)
	assert.False(t, in)

	require.NoError(t, store.SetCooldown(ctx, 0))
	in, err = store.InCooldown(ctx)
	require.NoError(t, err)
	assert.False(t, in, "zero duration cooldown has already expired")
}

func TestRedisCooldownStore_RoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisCooldownStore(client)
	ctx := context.Background()

	in, err := store.InCooldown(ctx)
	require.NoError(t, err)
	assert.False(t, in)

	require.NoError(t, store.SetCooldown(ctx, 60))
	in, err = store.InCooldown(ctx)
	require.NoError(t, err)
	assert.True(t, in)
}

func TestFallbackCooldownStore_FallsBackOnRedisError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close() // redis is now unreachable

	primary := NewRedisCooldownStore(client)
	secondary := NewInProcessCooldownStore()
	fb := NewFallbackCooldownStore(primary, secondary)

	ctx := context.Background()
	require.NoError(t, fb.SetCooldown(ctx, 60*1e9))
	in, err := fb.InCooldown(ctx)
	require.NoError(t, err)
	assert.True(t, in, "falls back to the in-process store when redis is down")
}
