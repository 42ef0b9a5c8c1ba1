package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcBackoff(t *testing.T) {
	assert.Equal(t, time.Second, calcBackoff(1))
	assert.Equal(t, 2*time.Second, calcBackoff(2))
	assert.Equal(t, 16*time.Second, calcBackoff(5))
	assert.Equal(t, 16*time.Second, calcBackoff(40))
}

func TestPoolConfig(t *testing.T) {
	pc, err := poolConfig(Config{URL: "postgres://u:p@localhost:5432/orch", MaxOpenConns: 12, MaxIdleConns: 3, ConnMaxLifetime: time.Minute})
	require.NoError(t, err)
	assert.EqualValues(t, 12, pc.MaxConns)
	assert.EqualValues(t, 3, pc.MinConns)
	assert.Equal(t, time.Minute, pc.MaxConnLifetime)
	assert.Equal(t, ApplicationName, pc.ConnConfig.RuntimeParams["application_name"])

	pc, err = poolConfig(Config{URL: "postgres://u:p@localhost:5432/orch?application_name=ops-shell"})
	require.NoError(t, err)
	assert.Equal(t, "ops-shell", pc.ConnConfig.RuntimeParams["application_name"])
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect(context.Background(), Config{URL: "://nope"})
	assert.ErrorContains(t, err, "parse database url")
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleep(ctx, time.Hour))
}
