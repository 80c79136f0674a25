package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-portal-api/pkg/config"
)

func TestKeyJoinsSegments(t *testing.T) {
	assert.Equal(t, "portal:session:user", Key("portal:session:", "", "user"))
	assert.Equal(t, "catalog:courses", Key(":catalog", "courses"))
	assert.Equal(t, "", Key())
}

func TestNewRedisDisabled(t *testing.T) {
	client, err := NewRedis(context.Background(), config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, client)
}
