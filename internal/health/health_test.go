package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry(0)
	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy, "empty registry should be healthy")
	assert.Empty(t, statuses)
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register(Static("policy", "default table"))
	r.Register(func(_ context.Context) Status {
		return Status{Name: "telemetry", Healthy: false, Detail: "store unreachable"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Len(t, statuses, 2)
	assert.Equal(t, "policy", statuses[0].Name, "registration order kept")
	assert.Equal(t, map[string]string{"policy": StateUp, "telemetry": StateDown}, Components(statuses))
}

func TestRegistryChecksShareTimeout(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register(func(ctx context.Context) Status {
		select {
		case <-ctx.Done():
			return Status{Name: "database", Healthy: false, Detail: ctx.Err().Error()}
		case <-time.After(time.Second):
			return Status{Name: "database", Healthy: true}
		}
	})

	start := time.Now()
	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, "database", statuses[0].Name)
}

func TestStatusState(t *testing.T) {
	assert.Equal(t, "UP", Status{Healthy: true}.State())
	assert.Equal(t, "DOWN", Status{}.State())
}
