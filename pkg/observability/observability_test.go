package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "aegis-governance", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// Accessors should still work while inert.
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestTrackOperation(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	attrs := []attribute.KeyValue{
		Subsystem("credential"),
		Operation("rotate_credential"),
	}

	newCtx, finish := p.TrackOperation(ctx, "credential.rotate", attrs...)
	require.NotNil(t, newCtx)

	time.Sleep(1 * time.Millisecond)
	finish(nil)
}

func TestTrackOperationWithError(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	_, finish := p.TrackOperation(context.Background(), "incident.detect")
	finish(errors.New("detection failed"))
}

func TestSubsystemAttribute(t *testing.T) {
	attr := Subsystem("aiethics")
	require.Equal(t, "aegis.subsystem", string(attr.Key))
	require.Equal(t, "aiethics", attr.Value.AsString())
}
