package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want error
	}{
		{"ok", Config{ServiceName: "fluidstore", SampleRate: 1}, nil},
		{"no name", Config{SampleRate: 1}, ErrMissingServiceName},
		{"rate above one", Config{ServiceName: "fluidstore", SampleRate: 1.5}, ErrInvalidSampleRate},
		{"negative rate", Config{ServiceName: "fluidstore", SampleRate: -0.1}, ErrInvalidSampleRate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.cfg.Validate(), tc.want)
		})
	}
}

func TestInitialize_DisabledWithoutEndpoint(t *testing.T) {
	tel, err := Initialize(context.Background(), Config{ServiceName: "fluidstore", SampleRate: 1})
	require.NoError(t, err)
	require.False(t, tel.Enabled())
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestSpansAreExported(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tel, err := Initialize(context.Background(),
		Config{ServiceName: "fluidstore", ServiceVersion: "test", SampleRate: 1},
		WithExporter(exp), WithSyncExport(),
	)
	require.NoError(t, err)
	require.True(t, tel.Enabled())
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	ctx, span := StartSpan(context.Background(), "checkout.submit", attribute.String("cart.id", "c-1"))
	require.NotEmpty(t, TraceID(ctx))
	EndSpan(span, nil)

	_, failed := StartSpan(context.Background(), "gateway.SubmitOrder")
	EndSpan(failed, errors.New("connection reset"))

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	require.Equal(t, "checkout.submit", spans[0].Name)
	require.Equal(t, codes.Ok, spans[0].Status.Code)
	require.Contains(t, spans[0].Attributes, attribute.String("cart.id", "c-1"))
	require.Equal(t, codes.Error, spans[1].Status.Code)
	require.Equal(t, "connection reset", spans[1].Status.Description)
}

func TestTraceID_EmptyWithoutSpan(t *testing.T) {
	require.Empty(t, TraceID(context.Background()))
}
