package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPublishCarriesPayloadAndTraceContext(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)

	_, err := client.CreateTopic(ctx, "renewals")
	require.NoError(t, err)

	pub, err := New(ctx, client, "renewals")
	require.NoError(t, err)
	defer pub.Close() //nolint:errcheck // test cleanup

	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(ctx) //nolint:errcheck // test cleanup
	spanCtx, span := tp.Tracer("test").Start(ctx, "renew.run")
	defer span.End()

	id, err := pub.Publish(spanCtx, map[string]string{"run_id": "run-1"}, map[string]string{"succeeded": "true"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var body map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, "true", msgs[0].Attributes["succeeded"])
	assert.NotEmpty(t, msgs[0].Attributes["traceparent"])
}

func TestNewRejectsMissingTopic(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)

	_, err := New(ctx, client, "missing")
	require.Error(t, err)

	_, err = New(ctx, nil, "missing")
	require.Error(t, err)
}

func TestNilPublisher(t *testing.T) {
	var pub *Publisher
	_, err := pub.Publish(context.Background(), "x", nil)
	require.Error(t, err)
	require.NoError(t, pub.Close())
}

func TestDialValidatesConfig(t *testing.T) {
	_, err := Dial(context.Background(), Config{})
	require.Error(t, err)
}
