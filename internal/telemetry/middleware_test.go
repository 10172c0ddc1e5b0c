package telemetry

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestFiberMiddlewareNamesSpanByRoute(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	app := fiber.New()
	app.Use(FiberMiddleware())
	app.Get("/v1/subscriptions/:id", func(c *fiber.Ctx) error {
		SetSpanAttribute(c, "tenant_id", "t1")
		return c.SendString(c.Params("id"))
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusBadGateway, "upstream")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/subscriptions/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	_, err = app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "GET /v1/subscriptions/:id", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	var tenant string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "tenant_id" {
			tenant = kv.Value.AsString()
		}
	}
	assert.Equal(t, "t1", tenant)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	assert.NotNil(t, m.VisitsMarked)
	assert.NotNil(t, m.Extensions)
	assert.NotNil(t, m.CASRetries)
}
