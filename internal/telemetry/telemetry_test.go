package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type tracedRow struct {
	ID   uint
	Name string
}

func openTraced(t *testing.T) (*gorm.DB, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tracedRow{}))
	require.NoError(t, db.Use(newTracingPlugin(tp.Tracer("test"))))
	return db, recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) string {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestTracingPluginRecordsOperations(t *testing.T) {
	db, recorder := openTraced(t)
	ctx := context.Background()

	require.NoError(t, db.WithContext(ctx).Create(&tracedRow{Name: "a"}).Error)
	var row tracedRow
	require.NoError(t, db.WithContext(ctx).First(&row).Error)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "db.insert", spans[0].Name())
	assert.Equal(t, "INSERT", spanAttr(spans[0], dbOperationKey))
	assert.Equal(t, "sqlite", spanAttr(spans[0], dbSystemKey))
	assert.Equal(t, "traced_rows", spanAttr(spans[0], dbTableKey))

	assert.Equal(t, "db.select", spans[1].Name())
	assert.Contains(t, spanAttr(spans[1], dbStatementKey), "SELECT")
}

func TestTracingPluginIgnoresNotFound(t *testing.T) {
	db, recorder := openTraced(t)

	var row tracedRow
	err := db.WithContext(context.Background()).First(&row, 42).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Empty(t, spans[0].Events())
}

func TestTruncateStatement(t *testing.T) {
	assert.Equal(t, "SELECT 1", truncateStatement("SELECT 1"))

	long := strings.Repeat("x", maxStatementLength+10)
	got := truncateStatement(long)
	assert.True(t, strings.HasSuffix(got, "... (truncated)"))
	assert.Len(t, got, maxStatementLength+len("... (truncated)"))
}

func TestSamplingRateClamped(t *testing.T) {
	assert.Equal(t, 0.0, samplingRate(-1))
	assert.Equal(t, 1.0, samplingRate(3))
	assert.Equal(t, 0.25, samplingRate(0.25))
}

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, tp)
}
