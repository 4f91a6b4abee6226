package tracing

import (
	"testing"

	"example.com/cityevents/services/ingestion/config"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestNewTracerWithoutLicenseKeyIsDisabled(t *testing.T) {
	tracer, err := NewTracer(config.TracingConfig{})
	require.NoError(t, err)
	require.NotNil(t, tracer)
}

// The disabled tracer is the fallback when initialization fails; every
// operation must be a safe no-op so callers never have to nil-check it.
func TestDisabledTracerOperationsAreNoOps(t *testing.T) {
	tracer := NewDisabledTracer()
	require.NotNil(t, tracer)

	require.NotPanics(t, func() {
		txn := tracer.StartTransaction("test")
		span := tracer.StartSpan("stage", txn)
		span.End()
		tracer.AddAttribute(txn, "key", "value")
		tracer.RecordError(txn, errors.New("boom"))
		tracer.EndTransaction(txn)
	})
}
