package template

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/backend/sqlite"
)

func TestEngine_EmitsSpans(t *testing.T) {
	var buf bytes.Buffer

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(&buf))
	require.NoError(t, err)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() {
		require.NoError(t, tp.Shutdown(context.Background()))
	}()

	store := sqlite.NewInMemoryStore()
	defer store.Close()

	e := NewEngine(store, backend.WithTracerProvider(tp))

	tmpl, err := e.Create(context.Background(), testIdentity, auditDef())
	require.NoError(t, err)

	newName := "Auditoría externa"
	_, err = e.Update(context.Background(), testIdentity, tmpl.ID, Patch{Name: &newName})
	require.NoError(t, err)

	require.NoError(t, tp.ForceFlush(context.Background()))

	out := buf.String()
	require.Contains(t, out, "template.Create")
	require.Contains(t, out, "template.Update")
	require.Contains(t, out, testIdentity.TenantID)
}
