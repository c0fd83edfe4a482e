package postgres

import (
	"io"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pgx-contrib/pgxtrace"
	"github.com/stretchr/testify/assert"

	"github.com/thunderstriders/lapcounter/log"
)

func TestHasOtelTracer(t *testing.T) {
	logTracer := NewLogTracer(log.New(io.Discard, log.InfoLevel), log.DebugLevel)
	tests := []struct {
		name   string
		tracer pgx.QueryTracer
		want   bool
	}{
		{"none", nil, false},
		{"log only", logTracer, false},
		{"otel", NewOtlpTracer(), true},
		{"composite without otel", pgxtrace.CompositeQueryTracer{logTracer}, false},
		{"composite with otel", pgxtrace.CompositeQueryTracer{logTracer, NewOtlpTracer()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasOtelTracer(tt.tracer))
		})
	}
}
