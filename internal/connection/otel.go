package connection

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/arrowlink/internal/connection"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
