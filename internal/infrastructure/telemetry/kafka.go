package telemetry

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// HeaderCarrier lets the global propagator read and write Kafka message
// headers. Keys match case-insensitively.
type HeaderCarrier []kafka.Header

var _ propagation.TextMapCarrier = (*HeaderCarrier)(nil)

func (c *HeaderCarrier) Get(key string) string {
	for _, header := range *c {
		if strings.EqualFold(header.Key, key) {
			return string(header.Value)
		}
	}
	return ""
}

func (c *HeaderCarrier) Set(key, value string) {
	for i := range *c {
		if strings.EqualFold((*c)[i].Key, key) {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, header := range *c {
		keys = append(keys, header.Key)
	}
	return keys
}

// TraceHeaders returns the propagation headers for the span in ctx, empty
// when no propagator is installed or ctx carries no span.
func TraceHeaders(ctx context.Context) []kafka.Header {
	carrier := make(HeaderCarrier, 0, 2)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	return carrier
}
