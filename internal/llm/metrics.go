package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("github.com/andyfreed/kiddos/internal/llm")

	inputTokensCounter, _ = meter.Int64Counter("gen_ai.client.token.usage.input",
		metric.WithDescription("Input tokens consumed by LLM calls"))
	outputTokensCounter, _ = meter.Int64Counter("gen_ai.client.token.usage.output",
		metric.WithDescription("Output tokens produced by LLM calls"))
)

// RecordTokenMetrics records token usage for a completed model call.
func RecordTokenMetrics(ctx context.Context, inputTokens, outputTokens int, model string) {
	attrs := metric.WithAttributes(attribute.String("gen_ai.request.model", model))
	inputTokensCounter.Add(ctx, int64(inputTokens), attrs)
	outputTokensCounter.Add(ctx, int64(outputTokens), attrs)
}
