package observability

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jrjohn/arcana-request-queue/internal/middleware"
)

// PropagatingTransport injects the trace context and request ID carried by the
// outgoing request's context into its headers.
func PropagatingTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		out := req.Clone(req.Context())
		otel.GetTextMapPropagator().Inject(out.Context(), propagation.HeaderCarrier(out.Header))
		if id := middleware.RequestIDFromContext(out.Context()); id != "" && out.Header.Get(middleware.RequestIDHeader) == "" {
			out.Header.Set(middleware.RequestIDHeader, id)
		}
		return base.RoundTrip(out)
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
