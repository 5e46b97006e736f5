package httpmsg

// Guardrails from spec.md §4.6. Excess input is truncated rather than
// failing the connection.
const (
	MaxHeaders         = 100
	MaxHeaderNameSize  = 256
	MaxHeaderValueSize = 8190
)

// wellKnownOrder lists response headers emitted first, in this order,
// followed by any remaining headers in insertion order (spec.md §4.6,
// §6 "Response headers always emitted in known-good order").
var wellKnownOrder = []string{
	"Date",
	"Server",
	"Cache-Control",
	"Expires",
	"Location",
	"Content-Encoding",
	"Transfer-Encoding",
	"Content-Length",
	"Content-Type",
	"Last-Modified",
	"Connection",
	"Keep-Alive",
}
