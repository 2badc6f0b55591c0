package model

// SOAPDoc is a fully-built SOAP action awaiting dispatch through the
// per-device RPC facade (internal/soap). Kept in the model package
// (rather than internal/soap) so a Renderer's wire-level queue doesn't
// need an import cycle back into internal/soap.
type SOAPDoc struct {
	ServiceURN string
	Action     string
	ControlURL string
	Body       string
}
