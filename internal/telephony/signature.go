package telephony

import (
	"net/http"
	"strings"

	"github.com/twilio/twilio-go/client"
)

// SignatureHeader carries the webhook request signature.
const SignatureHeader = "X-Twilio-Signature"

// SignatureValidator checks webhook signatures against the public URL the
// platform was configured with.
type SignatureValidator struct {
	validator client.RequestValidator
	publicURL string
}

// NewSignatureValidator creates a validator for authToken. publicURL is the
// externally visible scheme and host, without a trailing slash.
func NewSignatureValidator(authToken, publicURL string) *SignatureValidator {
	return &SignatureValidator{
		validator: client.NewRequestValidator(authToken),
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// Valid reports whether r carries a correct signature. r.ParseForm must
// already have been called.
func (v *SignatureValidator) Valid(r *http.Request) bool {
	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		return false
	}

	params := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}
	return v.validator.Validate(v.publicURL+r.URL.RequestURI(), params, sig)
}
