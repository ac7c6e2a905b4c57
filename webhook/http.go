package webhook

import (
	"encoding/json"
	"net/http"
	"strings"

	"oss.nandlabs.io/dispatch/codec"
)

// requestBody is the inbound envelope every webhook POST carries.
type requestBody struct {
	Payload   any    `json:"payload"`
	Signature string `json:"signature,omitempty"`
}

type successBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	jc := codec.JsonCodec()
	if err := jc.Write(v, w); err != nil {
		logger.ErrorF("webhook: encoding response: %v", err)
	}
}

// ServeHTTP implements http.Handler directly rather than registering with
// turbo.Router: registration paths are arbitrary, multi-segment, and
// decided at runtime, which doesn't fit turbo's single-path-variable-per-
// level route trie. The Dispatcher is mounted as a sub-handler under the
// configured prefix (see dispatch.Facade.Routes).
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Status: "error", Message: "method not allowed"})
		return
	}
	path := strings.Trim(r.URL.Path, "/")
	if path == "" {
		writeJSON(w, http.StatusNotFound, errorBody{Status: "error", Message: "not found", Code: "not_found"})
		return
	}

	if d.cfg.MaxPayloadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(d.cfg.MaxPayloadSize))
	}

	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", Message: "malformed JSON body", Code: "invalid_argument"})
		return
	}

	result, outcome, err := d.Dispatch(path, body.Payload, body.Signature)
	switch outcome {
	case OutcomeNotFound:
		writeJSON(w, http.StatusNotFound, errorBody{Status: "error", Message: "not found", Code: "not_found"})
	case OutcomeUnauthorized:
		writeJSON(w, http.StatusUnauthorized, errorBody{Status: "error", Message: "signature missing or invalid", Code: "unauthorized"})
	case OutcomeHandlerError:
		writeJSON(w, http.StatusOK, successBody{Status: "error", Message: err.Error()})
	default:
		writeJSON(w, http.StatusOK, successBody{Status: "success", Message: "dispatched", Data: result})
	}
}
