package portal

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/noah-isme/course-portal-api/internal/models"
	appErrors "github.com/noah-isme/course-portal-api/pkg/errors"
	"github.com/noah-isme/course-portal-api/pkg/response"
)

// wireEnvelope mirrors response.Envelope with the payload left raw.
type wireEnvelope struct {
	Version    string                 `json:"version"`
	Success    *bool                  `json:"success"`
	Message    string                 `json:"message,omitempty"`
	Data       json.RawMessage        `json:"data,omitempty"`
	Error      *appErrors.Error       `json:"error,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// decodeEnvelope accepts only the v1 envelope. Anything else, including
// unknown fields, a missing success flag or a failure without an error body,
// is a TRANSPORT_ERROR.
func decodeEnvelope(status int, raw []byte, dest interface{}) (*response.Envelope, error) {
	var wire wireEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return nil, transportError(err, fmt.Sprintf("unexpected response (HTTP %d)", status))
	}
	if dec.More() {
		return nil, transportError(nil, "trailing data after response envelope")
	}
	if wire.Version != response.SchemaVersion {
		return nil, transportError(nil, fmt.Sprintf("unsupported envelope version %q", wire.Version))
	}
	if wire.Success == nil {
		return nil, transportError(nil, "response envelope missing success flag")
	}

	env := &response.Envelope{
		Version:    wire.Version,
		Success:    *wire.Success,
		Message:    wire.Message,
		Error:      wire.Error,
		Pagination: wire.Pagination,
		Meta:       wire.Meta,
	}

	if !env.Success {
		if wire.Error == nil || wire.Error.Code == "" {
			return nil, transportError(nil, fmt.Sprintf("failure envelope without error (HTTP %d)", status))
		}
		if wire.Error.Status == 0 {
			wire.Error.Status = status
		}
		return env, wire.Error
	}
	if status >= 400 {
		return nil, transportError(nil, fmt.Sprintf("success envelope with HTTP %d", status))
	}

	if dest != nil {
		if len(wire.Data) == 0 {
			return nil, transportError(nil, "response envelope missing data")
		}
		if err := json.Unmarshal(wire.Data, dest); err != nil {
			return nil, transportError(err, "response data does not match expected shape")
		}
	}
	env.Data = wire.Data
	return env, nil
}

func transportError(err error, detail string) *appErrors.Error {
	wrapped := appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, appErrors.ErrTransport.Message)
	if err == nil {
		wrapped.Err = fmt.Errorf("%s", detail)
	} else {
		wrapped.Err = fmt.Errorf("%s: %w", detail, err)
	}
	return wrapped
}
