package realtime

import (
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"

	v1 "github.com/nirjar1012/newChat/shared/contracts/realtime/v1"
)

// codec is a drop-in encoding/json replacement; custom (Un)MarshalJSON methods
// of the contract types are honored.
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// newEnvelope wraps payload into an outbound v1 envelope.
func newEnvelope(typ string, payload any, now time.Time) (v1.Envelope, error) {
	raw, err := codec.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, errors.Wrapf(err, "realtime: encode %s", typ)
	}
	return newRawEnvelope(typ, raw, now)
}

// newRawEnvelope wraps an already encoded payload.
func newRawEnvelope(typ string, raw []byte, now time.Time) (v1.Envelope, error) {
	id, err := NewEnvelopeID(now)
	if err != nil {
		return v1.Envelope{}, errors.Wrap(err, "realtime: envelope id")
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      now,
		Payload: raw,
	}, nil
}

// newErrorEnvelope builds the error envelope reported back to a session.
func newErrorEnvelope(err error, now time.Time) (v1.Envelope, error) {
	return newEnvelope(v1.TypeError, v1.ErrorPayload{
		Code:    ErrorCode(err),
		Message: err.Error(),
	}, now)
}

// decodePayload decodes env.Payload into dst. Failures wrap ErrBadPayload.
func decodePayload(env v1.Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return errors.Wrapf(ErrBadPayload, "%s: empty payload", env.Type)
	}
	if err := codec.Unmarshal(env.Payload, dst); err != nil {
		return errors.Wrapf(ErrBadPayload, "%s: %v", env.Type, err)
	}
	return nil
}

// encodeEnvelope renders env for the wire.
func encodeEnvelope(env v1.Envelope) ([]byte, error) {
	return codec.Marshal(env)
}

// decodeEnvelope parses one inbound frame.
func decodeEnvelope(data []byte) (v1.Envelope, error) {
	var env v1.Envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}
