package realtime

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/version"
)

// FrameType distinguishes subscribe acknowledgments from pushed updates.
type FrameType string

const (
	FrameAck    FrameType = "ack"
	FrameUpdate FrameType = "update"
)

// Frame is the message sent to a subscriber.
//
// An ack carries the state at subscribe time; an update carries a
// committed transition. Clients drop any frame whose Version is not newer
// than the last one applied, since an update may race the ack.
type Frame struct {
	Type        FrameType       `json:"type" cbor:"type"`
	AutomataID  string          `json:"automata_id" cbor:"automata_id"`
	EventType   string          `json:"event_type,omitempty" cbor:"event_type,omitempty"`
	BaseVersion version.Version `json:"base_version,omitempty" cbor:"base_version,omitempty"`
	Version     version.Version `json:"version" cbor:"version"`
	State       ir.State        `json:"state" cbor:"state"`
}

// updateFrame builds the frame pushed for a committed transition.
func updateFrame(t ir.Transition) Frame {
	return Frame{
		Type:        FrameUpdate,
		AutomataID:  t.AutomataID,
		EventType:   t.EventType,
		BaseVersion: t.BaseVersion,
		Version:     t.Version,
		State:       t.State,
	}
}

// Codec turns frames into bytes for a Gateway.
type Codec interface {
	Encode(f Frame) ([]byte, error)
	Decode(data []byte) (Frame, error)
	// Name identifies the encoding, e.g. for a subprotocol header.
	Name() string
}

// JSONCodec encodes frames as JSON text.
type JSONCodec struct{}

// Encode implements Codec.
func (JSONCodec) Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Decode implements Codec.
func (JSONCodec) Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// cborEnc uses Core Deterministic Encoding (RFC 8949 §4.2): equal frames
// always produce identical bytes.
var cborEnc cbor.EncMode

// cborDec decodes maps under any-typed values as map[string]any, matching
// what JSON produces for state.
var cborDec cbor.DecMode

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("realtime: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("realtime: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec encodes frames as deterministic CBOR.
type CBORCodec struct{}

// Encode implements Codec.
func (CBORCodec) Encode(f Frame) ([]byte, error) {
	data, err := cborEnc.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Decode implements Codec.
func (CBORCodec) Decode(data []byte) (Frame, error) {
	var f Frame
	if err := cborDec.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// Name implements Codec.
func (CBORCodec) Name() string { return "cbor" }

// CodecByName returns the codec called name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown frame codec %q", name)
	}
}
