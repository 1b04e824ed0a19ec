package device

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/sw33tLie/togetter/pkg/delivery"
)

// Dictionary keys understood by the device.
const (
	KeyHeader = 0
	KeyItems  = 1
	KeySelect = 2
	KeyAck    = 3
	KeySeq    = 4
)

// Select sentinels sent by the device.
const (
	SelectRoot    = -1
	SelectRefresh = -2
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("device: CBOR encoder initialization failed: " + err.Error())
	}
	// Labels are cut at a byte boundary and may end mid-rune.
	decMode, err = cbor.DecOptions{UTF8: cbor.UTF8DecodeInvalid}.DecMode()
	if err != nil {
		panic("device: CBOR decoder initialization failed: " + err.Error())
	}
}

// outbound is a record frame, bridge to device. Seq is echoed back in
// the ack.
type outbound struct {
	Label string `cbor:"0,keyasint"`
	Items []byte `cbor:"1,keyasint"`
	Seq   uint32 `cbor:"4,keyasint"`
}

// inbound is a frame from the device: a selection or a delivery ack.
type inbound struct {
	Select *int   `cbor:"2,keyasint,omitempty"`
	Ack    *bool  `cbor:"3,keyasint,omitempty"`
	Seq    uint32 `cbor:"4,keyasint,omitempty"`
}

// EncodeMessage builds the frame for msg, tagged with seq.
func EncodeMessage(msg delivery.Message, seq uint32) ([]byte, error) {
	return encMode.Marshal(outbound{Label: msg.Label, Items: msg.Items, Seq: seq})
}

// DecodeMessage parses a record frame and returns its sequence number.
func DecodeMessage(data []byte) (delivery.Message, uint32, error) {
	var out outbound
	if err := decMode.Unmarshal(data, &out); err != nil {
		return delivery.Message{}, 0, fmt.Errorf("decoding record frame: %w", err)
	}
	return delivery.Message{Label: out.Label, Items: out.Items}, out.Seq, nil
}

// EncodeSelect builds the frame a device sends when a row is chosen.
func EncodeSelect(index int) ([]byte, error) {
	return encMode.Marshal(inbound{Select: &index})
}

// EncodeAck builds the frame a device sends after receiving record seq.
func EncodeAck(seq uint32, ok bool) ([]byte, error) {
	return encMode.Marshal(inbound{Ack: &ok, Seq: seq})
}

func decodeInbound(data []byte) (inbound, error) {
	var in inbound
	if err := decMode.Unmarshal(data, &in); err != nil {
		return inbound{}, err
	}
	return in, nil
}
