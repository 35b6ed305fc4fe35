package live

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/HerbHall/tagwatch/internal/telemetry"
)

// ErrMalformedControl is returned for inbound messages that are not a JSON
// control object.
var ErrMalformedControl = errors.New("malformed control message")

// Envelope wraps every record pushed to subscribers. Type is the record's
// type tag ("accel", "tempAndHum").
type Envelope struct {
	Type string                 `json:"type"`
	Data telemetry.ChangeRecord `json:"data"`
}

// Greeting is the first message a subscriber receives.
type Greeting struct {
	Msg string `json:"msg"`
}

// ControlMessage is sent by subscribers. A nil Threshold means the message
// carried no threshold field.
type ControlMessage struct {
	Threshold *float64 `json:"threshold"`
}

// ParseControl decodes one inbound subscriber message.
func ParseControl(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}
	return msg, nil
}

func encodeEnvelope(rec telemetry.ChangeRecord) ([]byte, error) {
	return json.Marshal(Envelope{Type: rec.DataType, Data: rec})
}
