package gateway

// Gateway command operations.
const (
	OpConnect             = "connect"
	OpEnableAccelerometer = "enableAccelerometer"
	OpNotifyAccelerometer = "notifyAccelerometer"
	OpEnableHumidity      = "enableHumidity"
	OpNotifySimpleKey     = "notifySimpleKey"
	OpReadHumidity        = "readHumidity"
	OpDisconnect          = "disconnect"
)

type announce struct {
	ID string `json:"id"`
}

type command struct {
	Req string `json:"req"`
	Op  string `json:"op"`
}

type ack struct {
	Req         string   `json:"req"`
	Error       string   `json:"error,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
}

type accelEvent struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type keyEvent struct {
	Left      bool `json:"left"`
	Right     bool `json:"right"`
	ReedRelay bool `json:"reedRelay"`
}

type disconnectEvent struct {
	Reason string `json:"reason"`
}
