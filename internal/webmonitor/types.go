package webmonitor

// BoundingBox is the JSON shape of a box in full-frame coordinates.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Detection is the JSON shape of one detection in monitor APIs.
type Detection struct {
	ClassID    int         `json:"class_id"`
	Confidence float64     `json:"confidence"`
	Area       int         `json:"area"`
	Near       bool        `json:"near"`
	BBox       BoundingBox `json:"bbox"`
}

// StageEvent is the payload for /api/stage/stream, one per tick.
type StageEvent struct {
	Tick          uint64      `json:"tick"`
	Timestamp     float64     `json:"timestamp"`
	Stage         string      `json:"stage"`
	Payload       string      `json:"payload,omitempty"`
	DispatchError string      `json:"dispatch_error,omitempty"`
	Detections    []Detection `json:"detections"`
}

// LoopStats summarizes the control loop for /api/status.
type LoopStats struct {
	Ticks           uint64  `json:"ticks"`
	Stage           string  `json:"stage"`
	LastPayload     string  `json:"last_payload"`
	LastPayloadTick uint64  `json:"last_payload_tick"`
	CurrentFPS      float64 `json:"current_fps"`
	FrameClients    int     `json:"frame_clients"`
	EventClients    int     `json:"event_clients"`
}
