package protocol

// start (client -> server)
type StartParams struct {
	Landscape []float64 `json:"landscape"`
	Hours     float64   `json:"hours"`
}

// progress (server -> client)
type ProgressParams struct {
	Running bool      `json:"running"`
	Time    float64   `json:"time"`
	Levels  []float64 `json:"levels"`
}

// error (server -> client). Only sent for rejected commands.
type ErrorParams struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
