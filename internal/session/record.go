package session

import "time"

type RecordKind string

const (
	RecordOpen     RecordKind = "open"
	RecordStart    RecordKind = "start"
	RecordPause    RecordKind = "pause"
	RecordResume   RecordKind = "resume"
	RecordForward  RecordKind = "forward"
	RecordTick     RecordKind = "tick"
	RecordComplete RecordKind = "complete"
	RecordReject   RecordKind = "reject"
	RecordClose    RecordKind = "close"
)

// Record is one lifecycle transition of a session. Fields not relevant to Kind stay zero.
type Record struct {
	Kind    RecordKind `json:"kind"`
	Session string     `json:"session"`
	At      time.Time  `json:"at"`

	RemoteAddr string `json:"remote_addr,omitempty"`
	RunSeq     int    `json:"run_seq,omitempty"`

	// start
	Landscape    []float64 `json:"landscape,omitempty"`
	Hours        float64   `json:"hours,omitempty"`
	DtHours      float64   `json:"dt_hours,omitempty"`
	TransferRate float64   `json:"transfer_rate,omitempty"`

	Elapsed     float64   `json:"elapsed,omitempty"`
	Ticks       int       `json:"ticks,omitempty"`
	Levels      []float64 `json:"levels,omitempty"`
	TotalVolume float64   `json:"total_volume,omitempty"`

	// reject
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// Recorder receives session records. Implementations must not block the session.
type Recorder interface {
	Record(Record)
}

type multiRecorder []Recorder

func (m multiRecorder) Record(r Record) {
	for _, rec := range m {
		rec.Record(r)
	}
}

// MultiRecorder fans records out to every non-nil recorder.
func MultiRecorder(recs ...Recorder) Recorder {
	var out multiRecorder
	for _, r := range recs {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}
