package rag

// State is the lifecycle of the index.
type State int

// Index states.
const (
	StateEmpty State = iota
	StateIngesting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateIngesting:
		return "ingesting"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// IngestReport counts what happened to the chunks of one or more pages.
type IngestReport struct {
	Pages       int
	Chunks      int // produced by the chunker
	Stored      int
	TooShort    int // below the minimum length, never embedded
	Invalid     int // rejected by the store
	EmbedFailed int
}

// Add accumulates another report.
func (r *IngestReport) Add(o IngestReport) {
	r.Pages += o.Pages
	r.Chunks += o.Chunks
	r.Stored += o.Stored
	r.TooShort += o.TooShort
	r.Invalid += o.Invalid
	r.EmbedFailed += o.EmbedFailed
}
