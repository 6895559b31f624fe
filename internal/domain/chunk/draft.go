package chunk

// Draft is an embedded chunk candidate before the store validates and normalizes it.
type Draft struct {
	Text     string
	Vector   []float32
	Metadata map[string]string
}
