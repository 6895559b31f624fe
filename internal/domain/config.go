package domain

// Index defaults used when configuration leaves a value unset.
const (
	DefaultTargetChunkSize = 400
	DefaultChunkOverlap    = 100
	DefaultMinChunkChars   = 20
	DefaultSearchLimit     = 4
	DefaultMaxSearchLimit  = 50
)

// DefaultSeparators is the split hierarchy: paragraphs, lines, sentences, words, characters.
func DefaultSeparators() []string {
	return []string{"\n\n", "\n", ". ", " ", ""}
}

// IndexConfig holds chunking and retrieval settings for one document session.
type IndexConfig struct {
	TargetChunkSize int
	Overlap         int
	MinChunkChars   int
	Separators      []string
	LosslessCut     bool
	Dimensions      int // 0 = adopt the dimension of the first stored vector
}

// DefaultIndexConfig returns the configuration tuned for ~384-dimension sentence embedding models.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		TargetChunkSize: DefaultTargetChunkSize,
		Overlap:         DefaultChunkOverlap,
		MinChunkChars:   DefaultMinChunkChars,
		Separators:      DefaultSeparators(),
	}
}
