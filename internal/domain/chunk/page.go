package chunk

// Metadata keys set by the engine.
const (
	MetaPage       = "page"
	MetaChunkIndex = "chunk_index"
	MetaSource     = "source"
)

// Page is one unit of extracted text delivered by the OCR/extraction collaborator.
// Pages may arrive in any order.
type Page struct {
	Number   int
	Text     string
	Metadata map[string]string
}
