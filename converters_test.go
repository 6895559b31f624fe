package docqa

import (
	"testing"

	"github.com/kailas-cloud/docqa/internal/domain/chunk"
	"github.com/kailas-cloud/docqa/internal/domain/search/result"
	"github.com/kailas-cloud/docqa/internal/usecase/rag"
)

func TestToDomainPage_CopiesMetadata(t *testing.T) {
	meta := map[string]string{"source": "a.pdf"}
	p := toDomainPage(Page{Number: 4, Text: "t", Metadata: meta})
	meta["source"] = "changed"

	if p.Number != 4 || p.Text != "t" || p.Metadata["source"] != "a.pdf" {
		t.Errorf("unexpected page: %+v", p)
	}
}

func TestFromDomainReport(t *testing.T) {
	r := fromDomainReport(rag.IngestReport{Pages: 1, Chunks: 5, Stored: 2, TooShort: 1, Invalid: 1, EmbedFailed: 1})
	want := IngestReport{Pages: 1, Chunks: 5, Stored: 2, TooShort: 1, Invalid: 1, EmbedFailed: 1}
	if r != want {
		t.Errorf("got %+v, want %+v", r, want)
	}
}

func TestFromDomainResults(t *testing.T) {
	c, err := chunk.New("c1", 0, "text", []float32{1}, map[string]string{"page": "1"})
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	hits := fromDomainResults([]result.Result{result.New(c, 0.5)})

	if len(hits) != 1 || hits[0].ID != "c1" || hits[0].Text != "text" || hits[0].Score != 0.5 {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	hits[0].Metadata["page"] = "9"
	if cm := c.Metadata(); cm["page"] != "1" {
		t.Error("hit metadata must not alias the index")
	}
}
