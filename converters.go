package docqa

import (
	"maps"

	"github.com/kailas-cloud/docqa/internal/domain/chunk"
	"github.com/kailas-cloud/docqa/internal/domain/search/result"
	"github.com/kailas-cloud/docqa/internal/usecase/rag"
)

func toDomainPage(p Page) chunk.Page {
	return chunk.Page{Number: p.Number, Text: p.Text, Metadata: maps.Clone(p.Metadata)}
}

func fromDomainReport(r rag.IngestReport) IngestReport {
	return IngestReport{
		Pages:       r.Pages,
		Chunks:      r.Chunks,
		Stored:      r.Stored,
		TooShort:    r.TooShort,
		Invalid:     r.Invalid,
		EmbedFailed: r.EmbedFailed,
	}
}

func fromDomainResults(results []result.Result) []Hit {
	hits := make([]Hit, len(results))
	for i := range results {
		c := results[i].Chunk()
		hits[i] = Hit{
			Chunk: Chunk{
				ID:       c.ID(),
				Text:     c.Text(),
				Metadata: maps.Clone(c.Metadata()),
			},
			Score: results[i].Score(),
		}
	}
	return hits
}
