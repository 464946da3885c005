// Package dense implements exact inner-product retrieval over L2-normalized
// chunk embeddings. An Index is sealed: it is fully constructed either by
// New (from a fresh build) or by Load (from persisted artifacts) and is
// read-only afterwards, so mixing built and loaded state is unrepresentable.
package dense

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/MediqAI/mediq-mvp/engine/domain"
)

// vecMagic identifies the dense vector file format.
var vecMagic = [6]byte{'M', 'Q', 'V', 'E', 'C', '1'}

// Index holds the chunk embeddings (flattened, row-major) and the parallel
// chunk metadata list. vectors holds exactly dim*len(chunks) float32 values.
type Index struct {
	dim     int
	vectors []float32
	chunks  []domain.Chunk
}

// New seals a freshly built index. Vector count and chunk count must match;
// all vectors must share one dimension.
func New(vectors [][]float32, chunks []domain.Chunk) (*Index, error) {
	if len(vectors) != len(chunks) {
		return nil, &domain.IndexError{
			Artifact: fmt.Sprintf("vector/metadata count mismatch (%d != %d)", len(vectors), len(chunks)),
		}
	}
	if len(vectors) == 0 {
		return nil, &domain.IndexError{Artifact: "empty index"}
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("dense: %w: zero embedding dimension", domain.ErrConfiguration)
	}

	flat := make([]float32, 0, dim*len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("dense: %w: vector %d has dim %d, want %d",
				domain.ErrConfiguration, i, len(v), dim)
		}
		flat = append(flat, v...)
	}

	return &Index{dim: dim, vectors: flat, chunks: chunks}, nil
}

// Dim returns the embedding dimension.
func (x *Index) Dim() int { return x.dim }

// Count returns the number of indexed chunks.
func (x *Index) Count() int { return len(x.chunks) }

// Chunks returns the metadata list. Callers must treat it as read-only.
func (x *Index) Chunks() []domain.Chunk { return x.chunks }

// Vector returns the embedding row for chunk i. Callers must treat it as
// read-only.
func (x *Index) Vector(i int) []float32 { return x.vectors[i*x.dim : (i+1)*x.dim] }

// Search performs exact top-K inner-product search. Vectors are normalized
// at embed time, so inner product equals cosine similarity. Ordering is
// deterministic: score descending, corpus position breaks ties.
func (x *Index) Search(query []float32, topK int) ([]domain.Candidate, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("dense: %w: query dim %d, index dim %d",
			domain.ErrConfiguration, len(query), x.dim)
	}
	if topK <= 0 {
		return nil, nil
	}
	if topK > len(x.chunks) {
		topK = len(x.chunks)
	}

	scores := make([]float64, len(x.chunks))
	for i := range x.chunks {
		row := x.vectors[i*x.dim : (i+1)*x.dim]
		var dot float64
		for j, q := range query {
			dot += float64(q) * float64(row[j])
		}
		scores[i] = dot
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	out := make([]domain.Candidate, topK)
	for i := 0; i < topK; i++ {
		idx := order[i]
		out[i] = domain.Candidate{Chunk: x.chunks[idx], Score: scores[idx]}
	}
	return out, nil
}

// Save writes the vector file and the parallel chunk metadata file.
// Callers are responsible for atomicity (write to a staging dir, then swap).
func (x *Index) Save(vecPath, metaPath string) error {
	f, err := os.Create(vecPath)
	if err != nil {
		return fmt.Errorf("dense: create %s: %w", vecPath, err)
	}
	defer f.Close()

	if _, err := f.Write(vecMagic[:]); err != nil {
		return fmt.Errorf("dense: write header: %w", err)
	}
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], uint32(x.dim))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(x.chunks)))
	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("dense: write header: %w", err)
	}

	buf := make([]byte, 4)
	for _, v := range x.vectors {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err := f.Write(buf); err != nil {
			return fmt.Errorf("dense: write vectors: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("dense: sync %s: %w", vecPath, err)
	}

	meta, err := json.Marshal(x.chunks)
	if err != nil {
		return fmt.Errorf("dense: marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, meta, 0o644); err != nil {
		return fmt.Errorf("dense: write %s: %w", metaPath, err)
	}
	return nil
}

// Load reads persisted vectors and metadata, verifying internal consistency.
// Any mismatch is ErrIndexCorrupt: the remedy is a rebuild, not a retry.
func Load(vecPath, metaPath string) (*Index, error) {
	raw, err := os.ReadFile(vecPath)
	if err != nil {
		return nil, &domain.IndexError{Artifact: "dense vector file", Wrapped: err}
	}
	if len(raw) < len(vecMagic)+8 || string(raw[:len(vecMagic)]) != string(vecMagic[:]) {
		return nil, &domain.IndexError{Artifact: "dense vector file header"}
	}

	dim := int(binary.LittleEndian.Uint32(raw[6:10]))
	count := int(binary.LittleEndian.Uint32(raw[10:14]))
	body := raw[14:]
	if dim <= 0 || count <= 0 {
		return nil, &domain.IndexError{Artifact: "dense vector file: empty or invalid header"}
	}
	if len(body) != dim*count*4 {
		return nil, &domain.IndexError{
			Artifact: fmt.Sprintf("dense vector file: %d payload bytes, want %d", len(body), dim*count*4),
		}
	}

	flat := make([]float32, dim*count)
	for i := range flat {
		flat[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4 : i*4+4]))
	}

	metaRaw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, &domain.IndexError{Artifact: "chunk metadata file", Wrapped: err}
	}
	var chunks []domain.Chunk
	if err := json.Unmarshal(metaRaw, &chunks); err != nil {
		return nil, &domain.IndexError{Artifact: "chunk metadata file", Wrapped: err}
	}

	if len(chunks) != count {
		return nil, &domain.IndexError{
			Artifact: fmt.Sprintf("vector/metadata count mismatch (%d != %d)", count, len(chunks)),
		}
	}

	return &Index{dim: dim, vectors: flat, chunks: chunks}, nil
}
