package memory

import (
	"encoding/binary"
	"fmt"
	"math"
)

const vectorHeaderSize = 4

// encodeVector packs a float32 vector as
// [4-byte LE dimension][N x 4-byte LE float32].
func encodeVector(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("encode vector: empty vector")
	}

	blob := make([]byte, vectorHeaderSize+len(vec)*4)
	binary.LittleEndian.PutUint32(blob[:vectorHeaderSize], uint32(len(vec)))
	offset := vectorHeaderSize
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("encode vector: invalid value at index %d", i)
		}
		binary.LittleEndian.PutUint32(blob[offset:offset+4], math.Float32bits(v))
		offset += 4
	}
	return blob, nil
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob) < vectorHeaderSize {
		return nil, fmt.Errorf("decode vector: blob too short: %d", len(blob))
	}
	dim := int(binary.LittleEndian.Uint32(blob[:vectorHeaderSize]))
	if dim <= 0 || len(blob) != vectorHeaderSize+dim*4 {
		return nil, fmt.Errorf("decode vector: dimension mismatch: dim=%d payload=%d", dim, len(blob)-vectorHeaderSize)
	}

	vec := make([]float32, dim)
	offset := vectorHeaderSize
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[offset : offset+4]))
		offset += 4
	}
	return vec, nil
}

func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("cosine similarity: empty vector")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("cosine similarity: dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("cosine similarity: zero vector norm")
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if score > 1 {
		score = 1
	} else if score < -1 {
		score = -1
	}
	return score, nil
}
