package docstore

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunk splits text into windows of at most size runes that overlap by
// overlap runes. Window ends are pulled back to the last paragraph break,
// newline or space past the overlap so words are not cut.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(strings.TrimSpace(text))
	var out []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		if end < len(runes) {
			end = breakPoint(runes, start+overlap, end)
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
		start = max(end-overlap, start+1)
	}
	return out
}

func breakPoint(runes []rune, floor, end int) int {
	window := string(runes[floor:end])
	for _, sep := range []string{"\n\n", "\n", ". ", " "} {
		if i := strings.LastIndex(window, sep); i > 0 {
			return floor + utf8.RuneCountInString(window[:i+len(sep)])
		}
	}
	return end
}

// ChunkDocuments splits a file's text into user-upload documents. IDs are
// derived from the file name so a re-ingested file overwrites its chunks.
func ChunkDocuments(filename, text string, size, overlap int) []Document {
	pieces := Chunk(text, size, overlap)
	base := filepath.Base(filename)
	h := fnv.New32a()
	h.Write([]byte(base))
	prefix := fmt.Sprintf("%08x", h.Sum32())
	docs := make([]Document, len(pieces))
	for i, p := range pieces {
		docs[i] = Document{
			ID:      fmt.Sprintf("upload_%s_%d", prefix, i),
			Content: p,
			Metadata: Metadata{
				Source:   UploadSource,
				Category: Categorize(p),
				Type:     "custom",
				Filename: base,
				Chunk:    i,
			},
		}
	}
	return docs
}
