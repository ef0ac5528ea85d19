package client

import (
	"strings"

	"github.com/killallgit/streamline/pkg/stream"
)

type contentMode int

const (
	modeUnset contentMode = iota
	modeDelta
	modeCumulative
)

func (m contentMode) String() string {
	switch m {
	case modeDelta:
		return "delta"
	case modeCumulative:
		return "cumulative"
	default:
		return "unset"
	}
}

// accumulator builds the full text of one stream from its chunks. The first
// usable chunk locks the mode: a chunk carrying delta selects delta mode,
// one carrying only content selects cumulative mode.
type accumulator struct {
	mode       contentMode
	content    strings.Builder
	chunkCount int
}

// AddChunk folds chunk into the text. It reports false when the chunk
// carries nothing usable in the locked mode.
func (a *accumulator) AddChunk(chunk *stream.Chunk) bool {
	if a.mode == modeUnset {
		switch {
		case chunk.Delta != nil:
			a.mode = modeDelta
		case chunk.Content != nil:
			a.mode = modeCumulative
		default:
			return false
		}
	}

	switch a.mode {
	case modeDelta:
		if chunk.Delta == nil {
			return false
		}
		a.content.WriteString(*chunk.Delta)
	case modeCumulative:
		if chunk.Content == nil {
			return false
		}
		a.content.Reset()
		a.content.WriteString(*chunk.Content)
	}

	a.chunkCount++
	return true
}

func (a *accumulator) Content() string {
	return a.content.String()
}
