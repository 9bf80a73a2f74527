package session

import "walkroom/native/internal/domain"

// candidateBuffer holds remote candidates that arrived before the remote
// description was applied. It is only touched under the coordinator lock.
type candidateBuffer struct {
	items []domain.Candidate
}

func (b *candidateBuffer) push(c domain.Candidate) {
	b.items = append(b.items, c)
}

// drain returns the buffered candidates in arrival order and empties the
// buffer.
func (b *candidateBuffer) drain() []domain.Candidate {
	items := b.items
	b.items = nil
	return items
}

func (b *candidateBuffer) len() int {
	return len(b.items)
}

func (b *candidateBuffer) clear() {
	b.items = nil
}
