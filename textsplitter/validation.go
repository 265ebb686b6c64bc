package textsplitter

import "fmt"

func (o *options) validate() error {
	if o.chunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunkSize, o.chunkSize)
	}

	if o.chunkOverlap < 0 {
		return fmt.Errorf("%w: chunk overlap cannot be negative, got %d", ErrInvalidChunkOverlap, o.chunkOverlap)
	}

	if o.chunkOverlap >= o.chunkSize {
		return fmt.Errorf("%w: chunk overlap (%d) must be smaller than chunk size (%d)",
			ErrInvalidChunkOverlap, o.chunkOverlap, o.chunkSize)
	}

	return nil
}
