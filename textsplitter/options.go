package textsplitter

import "log/slog"

// options holds configuration settings for the text splitter.
type options struct {
	chunkSize    int
	chunkOverlap int
	separators   [][]string
	logger       *slog.Logger
}

// Option is a function type for configuring the splitter.
type Option func(*options)

// WithChunkSize sets the maximum chunk length in characters.
func WithChunkSize(size int) Option {
	return func(o *options) {
		o.chunkSize = size
	}
}

// WithChunkOverlap sets the number of characters shared by consecutive chunks.
func WithChunkOverlap(overlap int) Option {
	return func(o *options) {
		o.chunkOverlap = overlap
	}
}

// WithSeparators replaces the break candidates. Each separator forms its own
// level, tried in the given order before falling back to a hard cut.
func WithSeparators(separators ...string) Option {
	return func(o *options) {
		o.separators = o.separators[:0:0]
		for _, sep := range separators {
			if sep != "" {
				o.separators = append(o.separators, []string{sep})
			}
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
