package wal

// Options configures a Manager.
type Options struct {
	// Path is the WAL file on disk.
	Path string

	// BufferSize sizes the bufio.Writer sitting in front of the file.
	BufferSize int
}

// DefaultOptions returns a safe configuration.
func DefaultOptions() Options {
	return Options{
		Path:       "wal.log",
		BufferSize: 64 * 1024,
	}
}
