package wire

func init() {
	register("file-start", func() Message { return &FileStart{} })
	register("file-chunk", func() Message { return &FileChunk{} })
	register("file-end", func() Message { return &FileEnd{} })
	register("file-ack", func() Message { return &FileAck{} })
}

// FileStart announces an incoming chunked transfer.
type FileStart struct {
	TID        string `json:"tid"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	TotalChunk int    `json:"total"`
}

func (*FileStart) Kind() string { return "file-start" }

// FileChunk is one chunk of a transfer, at most 16 KiB per spec.md §4.7.
type FileChunk struct {
	TID   string `json:"tid"`
	Index int    `json:"index"`
	Bytes []byte `json:"bytes"`
}

func (*FileChunk) Kind() string { return "file-chunk" }

// FileEnd marks the end of a transfer; it follows the last FileChunk and
// carries no data.
type FileEnd struct {
	TID string `json:"tid"`
}

func (*FileEnd) Kind() string { return "file-end" }

// FileAck acknowledges full receipt of a transfer.
type FileAck struct {
	TID string `json:"tid"`
}

func (*FileAck) Kind() string { return "file-ack" }
