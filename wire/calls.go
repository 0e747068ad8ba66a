package wire

// CallKind distinguishes the media shape of a call, reused by both 1:1
// and group call signaling (spec.md §3 Group call state, §4.7 Calls).
type CallKind string

const (
	CallAudio  CallKind = "audio"
	CallVideo  CallKind = "video"
	CallScreen CallKind = "screen"
)

func init() {
	register("call-notify", func() Message { return &CallNotify{} })
	register("call-received", func() Message { return &CallReceived{} })
	register("call-answered", func() Message { return &CallAnswered{} })
	register("call-rejected", func() Message { return &CallRejected{} })
}

// CallNotify starts a 1:1 call signaling exchange; the actual media
// channel is negotiated over the narrow transport.Channel interface,
// outside this package's scope (spec.md §1 treats media transport as an
// external collaborator).
type CallNotify struct {
	MediaKind CallKind `json:"kind"`
}

func (*CallNotify) Kind() string { return "call-notify" }

type CallReceived struct {
	MediaKind CallKind `json:"kind"`
}

func (*CallReceived) Kind() string { return "call-received" }

type CallAnswered struct {
	MediaKind CallKind `json:"kind"`
}

func (*CallAnswered) Kind() string { return "call-answered" }

type CallRejected struct {
	MediaKind CallKind `json:"kind"`
}

func (*CallRejected) Kind() string { return "call-rejected" }
