package wsnotify

// Codec defines the serialization contract for frames and commands.
// Servers encode frames and decode commands; clients do the reverse.
type Codec interface {
	// EncodeFrame serializes a server frame to bytes.
	EncodeFrame(frame *Frame) ([]byte, error)

	// DecodeFrame deserializes bytes into a server frame.
	DecodeFrame(data []byte) (*Frame, error)

	// EncodeCommand serializes a client command to bytes.
	EncodeCommand(cmd *Command) ([]byte, error)

	// DecodeCommand deserializes bytes into a client command.
	DecodeCommand(data []byte) (*Command, error)

	// Name returns the codec identifier.
	Name() string

	// Binary reports whether the codec uses binary WebSocket frames.
	Binary() bool
}

// Codec names for format negotiation.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Defaults to JSON.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return &MsgpackCodec{}
	default:
		return &JSONCodec{}
	}
}
