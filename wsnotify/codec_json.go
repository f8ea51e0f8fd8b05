package wsnotify

import "encoding/json"

// JSONCodec encodes frames and commands as JSON text frames.
type JSONCodec struct{}

func (c *JSONCodec) EncodeFrame(frame *Frame) ([]byte, error) {
	return json.Marshal(frame)
}

func (c *JSONCodec) DecodeFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func (c *JSONCodec) EncodeCommand(cmd *Command) ([]byte, error) {
	return json.Marshal(cmd)
}

func (c *JSONCodec) DecodeCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

func (c *JSONCodec) Name() string { return CodecNameJSON }

func (c *JSONCodec) Binary() bool { return false }
