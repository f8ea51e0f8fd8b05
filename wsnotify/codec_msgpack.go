package wsnotify

import "github.com/vmihailenco/msgpack/v5"

// MsgpackCodec encodes frames and commands as MessagePack binary frames.
type MsgpackCodec struct{}

func (c *MsgpackCodec) EncodeFrame(frame *Frame) ([]byte, error) {
	return msgpack.Marshal(frame)
}

func (c *MsgpackCodec) DecodeFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func (c *MsgpackCodec) EncodeCommand(cmd *Command) ([]byte, error) {
	return msgpack.Marshal(cmd)
}

func (c *MsgpackCodec) DecodeCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := msgpack.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

func (c *MsgpackCodec) Name() string { return CodecNameMsgpack }

func (c *MsgpackCodec) Binary() bool { return true }
