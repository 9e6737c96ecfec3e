package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

var errNoCtor = errors.New("codec: protobuf codec has no constructor")

// Protobuf encodes proto messages. T is the pointer message type, and ctor
// returns an empty one for Decode, e.g. func() *pb.Goal { return new(pb.Goal) }.
type Protobuf[T proto.Message] struct {
	ctor func() T
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{ctor: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) { return proto.Marshal(v) }

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	if c.ctor == nil {
		var zero T
		return zero, errNoCtor
	}
	m := c.ctor()
	err := proto.Unmarshal(b, m)
	return m, err
}
