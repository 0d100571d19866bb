package wire

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoder writes events as consecutive msgpack arrays. msgpack values are
// self-delimiting, so no length prefix is needed between records.
type Encoder struct {
	enc *msgpack.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	enc := msgpack.NewEncoder(w)
	enc.UseCompactInts(true)
	return &Encoder{enc: enc}
}

func (e *Encoder) Encode(ev Event) error {
	if err := e.enc.Encode(&ev); err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Name, err)
	}
	return nil
}

// Decoder reads events written by Encoder. Integers decode as int64 or
// uint64 and maps as map[string]any.
type Decoder struct {
	dec *msgpack.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)
	return &Decoder{dec: dec}
}

// Decode returns the next event, or io.EOF once the stream ends cleanly.
func (d *Decoder) Decode() (Event, error) {
	var ev Event
	if err := d.dec.Decode(&ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Marshal encodes a single event.
func Marshal(ev Event) ([]byte, error) {
	return msgpack.Marshal(&ev)
}

// Unmarshal decodes a single event produced by Marshal.
func Unmarshal(data []byte, ev *Event) error {
	return msgpack.Unmarshal(data, ev)
}
