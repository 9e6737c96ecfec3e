package codec

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

type goal struct {
	ID       string    `json:"id" msgpack:"id" cbor:"id"`
	Progress int       `json:"progress" msgpack:"progress" cbor:"progress"`
	Due      time.Time `json:"due" msgpack:"due" cbor:"due"`
}

func sample() goal {
	return goal{ID: "42", Progress: 70, Due: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestStructCodecs(t *testing.T) {
	codecs := map[string]Codec[goal]{
		"json":     JSON[goal]{},
		"msgpack":  Msgpack[goal]{},
		"cbor":     MustCBOR[goal](false),
		"cbor-det": MustCBOR[goal](true),
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			b, err := c.Encode(sample())
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := c.Decode(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			want := sample()
			if got.ID != want.ID || got.Progress != want.Progress || !got.Due.Equal(want.Due) {
				t.Fatalf("got %+v, want %+v", got, want)
			}
			if _, err := c.Decode([]byte{0xff, 0x00, 0x13}); err == nil {
				t.Fatal("garbage decoded without error")
			}
		})
	}
}

func TestCBORDeterministic(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	m := map[string]int{"b": 2, "a": 1, "c": 3}
	first, err := c.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		b, _ := c.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
		if !bytes.Equal(first, b) {
			t.Fatal("deterministic encoding differs between runs")
		}
	}
}

func TestLimit(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}
	if _, err := c.Decode([]byte("12345")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	v, err := c.Decode([]byte("1234"))
	if err != nil || v != "1234" {
		t.Fatalf("Decode = %q, %v", v, err)
	}
	if b, _ := c.Encode("1234567"); string(b) != "1234567" {
		t.Fatal("encode must not be limited")
	}
	off := Limit[string]{Inner: String{}}
	if _, err := off.Decode(make([]byte, 1<<16)); err != nil {
		t.Fatalf("disabled limit rejected payload: %v", err)
	}
}

func TestBytesIdentity(t *testing.T) {
	in := []byte("payload")
	b, _ := Bytes{}.Encode(in)
	out, _ := Bytes{}.Decode(b)
	if !bytes.Equal(in, out) {
		t.Fatal("bytes codec changed the payload")
	}
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) })
	b, err := c.Encode(wrapperspb.String("org-7"))
	if err != nil {
		t.Fatal(err)
	}
	m, err := c.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if m.GetValue() != "org-7" {
		t.Fatalf("got %q", m.GetValue())
	}
	var zero Protobuf[*wrapperspb.StringValue]
	if _, err := zero.Decode(b); err == nil {
		t.Fatal("codec without constructor decoded")
	}
}
