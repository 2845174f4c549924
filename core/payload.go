package core

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Payload framing for the records delivered through ledger transaction
// messages. Every framed record starts with a 5-byte version specifier and a
// kind byte; call-lists batch several records into one codec-encoded
// sequence of byte strings. Payloads may arrive raw or zlib-deflated.

// CurrentVersion is the only specifier this engine accepts.
var CurrentVersion = []byte("dvm0\x00")

const (
	recordKindCreation = 0x00
	recordKindCall     = 0x01

	specifierLen = 5
	maxSourceLen = 0xffff
	maxMethodLen = 0xff
)

// CallRecord is either a *ContractCall or a *ContractCreation.
type CallRecord interface {
	// Payload emits the framed wire form of the record.
	Payload() ([]byte, error)
}

// ContractCall is a single (contract, method, args) invocation record.
type ContractCall struct {
	ContractHash ContractHash
	Method       string
	Args         *Tuple
}

// ContractCreation carries contract source plus constructor arguments. The
// deployed hash is derived by the driver, never supplied on the wire.
type ContractCreation struct {
	Source string
	Args   *Tuple
}

// CallList batches framed records delivered through one transaction message.
type CallList struct {
	Records []CallRecord
}

// Payload frames the call record: specifier, kind 1, 32-byte hash, u8 method
// length, method bytes, then the codec-encoded argument tuple.
func (cc *ContractCall) Payload() ([]byte, error) {
	if len(cc.Method) > maxMethodLen {
		return nil, fmt.Errorf("%w: method name longer than %d bytes", ErrMalformedPayload, maxMethodLen)
	}
	args := cc.Args
	if args == nil {
		args = NewTuple()
	}
	argBytes, err := Serialize(args)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Write(CurrentVersion)
	buf.WriteByte(recordKindCall)
	buf.Write(cc.ContractHash[:])
	buf.WriteByte(byte(len(cc.Method)))
	buf.WriteString(cc.Method)
	buf.Write(argBytes)
	return buf.Bytes(), nil
}

// Payload frames the creation record and deflates it: specifier, kind 0,
// u16 source length, source, u16 args length, codec-encoded argument tuple.
func (c *ContractCreation) Payload() ([]byte, error) {
	src := []byte(c.Source)
	if len(src) > maxSourceLen {
		return nil, fmt.Errorf("%w: source longer than %d bytes", ErrMalformedPayload, maxSourceLen)
	}
	args := c.Args
	if args == nil {
		args = NewTuple()
	}
	argBytes, err := Serialize(args)
	if err != nil {
		return nil, err
	}
	if len(argBytes) > 0xffff {
		return nil, fmt.Errorf("%w: constructor arguments too large", ErrMalformedPayload)
	}
	var buf bytes.Buffer
	buf.Write(CurrentVersion)
	buf.WriteByte(recordKindCreation)
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(src)))
	buf.Write(hdr[:])
	buf.Write(src)
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(argBytes)))
	buf.Write(hdr[:])
	buf.Write(argBytes)
	return deflate(buf.Bytes())
}

// DecodeRecord parses one framed record, inflating the payload first when it
// is compressed.
func DecodeRecord(payload []byte) (CallRecord, error) {
	raw := tryInflate(payload)
	r := bytes.NewReader(raw)

	spec := make([]byte, specifierLen)
	if _, err := io.ReadFull(r, spec); err != nil {
		return nil, fmt.Errorf("%w: missing specifier", ErrMalformedPayload)
	}
	if !bytes.Equal(spec, CurrentVersion) {
		return nil, fmt.Errorf("%w: unknown specifier %q", ErrMalformedPayload, spec)
	}
	kind, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: missing record kind", ErrMalformedPayload)
	}
	switch kind {
	case recordKindCreation:
		return decodeCreation(r)
	case recordKindCall:
		return decodeCall(r)
	default:
		return nil, fmt.Errorf("%w: unknown record kind %d", ErrMalformedPayload, kind)
	}
}

func decodeCreation(r *bytes.Reader) (*ContractCreation, error) {
	src, err := readSized16(r)
	if err != nil {
		return nil, err
	}
	argBytes, err := readSized16(r)
	if err != nil {
		return nil, err
	}
	args, err := Deserialize(argBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: constructor args: %v", ErrMalformedPayload, err)
	}
	tup, ok := args.(*Tuple)
	if !ok {
		return nil, fmt.Errorf("%w: constructor args must be a tuple, got %s", ErrMalformedPayload, args.Kind())
	}
	return &ContractCreation{Source: string(src), Args: tup}, nil
}

func decodeCall(r *bytes.Reader) (*ContractCall, error) {
	var h ContractHash
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated contract hash", ErrMalformedPayload)
	}
	mlen, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: missing method length", ErrMalformedPayload)
	}
	method := make([]byte, mlen)
	if _, err := io.ReadFull(r, method); err != nil {
		return nil, fmt.Errorf("%w: truncated method name", ErrMalformedPayload)
	}
	rest := make([]byte, r.Len())
	_, _ = io.ReadFull(r, rest)
	args, err := Deserialize(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: call args: %v", ErrMalformedPayload, err)
	}
	tup, ok := args.(*Tuple)
	if !ok {
		return nil, fmt.Errorf("%w: call args must be a tuple, got %s", ErrMalformedPayload, args.Kind())
	}
	return &ContractCall{ContractHash: h, Method: string(method), Args: tup}, nil
}

// DecodeCallList parses a call-list payload. A buffer that is not a codec
// sequence is retried as a single bare framed record, so a transaction
// carrying exactly one call may omit the outer list wrapper.
func DecodeCallList(payload []byte) (*CallList, error) {
	raw := tryInflate(payload)
	seq, err := Deserialize(raw)
	if err != nil {
		if !errors.Is(err, ErrInvalidType) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		rec, err := DecodeRecord(raw)
		if err != nil {
			return nil, err
		}
		return &CallList{Records: []CallRecord{rec}}, nil
	}
	var items []Value
	switch s := seq.(type) {
	case *List:
		items = s.Items()
	case *Tuple:
		items = s.Items()
	default:
		return nil, fmt.Errorf("%w: call list must be a sequence, got %s", ErrMalformedPayload, seq.Kind())
	}
	cl := &CallList{}
	for i, item := range items {
		b, ok := item.(Bytes)
		if !ok {
			return nil, fmt.Errorf("%w: call list element %d must be bytes, got %s", ErrMalformedPayload, i, item.Kind())
		}
		rec, err := DecodeRecord(b)
		if err != nil {
			return nil, err
		}
		cl.Records = append(cl.Records, rec)
	}
	return cl, nil
}

// Payload encodes the list as a deflated codec sequence of framed records.
func (cl *CallList) Payload() ([]byte, error) {
	items := make([]Value, 0, len(cl.Records))
	for _, rec := range cl.Records {
		p, err := rec.Payload()
		if err != nil {
			return nil, err
		}
		items = append(items, Bytes(p))
	}
	enc, err := Serialize(NewList(items...))
	if err != nil {
		return nil, err
	}
	return deflate(enc)
}

func readSized16(r *bytes.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated length field", ErrMalformedPayload)
	}
	n := int(binary.LittleEndian.Uint16(hdr[:]))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: truncated field of %d bytes", ErrMalformedPayload, n)
	}
	return out, nil
}

// tryInflate attempts zlib decompression and falls back to treating the
// bytes as already raw.
func tryInflate(p []byte) []byte {
	zr, err := zlib.NewReader(bytes.NewReader(p))
	if err != nil {
		return p
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return p
	}
	return out
}

func deflate(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(p); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
