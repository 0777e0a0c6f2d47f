// Package wire defines how backends put channel messages on the wire.
//
// A datagram carries one message:
//
//	Channel(1 byte)Payload
//
// A stream carries length-prefixed frames:
//
//	Length(4 bytes, big-endian)Channel(1 byte)Payload
//
// where Length counts the channel byte and the payload. A stream starts
// with the client writing Magic and the server answering with the peer id it
// assigned (2-byte big-endian length followed by the id).
package wire

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/QYUbit/axnet/pkg/channel"
)

// MaxFrameLength is the largest accepted frame length.
const MaxFrameLength = 16 * 1024 * 1024

// MaxPeerIDLength is the largest accepted peer id.
const MaxPeerIDLength = 255

// Magic opens every stream.
var Magic = [4]byte{'A', 'X', 'N', 1}

var (
	ErrEmptyFrame   = errors.New("wire: empty frame")
	ErrFrameLength  = errors.New("wire: wrong frame length")
	ErrBadMagic     = errors.New("wire: bad stream magic")
	ErrPeerIDLength = errors.New("wire: wrong peer id length")
)

// EncodeDatagram returns the datagram form of a message.
func EncodeDatagram(id channel.ID, payload []byte) []byte {
	b := make([]byte, 1+len(payload))
	b[0] = byte(id)
	copy(b[1:], payload)
	return b
}

// DecodeDatagram splits a datagram. The payload aliases b.
func DecodeDatagram(b []byte) (channel.ID, []byte, error) {
	if len(b) == 0 {
		return 0, nil, ErrEmptyFrame
	}
	return channel.ID(b[0]), b[1:], nil
}

// WriteFrame writes one frame with a single Write call.
func WriteFrame(w io.Writer, id channel.ID, payload []byte) error {
	l := 1 + len(payload)
	if l > MaxFrameLength {
		return ErrFrameLength
	}

	b := make([]byte, 4+l)
	binary.BigEndian.PutUint32(b, uint32(l))
	b[4] = byte(id)
	copy(b[5:], payload)

	_, err := w.Write(b)
	return err
}

// ReadFrame reads one frame.
func ReadFrame(r io.Reader) (channel.ID, []byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}

	l := binary.BigEndian.Uint32(hdr[:])
	if l == 0 || l > MaxFrameLength {
		return 0, nil, ErrFrameLength
	}

	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return channel.ID(b[0]), b[1:], nil
}

func WriteMagic(w io.Writer) error {
	_, err := w.Write(Magic[:])
	return err
}

func ReadMagic(r io.Reader) error {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	if b != Magic {
		return ErrBadMagic
	}
	return nil
}

func WritePeerID(w io.Writer, id string) error {
	if len(id) == 0 || len(id) > MaxPeerIDLength {
		return ErrPeerIDLength
	}
	b := make([]byte, 2+len(id))
	binary.BigEndian.PutUint16(b, uint16(len(id)))
	copy(b[2:], id)
	_, err := w.Write(b)
	return err
}

func ReadPeerID(r io.Reader) (string, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", err
	}
	l := int(binary.BigEndian.Uint16(hdr[:]))
	if l == 0 || l > MaxPeerIDLength {
		return "", ErrPeerIDLength
	}
	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
