package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	sessionFormatVersionCurrent = 1

	flagPersistent byte = 1 << 0
)

// ErrInvalidEncoding is returned by Decode for blobs it cannot read.
var ErrInvalidEncoding = errors.New("invalid session encoding")

func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	if len(s.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(s.UserID)))
	buf.WriteString(s.UserID)

	if len(s.AuthMethod) > 255 {
		return nil, errors.New("auth method too long")
	}
	buf.WriteByte(byte(len(s.AuthMethod)))
	buf.WriteString(s.AuthMethod)

	var flags byte
	if s.Persistent {
		flags |= flagPersistent
	}
	buf.WriteByte(flags)

	buf.Write(s.IPHash[:])
	buf.Write(s.UserAgentHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	if version != sessionFormatVersionCurrent {
		return nil, ErrInvalidEncoding
	}

	s := &Session{}

	userID, err := readShortString(reader)
	if err != nil {
		return nil, err
	}
	s.UserID = userID

	method, err := readShortString(reader)
	if err != nil {
		return nil, err
	}
	s.AuthMethod = method

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	s.Persistent = flags&flagPersistent != 0

	if _, err := io.ReadFull(reader, s.IPHash[:]); err != nil {
		return nil, ErrInvalidEncoding
	}
	if _, err := io.ReadFull(reader, s.UserAgentHash[:]); err != nil {
		return nil, ErrInvalidEncoding
	}

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, ErrInvalidEncoding
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, ErrInvalidEncoding
	}
	if reader.Len() != 0 {
		return nil, ErrInvalidEncoding
	}

	return s, nil
}

func readShortString(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", ErrInvalidEncoding
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", ErrInvalidEncoding
	}
	return string(raw), nil
}
