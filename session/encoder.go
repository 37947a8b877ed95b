package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const entryFormatVersionCurrent = 1

var errEntryCorrupt = errors.New("session: corrupt blacklist entry")

// Encode serialises e. The jti itself is the Redis key and is not stored.
func Encode(e *Entry) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(entryFormatVersionCurrent)

	if len(e.Kind) > 255 {
		return nil, errors.New("kind too long")
	}
	buf.WriteByte(byte(len(e.Kind)))
	buf.WriteString(e.Kind)

	if err := binary.Write(&buf, binary.BigEndian, e.PrincipalID); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, e.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, e.RevokedAt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a value written by Encode.
func Decode(data []byte) (*Entry, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, errEntryCorrupt
	}
	if version != entryFormatVersionCurrent {
		return nil, errors.New("session: unsupported entry version")
	}

	kindLen, err := r.ReadByte()
	if err != nil {
		return nil, errEntryCorrupt
	}
	kind := make([]byte, kindLen)
	if _, err := io.ReadFull(r, kind); err != nil {
		return nil, errEntryCorrupt
	}

	e := &Entry{Kind: string(kind)}
	for _, dst := range []*int64{&e.PrincipalID, &e.ExpiresAt, &e.RevokedAt} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, errEntryCorrupt
		}
	}
	if r.Len() != 0 {
		return nil, errEntryCorrupt
	}
	return e, nil
}
