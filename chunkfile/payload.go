package chunkfile

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/chunkidx/model"
)

// payloadBuffer encodes and decodes the section table. The first error is
// sticky; later calls are no-ops.
type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeUint8(v uint8) {
	if p.err != nil {
		return
	}
	p.buf = append(p.buf, v)
}

func (p *payloadBuffer) writeUint16(v uint16) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, v)
}

func (p *payloadBuffer) writeUint32(v uint32) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *payloadBuffer) writeUint64(v uint64) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > 65535 {
		p.err = fmt.Errorf("string too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadBuffer) need(n int) bool {
	if p.err != nil {
		return false
	}
	if p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return false
	}
	return true
}

func (p *payloadBuffer) readUint8() uint8 {
	if !p.need(1) {
		return 0
	}
	v := p.buf[p.pos]
	p.pos++
	return v
}

func (p *payloadBuffer) readUint16() uint16 {
	if !p.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(p.buf[p.pos:])
	p.pos += 2
	return v
}

func (p *payloadBuffer) readUint32() uint32 {
	if !p.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *payloadBuffer) readUint64() uint64 {
	if !p.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *payloadBuffer) readString() string {
	l := int(p.readUint16())
	if !p.need(l) {
		return ""
	}
	s := string(p.buf[p.pos : p.pos+l])
	p.pos += l
	return s
}

func (p *payloadBuffer) remaining() int {
	return len(p.buf) - p.pos
}

func encodeSection(pb *payloadBuffer, s SectionInfo) {
	pb.writeUint8(uint8(s.Kind))
	pb.writeString(s.Name)
	pb.writeString(s.KeyCodec)
	pb.writeString(s.ValueCodec)
	pb.writeUint8(uint8(s.Compression))
	pb.writeUint64(s.Offset)
	pb.writeUint64(s.StoredLen)
	pb.writeUint64(s.RawLen)
	pb.writeUint32(s.Records)
	pb.writeUint32(s.CRC)
}

func decodeSection(pb *payloadBuffer) SectionInfo {
	var s SectionInfo
	s.Kind = SectionKind(pb.readUint8())
	s.Name = pb.readString()
	s.KeyCodec = pb.readString()
	s.ValueCodec = pb.readString()
	s.Compression = Compression(pb.readUint8())
	s.Offset = pb.readUint64()
	s.StoredLen = pb.readUint64()
	s.RawLen = pb.readUint64()
	s.Records = pb.readUint32()
	s.CRC = pb.readUint32()
	return s
}

func encodeHeader(h Header) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], uint32(h.ChunkID))
	binary.LittleEndian.PutUint32(b[12:16], h.TableLen)
	binary.LittleEndian.PutUint32(b[16:20], h.TableCRC)
	return b
}

func decodeHeader(b []byte) Header {
	return Header{
		Magic:    binary.LittleEndian.Uint32(b[0:4]),
		Version:  binary.LittleEndian.Uint32(b[4:8]),
		ChunkID:  model.ChunkID(binary.LittleEndian.Uint32(b[8:12])),
		TableLen: binary.LittleEndian.Uint32(b[12:16]),
		TableCRC: binary.LittleEndian.Uint32(b[16:20]),
	}
}
