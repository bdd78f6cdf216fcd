package plaszip

import "encoding/binary"

// RecordLen is the on-disk size of one point record in bytes.
const RecordLen = 20

// Point is a single point record.
//
// Wire format (20 bytes, little-endian):
//
//	Offset  Size  Field
//	0       4     X               int32
//	4       4     Y               int32
//	8       4     Z               int32
//	12      2     Intensity       uint16
//	14      1     ReturnInfo      uint8 (return number, number of returns, flags)
//	15      1     Classification  uint8
//	16      1     ScanAngle       int8
//	17      1     UserData        uint8
//	18      2     SourceID        uint16
type Point struct {
	X, Y, Z        int32
	Intensity      uint16
	ReturnInfo     uint8
	Classification uint8
	ScanAngle      int8
	UserData       uint8
	SourceID       uint16
}

// EncodeTo serializes the point into buf, which must be at least RecordLen bytes.
func (p *Point) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.X))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.Y))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.Z))
	binary.LittleEndian.PutUint16(buf[12:14], p.Intensity)
	buf[14] = p.ReturnInfo
	buf[15] = p.Classification
	buf[16] = uint8(p.ScanAngle)
	buf[17] = p.UserData
	binary.LittleEndian.PutUint16(buf[18:20], p.SourceID)
}

// DecodeFrom parses a point from buf, which must be at least RecordLen bytes.
func (p *Point) DecodeFrom(buf []byte) {
	p.X = int32(binary.LittleEndian.Uint32(buf[0:4]))
	p.Y = int32(binary.LittleEndian.Uint32(buf[4:8]))
	p.Z = int32(binary.LittleEndian.Uint32(buf[8:12]))
	p.Intensity = binary.LittleEndian.Uint16(buf[12:14])
	p.ReturnInfo = buf[14]
	p.Classification = buf[15]
	p.ScanAngle = int8(buf[16])
	p.UserData = buf[17]
	p.SourceID = binary.LittleEndian.Uint16(buf[18:20])
}
