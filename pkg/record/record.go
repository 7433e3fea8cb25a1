// Package record defines the fixed-layout game record packed into the heap file.
package record

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Size is the packed size of a Record in bytes. No padding.
//
// Field widths: fg_pct(4) + ft_pct(4) + fg3_pct(4) + team_id(4) +
// game_date(2) + pts(1) + ast(1) + reb(1) + home_wins(1) = 22.
const Size = 22

// Epoch is the reference date for GameDate: days since this date are stored
// in a uint16.
var Epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Record is a fixed packed tuple describing one NBA game row.
//
// Field order matches the on-disk layout exactly:
// fg_pct(f32) ft_pct(f32) fg3_pct(f32) team_id(u32) game_date(u16) pts(u8) ast(u8) reb(u8) home_wins(u8)
type Record struct {
	FGPct    float32
	FTPct    float32
	FG3Pct   float32
	TeamID   uint32
	GameDate uint16
	Pts      uint8
	Ast      uint8
	Reb      uint8
	HomeWins uint8
}

// Key returns the indexed attribute (ft_pct) for this record.
func Key(r Record) float32 {
	return r.FTPct
}

// EncodeDate converts a time.Time to the days-since-Epoch encoding.
// Dates before the epoch or more than 65535 days after it are rejected.
func EncodeDate(t time.Time) (uint16, error) {
	days := int(t.Sub(Epoch).Hours() / 24)
	if days < 0 || days > math.MaxUint16 {
		return 0, fmt.Errorf("record: date %s out of representable range", t.Format("2006-01-02"))
	}
	return uint16(days), nil
}

// DecodeDate converts the days-since-Epoch encoding back to a time.Time.
func DecodeDate(days uint16) time.Time {
	return Epoch.AddDate(0, 0, int(days))
}

// Marshal packs r into a Size-byte slice, allocating a new buffer.
func Marshal(r Record) []byte {
	buf := make([]byte, Size)
	MarshalTo(r, buf)
	return buf
}

// MarshalTo packs r into buf, which must be at least Size bytes long.
func MarshalTo(r Record, buf []byte) {
	_ = buf[Size-1]
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(r.FGPct))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(r.FTPct))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(r.FG3Pct))
	binary.LittleEndian.PutUint32(buf[12:16], r.TeamID)
	binary.LittleEndian.PutUint16(buf[16:18], r.GameDate)
	buf[18] = r.Pts
	buf[19] = r.Ast
	buf[20] = r.Reb
	buf[21] = r.HomeWins
}

// Unmarshal decodes a Size-byte slice into a Record.
func Unmarshal(buf []byte) (Record, error) {
	if len(buf) < Size {
		return Record{}, fmt.Errorf("record: short buffer: %d bytes, want %d", len(buf), Size)
	}
	var r Record
	r.FGPct = math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))
	r.FTPct = math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8]))
	r.FG3Pct = math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12]))
	r.TeamID = binary.LittleEndian.Uint32(buf[12:16])
	r.GameDate = binary.LittleEndian.Uint16(buf[16:18])
	r.Pts = buf[18]
	r.Ast = buf[19]
	r.Reb = buf[20]
	r.HomeWins = buf[21]
	return r, nil
}

// IsZero reports whether buf is an all-zero record, used to detect the
// unused tail of a partially filled block.
func IsZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
