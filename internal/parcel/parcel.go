package parcel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf16"
	"unicode/utf8"
)

// 解码错误
var (
	ErrUnderflow     = errors.New("parcel: read past end of buffer")
	ErrInvalidLength = errors.New("parcel: invalid length prefix")
)

// maxStringBytes 单个字符串允许的最大长度，防止对端声明超大长度
const maxStringBytes = 64 * 1024

// Writer 顺序写入的 parcel 缓冲区
// 所有数值采用小端序，没有任何自描述帧，读写双方需约定字段顺序
type Writer struct {
	buf []byte
}

// NewWriter 创建写入器
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 128)}
}

// Bytes 返回已写入的数据
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len 已写入字节数
func (w *Writer) Len() int {
	return len(w.buf)
}

// WriteInt32 写入 int32
func (w *Writer) WriteInt32(v int32) bool {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
	return true
}

// WriteFloat 写入 float32
func (w *Writer) WriteFloat(v float32) bool {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
	return true
}

// WriteDouble 写入 float64
func (w *Writer) WriteDouble(v float64) bool {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
	return true
}

// WriteBool 写入 bool（按 int32 0/1 编码）
func (w *Writer) WriteBool(v bool) bool {
	if v {
		return w.WriteInt32(1)
	}
	return w.WriteInt32(0)
}

// WriteString 写入 UTF-8 字符串：int32 字节长度 + 内容
func (w *Writer) WriteString(s string) bool {
	if len(s) > maxStringBytes {
		return false
	}
	w.WriteInt32(int32(len(s)))
	w.buf = append(w.buf, s...)
	return true
}

// WriteString16 写入 UTF-16 字符串：int32 code unit 数量 + 每个 unit 2 字节
// 非法 UTF-8 无法无损转换为 UTF-16，直接拒绝
func (w *Writer) WriteString16(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	units := utf16.Encode([]rune(s))
	if len(units)*2 > maxStringBytes {
		return false
	}
	w.WriteInt32(int32(len(units)))
	for _, u := range units {
		w.buf = binary.LittleEndian.AppendUint16(w.buf, u)
	}
	return true
}

// Reader 顺序读取的 parcel 缓冲区
// 与平台原语不同，越界读取会返回 ErrUnderflow 而不是静默的零值
type Reader struct {
	buf []byte
	pos int
}

// NewReader 创建读取器
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining 剩余未读字节数
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Position 当前读取位置
func (r *Reader) Position() int {
	return r.pos
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("need %d bytes at offset %d, have %d: %w", n, r.pos, r.Remaining(), ErrUnderflow)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadInt32 读取 int32
func (r *Reader) ReadInt32() (int32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// ReadFloat 读取 float32
func (r *Reader) ReadFloat() (float32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// ReadDouble 读取 float64
func (r *Reader) ReadDouble() (float64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// ReadBool 读取 bool，非零即为 true
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadInt32()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ReadString 读取 UTF-8 字符串
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return "", err
	}
	if n < 0 || n > maxStringBytes {
		return "", fmt.Errorf("string length %d: %w", n, ErrInvalidLength)
	}
	b, err := r.next(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadString16 读取 UTF-16 字符串
func (r *Reader) ReadString16() (string, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return "", err
	}
	if n < 0 || int(n)*2 > maxStringBytes {
		return "", fmt.Errorf("string16 length %d: %w", n, ErrInvalidLength)
	}
	b, err := r.next(int(n) * 2)
	if err != nil {
		return "", err
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units)), nil
}
