// =============================================================================
// 文件: internal/segment/segment.go
// 描述: TCP 风格段编解码 - 固定 20 字节头部 + 伪头部校验和
// =============================================================================
package segment

import (
	"encoding/binary"
	"fmt"
	"net"
)

// =============================================================================
// 常量定义
// =============================================================================

const (
	// HeaderSize 固定段头大小 (无选项)
	HeaderSize = 20

	// PseudoHeaderSize IPv4 伪头部大小
	PseudoHeaderSize = 12

	// ProtocolTCP TCP 协议号
	ProtocolTCP = 6

	// dataOffsetByte 数据偏移字节: 5 个 32 位字, 保留位为 0
	dataOffsetByte = 0x50

	// MaxPort 最大端口号
	MaxPort = 65535

	// MaxWindow 最大窗口值
	MaxWindow = 65535
)

// 控制标志位 (按 TCP 头部第 13 字节布局)
const (
	FlagFIN = 0x01
	FlagSYN = 0x02
	FlagRST = 0x04
	FlagPSH = 0x08
	FlagACK = 0x10
	FlagURG = 0x20
)

// =============================================================================
// 错误类型
// =============================================================================

// FieldOutOfRangeError 字段超出范围错误
// 在写入任何字节之前返回，不会产生半成品缓冲区
type FieldOutOfRangeError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *FieldOutOfRangeError) Error() string {
	return fmt.Sprintf("字段 %s 超出范围: %d (有效范围 %d-%d)",
		e.Field, e.Value, e.Min, e.Max)
}

// =============================================================================
// 段头部
// =============================================================================

// Flags 控制标志
type Flags struct {
	SYN bool
	ACK bool
	FIN bool
	RST bool
	PSH bool
	URG bool
}

// Byte 打包为标志字节
func (f Flags) Byte() byte {
	var b byte
	if f.URG {
		b |= FlagURG
	}
	if f.ACK {
		b |= FlagACK
	}
	if f.PSH {
		b |= FlagPSH
	}
	if f.RST {
		b |= FlagRST
	}
	if f.SYN {
		b |= FlagSYN
	}
	if f.FIN {
		b |= FlagFIN
	}
	return b
}

// FlagsFromByte 从标志字节解包
func FlagsFromByte(b byte) Flags {
	return Flags{
		URG: b&FlagURG != 0,
		ACK: b&FlagACK != 0,
		PSH: b&FlagPSH != 0,
		RST: b&FlagRST != 0,
		SYN: b&FlagSYN != 0,
		FIN: b&FlagFIN != 0,
	}
}

// Header 段头部字段
type Header struct {
	SrcPort  int
	DstPort  int
	Seq      uint32
	Ack      uint32
	Flags    Flags
	Window   int
	Checksum uint16
}

// =============================================================================
// 编解码
// =============================================================================

// Encode 编码 20 字节段头部 (大端序)
// 校验和字段写入 h.Checksum 的当前值；紧急指针恒为 0
func Encode(h *Header) ([]byte, error) {
	if h.SrcPort < 0 || h.SrcPort > MaxPort {
		return nil, &FieldOutOfRangeError{Field: "src_port", Value: h.SrcPort, Min: 0, Max: MaxPort}
	}
	if h.DstPort < 0 || h.DstPort > MaxPort {
		return nil, &FieldOutOfRangeError{Field: "dst_port", Value: h.DstPort, Min: 0, Max: MaxPort}
	}
	if h.Window < 0 || h.Window > MaxWindow {
		return nil, &FieldOutOfRangeError{Field: "window", Value: h.Window, Min: 0, Max: MaxWindow}
	}

	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], uint16(h.SrcPort))
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.DstPort))
	binary.BigEndian.PutUint32(buf[4:8], h.Seq)
	binary.BigEndian.PutUint32(buf[8:12], h.Ack)
	buf[12] = dataOffsetByte
	buf[13] = h.Flags.Byte()
	binary.BigEndian.PutUint16(buf[14:16], uint16(h.Window))
	binary.BigEndian.PutUint16(buf[16:18], h.Checksum)
	// buf[18:20] 紧急指针恒为 0

	return buf, nil
}

// Decode 解码段头部
func Decode(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("段太短: %d < %d", len(data), HeaderSize)
	}

	return &Header{
		SrcPort:  int(binary.BigEndian.Uint16(data[0:2])),
		DstPort:  int(binary.BigEndian.Uint16(data[2:4])),
		Seq:      binary.BigEndian.Uint32(data[4:8]),
		Ack:      binary.BigEndian.Uint32(data[8:12]),
		Flags:    FlagsFromByte(data[13]),
		Window:   int(binary.BigEndian.Uint16(data[14:16])),
		Checksum: binary.BigEndian.Uint16(data[16:18]),
	}, nil
}

// =============================================================================
// 校验和 (标准 Internet 校验和, RFC 1071)
// =============================================================================

// Checksum 计算 Internet 校验和
// 按 16 位大端字求和，末尾奇数字节按高字节补零处理，
// 反复折叠 16 位以上的进位，最后取反
func Checksum(parts ...[]byte) uint16 {
	var sum uint32

	for _, data := range parts {
		for i := 0; i < len(data)-1; i += 2 {
			sum += uint32(data[i])<<8 | uint32(data[i+1])
		}
		if len(data)%2 == 1 {
			sum += uint32(data[len(data)-1]) << 8
		}
	}

	for sum > 0xFFFF {
		sum = (sum >> 16) + (sum & 0xFFFF)
	}

	return ^uint16(sum)
}

// VerifyChecksum 验证校验和
// 含已写入校验和的完整缓冲区求和应恰好为 0xFFFF
func VerifyChecksum(parts ...[]byte) bool {
	var sum uint32

	for _, data := range parts {
		for i := 0; i < len(data)-1; i += 2 {
			sum += uint32(data[i])<<8 | uint32(data[i+1])
		}
		if len(data)%2 == 1 {
			sum += uint32(data[len(data)-1]) << 8
		}
	}

	for sum > 0xFFFF {
		sum = (sum >> 16) + (sum & 0xFFFF)
	}

	return sum == 0xFFFF
}

// PseudoHeader 构建 12 字节 IPv4 伪头部
// 布局: 源 IP(4) + 目的 IP(4) + 保留(1) + 协议号 6(1) + 段长度(2)
func PseudoHeader(srcIP, dstIP net.IP, segLen int) ([]byte, error) {
	src := srcIP.To4()
	dst := dstIP.To4()
	if src == nil {
		return nil, fmt.Errorf("源地址不是 IPv4: %v", srcIP)
	}
	if dst == nil {
		return nil, fmt.Errorf("目的地址不是 IPv4: %v", dstIP)
	}
	if segLen < 0 || segLen > 0xFFFF {
		return nil, &FieldOutOfRangeError{Field: "segment_length", Value: segLen, Min: 0, Max: 0xFFFF}
	}

	buf := make([]byte, PseudoHeaderSize)
	copy(buf[0:4], src)
	copy(buf[4:8], dst)
	buf[8] = 0
	buf[9] = ProtocolTCP
	binary.BigEndian.PutUint16(buf[10:12], uint16(segLen))

	return buf, nil
}

// EncodeWithChecksum 编码段头部并写入校验和
// 校验和在字段清零的状态下计算，覆盖 伪头部 + 段头部
func EncodeWithChecksum(h *Header, srcIP, dstIP net.IP) ([]byte, error) {
	h.Checksum = 0
	buf, err := Encode(h)
	if err != nil {
		return nil, err
	}

	pseudo, err := PseudoHeader(srcIP, dstIP, len(buf))
	if err != nil {
		return nil, err
	}

	csum := Checksum(pseudo, buf)
	binary.BigEndian.PutUint16(buf[16:18], csum)
	h.Checksum = csum

	return buf, nil
}

// ClampWindow 将窗口值收敛到可编码范围
func ClampWindow(w int) int {
	if w > MaxWindow {
		return MaxWindow
	}
	if w < 0 {
		return 0
	}
	return w
}
