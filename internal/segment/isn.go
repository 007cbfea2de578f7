// =============================================================================
// 文件: internal/segment/isn.go
// 描述: 初始序列号派生 - 进程级密钥 + HKDF-SHA256 (RFC 6528 风格)
// =============================================================================
package segment

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

var (
	isnSecret [32]byte
	isnOnce   sync.Once
)

func initISNSecret() {
	if _, err := io.ReadFull(rand.Reader, isnSecret[:]); err != nil {
		// 随机源不可用时退化为固定密钥，序列号仍然有效只是可预测
		copy(isnSecret[:], []byte("optiack-isn-fallback-secret-v1.."))
	}
}

// InitialSeq 为连接四元组派生初始序列号
// 同一进程内同一四元组结果稳定，不同四元组互不相关
func InitialSeq(srcIP string, srcPort int, dstIP string, dstPort int) uint32 {
	isnOnce.Do(initISNSecret)

	info := fmt.Sprintf("%s:%d>%s:%d", srcIP, srcPort, dstIP, dstPort)
	reader := hkdf.New(sha256.New, isnSecret[:], nil, []byte("optiack-isn-v1:"+info))

	var buf [4]byte
	if _, err := io.ReadFull(reader, buf[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(buf[:])
}
