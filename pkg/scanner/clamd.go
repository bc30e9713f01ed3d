// Package scanner 通过 clamd 的 INSTREAM 协议对文件内容做病毒扫描。
package scanner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"docvault-go/internal/config"
	"docvault-go/pkg/log"
)

// Outcome 是扫描的三种结果之一。
type Outcome int

const (
	Clean Outcome = iota
	Infected
	ScanError
)

func (o Outcome) String() string {
	switch o {
	case Clean:
		return "clean"
	case Infected:
		return "infected"
	default:
		return "scan_error"
	}
}

// Verdict 是扫描结论。Infected 时 Signature 为命中的病毒特征名，ScanError 时 Detail 为错误描述。
type Verdict struct {
	Outcome   Outcome
	Signature string
	Detail    string
}

func (v Verdict) String() string {
	switch v.Outcome {
	case Infected:
		return "infected(" + v.Signature + ")"
	case ScanError:
		return "scan_error(" + v.Detail + ")"
	default:
		return "clean"
	}
}

// Scanner 定义了扫描适配器的接口。实现不得因为引擎不可达而返回 error，
// 所有异常都应折算为 ScanError 结论。
type Scanner interface {
	Scan(ctx context.Context, data []byte) Verdict
}

// ClamdScanner 通过 TCP 与 clamd 通信。
type ClamdScanner struct {
	address   string
	timeout   time.Duration
	chunkSize int
	dialer    net.Dialer
}

// NewClamdScanner 创建一个新的 clamd 扫描器。
func NewClamdScanner(cfg config.ClamAVConfig) *ClamdScanner {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ClamdScanner{
		address:   cfg.Address,
		timeout:   timeout,
		chunkSize: chunkSize,
		dialer:    net.Dialer{Timeout: 10 * time.Second},
	}
}

// Scan 以 INSTREAM 方式把数据流式发送给 clamd 并解析其回复。
func (s *ClamdScanner) Scan(ctx context.Context, data []byte) Verdict {
	reply, err := s.instream(ctx, data)
	if err != nil {
		log.Warnf("[Scanner] clamd 扫描失败, address: %s, error: %v", s.address, err)
		return Verdict{Outcome: ScanError, Detail: err.Error()}
	}
	return parseReply(reply)
}

// Ping 检查 clamd 是否可达，用于启动时的健康检查。
func (s *ClamdScanner) Ping(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("zPING\x00")); err != nil {
		return fmt.Errorf("发送 PING 失败: %w", err)
	}
	reply, err := readReply(conn)
	if err != nil {
		return err
	}
	if reply != "PONG" {
		return fmt.Errorf("clamd 返回了意外的 PING 应答: %q", reply)
	}
	return nil
}

func (s *ClamdScanner) dial(ctx context.Context) (net.Conn, error) {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.address)
	if err != nil {
		return nil, fmt.Errorf("连接 clamd 失败: %w", err)
	}
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("设置 clamd 连接超时失败: %w", err)
	}
	return conn, nil
}

func (s *ClamdScanner) instream(ctx context.Context, data []byte) (string, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	w := bufio.NewWriterSize(conn, s.chunkSize+4)
	if _, err := w.WriteString("zINSTREAM\x00"); err != nil {
		return "", fmt.Errorf("发送 INSTREAM 命令失败: %w", err)
	}

	var size [4]byte
	for off := 0; off < len(data); off += s.chunkSize {
		end := off + s.chunkSize
		if end > len(data) {
			end = len(data)
		}
		binary.BigEndian.PutUint32(size[:], uint32(end-off))
		if _, err := w.Write(size[:]); err != nil {
			return "", fmt.Errorf("发送数据块长度失败: %w", err)
		}
		if _, err := w.Write(data[off:end]); err != nil {
			// clamd 超出 StreamMaxLength 时会先回复错误再断开连接，尽量读出这条回复
			if reply, rerr := readReply(conn); rerr == nil && reply != "" {
				return reply, nil
			}
			return "", fmt.Errorf("发送数据块失败: %w", err)
		}
	}
	binary.BigEndian.PutUint32(size[:], 0)
	if _, err := w.Write(size[:]); err != nil {
		return "", fmt.Errorf("发送结束标记失败: %w", err)
	}
	if err := w.Flush(); err != nil {
		if reply, rerr := readReply(conn); rerr == nil && reply != "" {
			return reply, nil
		}
		return "", fmt.Errorf("发送数据失败: %w", err)
	}
	return readReply(conn)
}

func readReply(r io.Reader) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil && len(raw) == 0 {
		return "", fmt.Errorf("读取 clamd 应答失败: %w", err)
	}
	raw = bytes.TrimRight(raw, "\x00\n")
	return strings.TrimSpace(string(raw)), nil
}

// parseReply 解析 clamd 的应答，例如：
//
//	stream: OK
//	stream: Eicar-Test-Signature FOUND
//	INSTREAM size limit exceeded. ERROR
func parseReply(reply string) Verdict {
	if reply == "" {
		return Verdict{Outcome: ScanError, Detail: "clamd 返回了空应答"}
	}
	body := reply
	if i := strings.Index(body, ": "); i >= 0 {
		body = body[i+2:]
	}
	switch {
	case body == "OK":
		return Verdict{Outcome: Clean}
	case strings.HasSuffix(body, " FOUND"):
		return Verdict{Outcome: Infected, Signature: strings.TrimSuffix(body, " FOUND")}
	case strings.HasSuffix(body, " ERROR"):
		return Verdict{Outcome: ScanError, Detail: strings.TrimSuffix(body, " ERROR")}
	default:
		return Verdict{Outcome: ScanError, Detail: "无法识别的 clamd 应答: " + reply}
	}
}

// DisabledScanner 在关闭病毒扫描的开发环境中使用，对所有内容都返回 Clean。
type DisabledScanner struct{}

func (DisabledScanner) Scan(_ context.Context, data []byte) Verdict {
	log.Warnf("[Scanner] 病毒扫描已关闭, 跳过 %d 字节内容的扫描", len(data))
	return Verdict{Outcome: Clean}
}
