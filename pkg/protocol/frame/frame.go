// Package frame implements the two transfer framings used for bulk data.
//
// Downward transfers (a node answering a Fetch or Bundle) are length framed:
// an 8-byte unsigned big-endian size followed by exactly that many bytes. A
// size of zero is reserved: it means the operation failed and one line of
// plain-text reason follows instead of data.
//
// Upward transfers (uploads) carry no length; the sender half-closes its
// write side once the payload is complete.
package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// SizeLen is the length of the size prefix in bytes.
const SizeLen = 8

// maxReasonLen bounds the failure reason read after a zero size.
const maxReasonLen = 4096

var (
	// ErrShortRead indicates the peer closed before the expected number of
	// bytes arrived.
	ErrShortRead = errors.New("short read")

	// ErrNoData indicates a close-terminated upload carried zero bytes.
	ErrNoData = errors.New("no data received")
)

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64*1024)
		return &b
	},
}

// WriteSize writes the 8-byte size prefix.
func WriteSize(w io.Writer, size uint64) error {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, size); err != nil {
		return fmt.Errorf("encode size: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write size: %w", err)
	}
	return nil
}

// ReadSize reads the 8-byte size prefix.
func ReadSize(r io.Reader) (uint64, error) {
	raw, err := ReceiveExact(r, SizeLen)
	if err != nil {
		return 0, err
	}

	var size uint64
	if _, err := xdr.Unmarshal(bytes.NewReader(raw), &size); err != nil {
		return 0, fmt.Errorf("decode size: %w", err)
	}
	return size, nil
}

// ReceiveExact reads exactly n bytes, failing with ErrShortRead if the
// stream ends first.
func ReceiveExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return buf[:got], fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, got, n)
		}
		return buf[:got], err
	}
	return buf, nil
}

// CopyExact relays exactly n bytes from src to dst in bounded chunks. It
// returns the number of bytes written and ErrShortRead if src ended early.
func CopyExact(dst io.Writer, src io.Reader, n uint64) (uint64, error) {
	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)

	var total uint64
	for total < n {
		chunk := *bp
		if remaining := n - total; remaining < uint64(len(chunk)) {
			chunk = chunk[:remaining]
		}

		read, err := io.ReadFull(src, chunk)
		if read > 0 {
			written, werr := dst.Write(chunk[:read])
			total += uint64(written)
			if werr != nil {
				return total, werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return total, fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, total, n)
			}
			return total, err
		}
	}
	return total, nil
}

// StreamUntilClose copies src to dst until src reports EOF. A stream that
// ends without a single byte yields ErrNoData, never an empty success.
func StreamUntilClose(dst io.Writer, src io.Reader) (uint64, error) {
	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)

	n, err := io.CopyBuffer(dst, src, *bp)
	if err != nil {
		return uint64(n), err
	}
	if n == 0 {
		return 0, ErrNoData
	}
	return uint64(n), nil
}

// SendLengthFramed writes size followed by exactly size bytes of body.
func SendLengthFramed(w io.Writer, size uint64, body io.Reader) error {
	if err := WriteSize(w, size); err != nil {
		return err
	}
	if _, err := CopyExact(w, body, size); err != nil {
		return fmt.Errorf("send payload: %w", err)
	}
	return nil
}

// SendFailure writes a zero size and a one-line reason.
func SendFailure(w io.Writer, reason string) error {
	if err := WriteSize(w, 0); err != nil {
		return err
	}
	reason = strings.TrimRight(reason, "\r\n")
	if _, err := io.WriteString(w, reason+"\n"); err != nil {
		return fmt.Errorf("write reason: %w", err)
	}
	return nil
}

// ReadReason reads the reason line that follows a zero size. The line ends
// at '\n' or when the peer closes.
func ReadReason(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for b.Len() < maxReasonLen {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return b.String(), err
		}
		if c == '\n' {
			break
		}
		b.WriteByte(c)
	}

	reason := strings.TrimSpace(b.String())
	if reason == "" {
		return "", fmt.Errorf("%w: empty failure reason", ErrShortRead)
	}
	return reason, nil
}
