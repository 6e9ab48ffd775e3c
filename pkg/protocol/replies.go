package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxCommandLength bounds a single command line, terminator included.
const MaxCommandLength = 4096

// Status texts. Every textual reply is one line terminated by '\n'.
const (
	StoredOK  = "Stored successfully"
	RemovedOK = "File removed successfully"

	// NoFilesFound is the listing sentinel for an empty result.
	NoFilesFound = "no files found"

	FileNotFound      = "File not found"
	NoFilePath        = "No file path provided"
	ServerUnreachable = "Server connection error"
	SizeNotReceived   = "Error receiving file size"
	NoResponse        = "No response from server"

	UploadFailed   = "Upload failed: "
	RemoveFailed   = "Remove failed: "
	DownloadFailed = "Download failed: "
)

// ErrCommandTooLong is returned when no terminator arrives within
// MaxCommandLength bytes.
var ErrCommandTooLong = errors.New("command line too long")

// ReadLine reads one '\n' terminated line and returns it without the
// terminator. A final line cut short by EOF is returned as is; the next call
// reports io.EOF.
func ReadLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxCommandLength {
			return "", ErrCommandTooLong
		}

		switch {
		case err == nil:
			return strings.TrimRight(string(line), "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return strings.TrimRight(string(line), "\r\n"), nil
		default:
			return "", err
		}
	}
}

// WriteLine writes text followed by a single '\n'.
func WriteLine(w io.Writer, text string) error {
	_, err := io.WriteString(w, strings.TrimRight(text, "\r\n")+"\n")
	return err
}

// Failf formats a prefixed failure status, e.g. Failf(UploadFailed, "No data received").
func Failf(prefix, format string, args ...any) string {
	return prefix + fmt.Sprintf(format, args...)
}

// WriteListing writes a ListNames reply: one name per line and an empty line
// as terminator, or the NoFilesFound sentinel when names is empty.
func WriteListing(w io.Writer, names []string) error {
	if len(names) == 0 {
		return WriteLine(w, NoFilesFound)
	}

	var b bytes.Buffer
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := w.Write(b.Bytes())
	return err
}

// ReadListing reads a reply written by WriteListing. The sentinel, an empty
// terminator line or EOF all end the listing.
func ReadListing(r *bufio.Reader) ([]string, error) {
	var names []string
	for {
		line, err := ReadLine(r)
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return names, err
		}
		if line == "" {
			return names, nil
		}
		if len(names) == 0 && IsNoFilesFound(line) {
			return nil, nil
		}
		names = append(names, line)
	}
}

// IsNoFilesFound reports whether text is the empty-listing sentinel,
// ignoring case and surrounding whitespace.
func IsNoFilesFound(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), NoFilesFound)
}
