package adapter

import (
	"errors"

	"github.com/marmos91/shardfs/pkg/protocol"
	"github.com/marmos91/shardfs/pkg/protocol/frame"
	"github.com/marmos91/shardfs/pkg/routing"
	"github.com/marmos91/shardfs/pkg/store"
)

// UploadStatus maps the outcome of a local Store to its status line.
func UploadStatus(err error) string {
	switch {
	case err == nil:
		return protocol.StoredOK
	case errors.Is(err, frame.ErrNoData):
		return protocol.UploadFailed + "No data received"
	case errors.Is(err, routing.ErrNoHome):
		return protocol.UploadFailed + routing.ErrNoHome.Error()
	case errors.Is(err, routing.ErrUnsupportedType), errors.Is(err, routing.ErrNoExtension):
		return protocol.UploadFailed + "Unsupported file type"
	case errors.Is(err, routing.ErrOutsideNamespace):
		return protocol.UploadFailed + "Invalid destination path"
	case errors.Is(err, store.ErrPermission):
		return protocol.UploadFailed + "Permission denied"
	default:
		return protocol.UploadFailed + "Error writing file"
	}
}

// RemoveStatus maps the outcome of a local Remove to its status line.
func RemoveStatus(err error) string {
	switch {
	case err == nil:
		return protocol.RemovedOK
	case errors.Is(err, store.ErrNotFound):
		return protocol.RemoveFailed + "File not found"
	case errors.Is(err, store.ErrNotRegular):
		return protocol.RemoveFailed + "Not a regular file"
	case errors.Is(err, store.ErrPermission):
		return protocol.RemoveFailed + "Permission denied"
	case errors.Is(err, routing.ErrNoHome):
		return protocol.RemoveFailed + routing.ErrNoHome.Error()
	case errors.Is(err, routing.ErrNoExtension):
		return protocol.RemoveFailed + "No file extension"
	case errors.Is(err, routing.ErrUnsupportedType):
		return protocol.RemoveFailed + "Unsupported file type"
	case errors.Is(err, routing.ErrOutsideNamespace):
		return protocol.RemoveFailed + "Invalid path"
	default:
		return protocol.RemoveFailed + err.Error()
	}
}

// FetchReason maps a failed local Open to the reason sent after a zero size.
func FetchReason(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNotRegular):
		return protocol.FileNotFound
	case errors.Is(err, routing.ErrNoHome):
		return routing.ErrNoHome.Error()
	case errors.Is(err, routing.ErrOutsideNamespace):
		return protocol.DownloadFailed + "Invalid path"
	default:
		return "Error opening file"
	}
}
