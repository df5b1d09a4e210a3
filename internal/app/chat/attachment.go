package chat

import (
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"roomcast/internal/pkg/errs"
)

const (
	// MaxAttachmentSizeMB is the maximum allowed file size in megabytes.
	MaxAttachmentSizeMB = 10

	// MaxAttachmentSize is the maximum allowed file size in bytes.
	MaxAttachmentSize = MaxAttachmentSizeMB * 1024 * 1024

	// MaxFileNameLength bounds the client supplied file name in bytes.
	MaxFileNameLength = 255

	// PresignedURLDuration is the fixed duration for which the upload URL is valid (5 minutes).
	PresignedURLDuration = 5 * time.Minute
)

// ExtToMIME maps permitted file extensions to their MIME types.
var ExtToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".zip":  "application/zip",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
}

// FileDescriptor references an uploaded blob attached to a file message.
type FileDescriptor struct {
	Key      string `json:"fileKey"`
	Name     string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"fileSize"`
}

// IsImage reports whether the file is an image.
func (f FileDescriptor) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(f.MimeType), "image/")
}

// FileKeyPrefix returns the object key prefix every attachment of roomID must use.
func FileKeyPrefix(roomID int64) string {
	return "rooms/" + strconv.FormatInt(roomID, 10) + "/"
}

// ValidateFileSize checks if the provided file size is within acceptable limits.
func ValidateFileSize(fileSize int64) *errs.CustomError {
	if fileSize <= 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if fileSize > MaxAttachmentSize {
		return errs.NewError(errs.ErrFileSizeTooLarge)
	}

	return nil
}

// ValidateFileType checks that the MIME type is allowed and agrees with the file extension.
func ValidateFileType(fileName string, mimeType string) *errs.CustomError {
	lowerMimeType := strings.ToLower(mimeType)

	ext := strings.ToLower(filepath.Ext(fileName))
	if len(ext) < 2 {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}

	expectedMIME, ok := ExtToMIME[ext]
	if !ok || expectedMIME != lowerMimeType {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}

	return nil
}

// ValidateFile checks a descriptor sent with a file message for roomID.
func ValidateFile(roomID int64, fd *FileDescriptor) *errs.CustomError {
	if fd == nil || fd.Key == "" || fd.Name == "" {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}

	if len(fd.Name) > MaxFileNameLength || strings.ContainsAny(fd.Name, "/\\") {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}

	prefix := FileKeyPrefix(roomID)
	if !strings.HasPrefix(fd.Key, prefix) || path.Clean(fd.Key) != fd.Key || len(fd.Key) == len(prefix) {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}

	if err := ValidateFileSize(fd.Size); err != nil {
		return err
	}

	return ValidateFileType(fd.Name, fd.MimeType)
}
