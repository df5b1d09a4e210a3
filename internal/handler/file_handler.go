package handler

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"roomcast/internal/app/chat"
	"roomcast/internal/pkg/errs"
	"roomcast/internal/pkg/logx"
	"roomcast/internal/pkg/req"
	"roomcast/internal/pkg/resp"
)

// PresignUploadInput defines the JSON input structure for generating upload URL.
type PresignUploadInput struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// PresignUploadOutput carries the upload URL and the descriptor a file message must reference.
type PresignUploadOutput struct {
	PresignedURL string              `json:"presignedUrl"`
	ExpiresIn    int                 `json:"expiresIn"`
	File         chat.FileDescriptor `json:"fileData"`
}

// HandlePresignUpload creates an HTTP HandlerFunc to generate a time-limited,
// pre-signed URL for file upload, scoped to a specific room.
func HandlePresignUpload(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.StorageService == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		_, roomID, ok := requireMember(w, r, deps)
		if !ok {
			return
		}

		var input PresignUploadInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if err := chat.ValidateFileSize(input.FileSize); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		if err := chat.ValidateFileType(input.FileName, input.MimeType); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		fileExt := strings.ToLower(filepath.Ext(input.FileName))
		fd := chat.FileDescriptor{
			Key:      chat.FileKeyPrefix(roomID) + uuid.NewString() + fileExt,
			Name:     filepath.Base(input.FileName),
			MimeType: strings.ToLower(input.MimeType),
			Size:     input.FileSize,
		}

		if err := chat.ValidateFile(roomID, &fd); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		url, err := deps.StorageService.PresignUpload(r.Context(), fd.Key, fd.MimeType, fd.Size, chat.PresignedURLDuration)
		if err != nil {
			logx.Error(err, "Presign upload failed", "room_id", roomID)
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		resp.RespondSuccess(w, r, PresignUploadOutput{
			PresignedURL: url,
			ExpiresIn:    int(chat.PresignedURLDuration.Seconds()),
			File:         fd,
		})
	}
}

// HandlePresignDownload redirects a room member to a time-limited download URL for
// an attachment of that room, named by the "key" query parameter.
func HandlePresignDownload(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.StorageService == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		_, roomID, ok := requireMember(w, r, deps)
		if !ok {
			return
		}

		fileKey := r.URL.Query().Get("key")
		if fileKey == "" || !strings.HasPrefix(fileKey, chat.FileKeyPrefix(roomID)) || strings.Contains(fileKey, "..") {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		url, err := deps.StorageService.PresignDownload(r.Context(), fileKey, chat.PresignedURLDuration)
		if err != nil {
			logx.Error(err, "Presign download failed", "room_id", roomID)
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		http.Redirect(w, r, url, http.StatusFound)
	}
}
