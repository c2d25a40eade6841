package threadmod

import (
	"time"

	"github.com/google/uuid"
)

// maxFileSize returns the configured cap, defaulting to 10 MiB.
func (m *Mod) maxFileSize() int {
	if m.cfg.MaxFileSizeBytes > 0 {
		return m.cfg.MaxFileSizeBytes
	}
	return 10 * 1024 * 1024
}

// UploadFile stores bytes as a new immutable FileBlob. Rejects with ErrFileTooLarge when len(data) exceeds the
// configured cap. A copy of data is kept so later mutation of the caller's slice cannot corrupt the stored blob.
func (m *Mod) UploadFile(data []byte, filename, mime, uploaderID string) (uuid.UUID, error) {
	if len(data) > m.maxFileSize() {
		return uuid.Nil, ErrFileTooLarge
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	blob := &FileBlob{
		FileID:     uuid.New(),
		Filename:   filename,
		MIME:       mime,
		Size:       len(stored),
		Bytes:      stored,
		UploaderID: uploaderID,
		UploadTS:   time.Now(),
	}

	m.filesMu.Lock()
	m.files[blob.FileID] = blob
	m.filesMu.Unlock()

	if isImageMIME(mime) {
		m.enqueueThumbnail(blob.FileID)
	}

	return blob.FileID, nil
}

// DownloadFile returns the bytes of fileID, or ErrFileNotFound.
func (m *Mod) DownloadFile(fileID uuid.UUID) ([]byte, error) {
	m.filesMu.RLock()
	defer m.filesMu.RUnlock()

	blob, ok := m.files[fileID]
	if !ok {
		return nil, ErrFileNotFound
	}
	return blob.Bytes, nil
}

// FileMetadata returns fileID's filename and MIME type, or ErrFileNotFound.
func (m *Mod) FileMetadata(fileID uuid.UUID) (filename, mime string, err error) {
	m.filesMu.RLock()
	defer m.filesMu.RUnlock()

	blob, ok := m.files[fileID]
	if !ok {
		return "", "", ErrFileNotFound
	}
	return blob.Filename, blob.MIME, nil
}

func isImageMIME(mime string) bool {
	switch mime {
	case "image/jpeg", "image/png", "image/gif":
		return true
	default:
		return false
	}
}
