package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

type UploadResult struct {
	Key      string
	Location string
	ETag     string
}

type FileUploader interface {
	Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error)

	GetPublicURL(key string) string
}

// BracketArchiveKey возвращает ключ объекта с итоговой сеткой турнира.
func BracketArchiveKey(tournamentID, version int) string {
	return fmt.Sprintf("brackets/tournament-%d/v%d.json", tournamentID, version)
}

// UploadJSON сериализует doc и загружает его под ключом key.
func UploadJSON(ctx context.Context, uploader FileUploader, key string, doc interface{}) (*UploadResult, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return uploader.Upload(ctx, key, "application/json", bytes.NewReader(body))
}
