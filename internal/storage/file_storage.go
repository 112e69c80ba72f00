package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

// FileStorage отвечает за файловое хранилище вложений проектов.
type FileStorage struct {
	rootPath       string
	maxUploadBytes int64
}

// allowedTypes — принимаемые типы вложений: изображения, документы, архивы.
var allowedTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/gif":       {},
	"image/webp":      {},
	"application/pdf": {},
	"application/zip": {},
}

// NewFileStorage создаёт файловое хранилище.
func NewFileStorage(rootPath string, maxUploadMB int64) (*FileStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}

	return &FileStorage{
		rootPath:       rootPath,
		maxUploadBytes: maxUploadMB * 1024 * 1024,
	}, nil
}

// SavedFile описывает сохранённое вложение.
type SavedFile struct {
	RelativePath string
	ContentType  string
	Size         int64
}

// Save проверяет тип файла по содержимому, сохраняет его и возвращает
// относительный путь. Тип определяется по сигнатуре, а не по расширению.
func (s *FileStorage) Save(ctx context.Context, projectID uuid.UUID, originalName string, r io.Reader) (*SavedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	head := make([]byte, 261)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("storage: ошибка чтения файла: %w", err)
	}
	head = head[:n]

	kind, err := filetype.Match(head)
	if err != nil {
		return nil, fmt.Errorf("storage: не удалось определить тип файла: %w", err)
	}
	if _, ok := allowedTypes[kind.MIME.Value]; !ok {
		return nil, fmt.Errorf("storage: тип файла %q не поддерживается", kind.MIME.Value)
	}

	safeName := sanitizeFilename(originalName)
	fileName := fmt.Sprintf("%s_%d%s", projectID.String(), time.Now().UnixNano(), filepath.Ext(safeName))

	projectDir := filepath.Join(s.rootPath, projectID.String())
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог проекта: %w", err)
	}

	targetPath := filepath.Join(projectDir, fileName)
	tempPath := targetPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("storage: не удалось создать файл: %w", err)
	}
	defer f.Close()

	limitedReader := io.LimitedReader{R: io.MultiReader(bytes.NewReader(head), r), N: s.maxUploadBytes + 1}
	written, err := io.Copy(f, &limitedReader)
	if err != nil {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("storage: ошибка записи файла: %w", err)
	}

	if written > s.maxUploadBytes {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("storage: размер файла превышает лимит %d байт", s.maxUploadBytes)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("storage: ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return nil, fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}

	return &SavedFile{
		RelativePath: filepath.Join(projectID.String(), fileName),
		ContentType:  kind.MIME.Value,
		Size:         written,
	}, nil
}

// Delete удаляет файл из хранилища.
func (s *FileStorage) Delete(ctx context.Context, relativePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(s.rootPath, relativePath)
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: не удалось удалить файл: %w", err)
	}
	return nil
}

// FullPath возвращает абсолютный путь файла в хранилище.
func (s *FileStorage) FullPath(relativePath string) string {
	return filepath.Join(s.rootPath, relativePath)
}

// sanitizeFilename удаляет потенциально опасные символы.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" {
		name = "attachment"
	}
	return name
}
