package templates

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AOT-Technologies/m8flow/pkg/config"
	"github.com/AOT-Technologies/m8flow/pkg/observability"
	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
)

// Storage persists template files under tenant/key/version.
type Storage interface {
	StoreFile(ctx context.Context, tenantID, templateKey, version, fileName string, content []byte) error
	GetFile(ctx context.Context, tenantID, templateKey, version, fileName string) ([]byte, error)
	ListFiles(ctx context.Context, tenantID, templateKey, version string) ([]FileEntry, error)
	DeleteFile(ctx context.Context, tenantID, templateKey, version, fileName string) error
}

// NewStorage builds the storage backend selected by configuration.
func NewStorage(cfg config.TemplateConfig, logger *observability.Logger) (Storage, error) {
	switch cfg.StorageType {
	case "filesystem":
		return NewFilesystemStorage(cfg.FilesystemRoot)
	case "s3":
		return NewS3Storage(cfg)
	case "noop":
		return NoopStorage{}, nil
	default:
		return nil, fmt.Errorf("unknown template storage type %q", cfg.StorageType)
	}
}

// BuildZip packs the listed files of a template version into a zip
// archive. Missing files are skipped so a half-written version still
// exports.
func BuildZip(ctx context.Context, storage Storage, logger *observability.Logger, tenantID, templateKey, version string, entries []FileEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range entries {
		if entry.FileName == "" {
			continue
		}
		content, err := storage.GetFile(ctx, tenantID, templateKey, version, entry.FileName)
		if err != nil {
			logger.WithError(err).WithFields(map[string]interface{}{
				"template_key": templateKey,
				"version":      version,
				"file_name":    entry.FileName,
			}).Warn("skipping missing file during zip export")
			continue
		}
		w, err := zw.Create(entry.FileName)
		if err != nil {
			zw.Close()
			return nil, fmt.Errorf("failed to add %s to archive: %w", entry.FileName, err)
		}
		if _, err := w.Write(content); err != nil {
			zw.Close()
			return nil, fmt.Errorf("failed to write %s to archive: %w", entry.FileName, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

// sanitizeComponent cleans one path component so user-supplied names
// cannot escape the storage root.
func sanitizeComponent(s string) (string, error) {
	s = strings.ReplaceAll(s, "\x00", "")
	for _, c := range []string{"/", "\\", ":", "*", "?", `"`, "<", ">", "|"} {
		s = strings.ReplaceAll(s, c, "-")
	}
	s = strings.Trim(s, ". -")
	if s == "" {
		return "", tenancy.NewAPIError("invalid_input", http.StatusBadRequest,
			"Name is empty after sanitization.")
	}
	if len(s) > 255 {
		s = s[:255]
	}
	return s, nil
}

// FilesystemStorage stores files at {root}/{tenant}/{key}/{version}/{name}.
type FilesystemStorage struct {
	root string
}

// NewFilesystemStorage creates a filesystem backend rooted at root.
func NewFilesystemStorage(root string) (*FilesystemStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("template storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template storage root: %w", err)
	}
	return &FilesystemStorage{root: abs}, nil
}

func (f *FilesystemStorage) versionDir(tenantID, templateKey, version string) (string, error) {
	parts := make([]string, 0, 3)
	for _, raw := range []string{tenantID, templateKey, version} {
		clean, err := sanitizeComponent(raw)
		if err != nil {
			return "", err
		}
		parts = append(parts, clean)
	}
	return filepath.Join(f.root, filepath.Join(parts...)), nil
}

func (f *FilesystemStorage) filePath(tenantID, templateKey, version, fileName string) (string, error) {
	dir, err := f.versionDir(tenantID, templateKey, version)
	if err != nil {
		return "", err
	}
	name, err := sanitizeComponent(filepath.Base(fileName))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (f *FilesystemStorage) StoreFile(ctx context.Context, tenantID, templateKey, version, fileName string, content []byte) error {
	path, err := f.filePath(tenantID, templateKey, version, fileName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create template directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write template file: %w", err)
	}
	return nil
}

func (f *FilesystemStorage) GetFile(ctx context.Context, tenantID, templateKey, version, fileName string) ([]byte, error) {
	path, err := f.filePath(tenantID, templateKey, version, fileName)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, tenancy.NewAPIError(tenancy.CodeNotFound, http.StatusNotFound,
			"File not found: %s", fileName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	return content, nil
}

func (f *FilesystemStorage) ListFiles(ctx context.Context, tenantID, templateKey, version string) ([]FileEntry, error) {
	dir, err := f.versionDir(tenantID, templateKey, version)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []FileEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list template files: %w", err)
	}
	files := make([]FileEntry, 0, len(dirEntries))
	for _, e := range dirEntries {
		if e.IsDir() {
			continue
		}
		files = append(files, FileEntry{FileName: e.Name(), FileType: FileTypeFromName(e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].FileName < files[j].FileName })
	return files, nil
}

func (f *FilesystemStorage) DeleteFile(ctx context.Context, tenantID, templateKey, version, fileName string) error {
	path, err := f.filePath(tenantID, templateKey, version, fileName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete template file: %w", err)
	}
	return nil
}

// NoopStorage rejects every operation; used when no backend is
// configured.
type NoopStorage struct{}

var errStorageNotConfigured = tenancy.NewAPIError("configuration_error", http.StatusInternalServerError,
	"Template storage is not configured.")

func (NoopStorage) StoreFile(ctx context.Context, tenantID, templateKey, version, fileName string, content []byte) error {
	return errStorageNotConfigured
}

func (NoopStorage) GetFile(ctx context.Context, tenantID, templateKey, version, fileName string) ([]byte, error) {
	return nil, errStorageNotConfigured
}

func (NoopStorage) ListFiles(ctx context.Context, tenantID, templateKey, version string) ([]FileEntry, error) {
	return nil, errStorageNotConfigured
}

func (NoopStorage) DeleteFile(ctx context.Context, tenantID, templateKey, version, fileName string) error {
	return errStorageNotConfigured
}
