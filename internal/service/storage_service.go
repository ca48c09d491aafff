package service

import (
	"attendance_console/internal/config"
	"attendance_console/internal/model"
	"attendance_console/internal/util"
	"attendance_console/pkg/logger"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// StorageProvider 导入文件的存放位置
type StorageProvider interface {
	Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, filename string) error
	GetURL(filename string) string
}

// LocalStorageProvider 本地存储实现
type LocalStorageProvider struct {
	Config *config.StorageConfig
}

func (p *LocalStorageProvider) Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	dst := filepath.Join(p.Config.LocalPath, filename)
	dir := filepath.Dir(dst)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, reader); err != nil {
		return "", err
	}

	return p.GetURL(filename), nil
}

func (p *LocalStorageProvider) Delete(ctx context.Context, filename string) error {
	return os.Remove(filepath.Join(p.Config.LocalPath, filename))
}

func (p *LocalStorageProvider) GetURL(filename string) string {
	return filepath.ToSlash(filepath.Join(p.Config.LocalPath, filename))
}

// MinioStorageProvider MinIO存储实现
type MinioStorageProvider struct {
	Config *config.StorageConfig
	Client *minio.Client
}

func NewMinioStorageProvider(cfg *config.StorageConfig) (*MinioStorageProvider, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStorageProvider{Config: cfg, Client: client}, nil
}

func (p *MinioStorageProvider) Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	_, err := p.Client.PutObject(ctx, p.Config.MinioBucket, filename, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return p.GetURL(filename), nil
}

func (p *MinioStorageProvider) Delete(ctx context.Context, filename string) error {
	return p.Client.RemoveObject(ctx, p.Config.MinioBucket, filename, minio.RemoveObjectOptions{})
}

func (p *MinioStorageProvider) GetURL(filename string) string {
	return "/" + p.Config.MinioBucket + "/" + filename
}

// StorageService 留存上传过的名单文件
type StorageService struct {
	Provider StorageProvider
	now      func() time.Time
}

// NewStorageService storage.type 为 none 时返回 nil
func NewStorageService(cfg *config.Config) (*StorageService, error) {
	var provider StorageProvider
	switch cfg.Storage.Type {
	case util.StorageMinio:
		p, err := NewMinioStorageProvider(&cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("init minio storage: %w", err)
		}
		provider = p
	case util.StorageLocal:
		provider = &LocalStorageProvider{Config: &cfg.Storage}
	default:
		return nil, nil
	}

	return NewStorageServiceWithProvider(provider), nil
}

func NewStorageServiceWithProvider(p StorageProvider) *StorageService {
	return &StorageService{Provider: p, now: time.Now}
}

// ArchiveImport 按日期分目录保存，文件名加 uuid 前缀避免覆盖，返回对象 key
func (s *StorageService) ArchiveImport(ctx context.Context, upload model.ImportUpload) (string, error) {
	key := fmt.Sprintf("%s/%s-%s",
		s.now().Format(util.DateFormat),
		uuid.NewString(),
		filepath.Base(upload.Filename),
	)
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "text/csv"
	}
	location, err := s.Provider.Upload(ctx, key, bytes.NewReader(upload.Content), int64(len(upload.Content)), contentType)
	if err != nil {
		return "", err
	}
	logger.Log.Debug("Roster import archived", zap.String("location", location))
	return key, nil
}

// DiscardImport 删除留存的文件
func (s *StorageService) DiscardImport(ctx context.Context, key string) error {
	if err := s.Provider.Delete(ctx, key); err != nil {
		return fmt.Errorf("discard archived import %s: %w", key, err)
	}
	logger.Log.Debug("Archived roster import discarded", zap.String("location", s.Provider.GetURL(key)))
	return nil
}
