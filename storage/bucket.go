package storage

import (
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"gorm.io/gorm"
)

type StorageType uint8

const (
	StorageTypeFile StorageType = 0
	StorageTypeS3   StorageType = 1
)

type Bucket struct {
	ID            uint64 `gorm:"primaryKey"`
	CreatedAt     int64
	UpdatedAt     int64
	Name          string `gorm:"type:varchar(200)"`
	StorageType   StorageType
	Path          string `gorm:"type:varchar(1000)"` // Path on a drive or a prefix in a S3 bucket
	Endpoint      string `gorm:"type:varchar(300)"`  // Custom S3 endpoint (MinIO, etc), empty for AWS
	Region        string `gorm:"type:varchar(100)"`
	SSEEncryption string `gorm:"type:varchar(50)"`
	AuthDetails   string `gorm:"type:varchar(1000)"` // In case of S3 bucket - "key:secret"
}

func (b *Bucket) Create(db *gorm.DB) error {
	if err := db.Create(b).Error; err != nil {
		return err
	}
	if b.StorageType == StorageTypeFile {
		return os.MkdirAll(b.Path, 0777)
	}
	return nil
}

func (b *Bucket) IsS3() bool {
	return b.StorageType == StorageTypeS3
}

// GetRemotePath prefixes the path with the bucket's own prefix
func (b *Bucket) GetRemotePath(path string) string {
	if b.Path == "" {
		return path
	}
	return strings.TrimSuffix(b.Path, "/") + "/" + path
}

func (b *Bucket) CreateSVC() *s3.S3 {
	cfg := aws.NewConfig()
	if b.Region != "" {
		cfg = cfg.WithRegion(b.Region)
	}
	if b.Endpoint != "" {
		cfg = cfg.WithEndpoint(b.Endpoint).WithS3ForcePathStyle(true)
	}
	if key, secret, ok := strings.Cut(b.AuthDetails, ":"); ok {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(key, secret, ""))
	}
	sess := session.Must(session.NewSession(cfg))
	return s3.New(sess)
}
