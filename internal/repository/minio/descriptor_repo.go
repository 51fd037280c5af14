package minio

import (
	"context"
	"errors"
	"io"

	"github.com/DRSN-tech/match-service/internal/cfg"
	"github.com/DRSN-tech/match-service/pkg/e"
	"github.com/jimlawless/whereami"
	"github.com/minio/minio-go/v7"
)

// DescriptorRepo читает blob'ы дескрипторов ключевых точек из MinIO.
// Blob пишет стадия инференса; ссылка на него непрозрачна для ядра и
// разворачивается только здесь.
type DescriptorRepo struct {
	mc  *minio.Client
	cfg *cfg.MinIOCfg
}

func NewDescriptorRepo(mc *minio.Client, cfg *cfg.MinIOCfg) *DescriptorRepo {
	return &DescriptorRepo{
		mc:  mc,
		cfg: cfg,
	}
}

// Load возвращает blob дескрипторов по ключу объекта.
func (d *DescriptorRepo) Load(ctx context.Context, ref string) ([]byte, error) {
	obj, err := d.mc.GetObject(ctx, d.cfg.BucketName, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer obj.Close()

	blob, err := io.ReadAll(obj)
	if err != nil {
		var minioErr minio.ErrorResponse
		if errors.As(err, &minioErr) && minioErr.Code == "NoSuchKey" {
			return nil, e.Wrap(whereami.WhereAmI(), e.ErrDescriptorNotFound)
		}

		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return blob, nil
}
