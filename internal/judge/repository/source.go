package repository

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"judgeflow/internal/common/storage"
	appErr "judgeflow/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	sourceContentType = "application/zstd"
	// maxSourceBytes bounds decompressed source so a corrupt object cannot balloon.
	maxSourceBytes = 1 << 20
)

// SourceRepository stores submission source code as zstd objects.
type SourceRepository struct {
	storage storage.ObjectStorage
	bucket  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewSourceRepository creates a source repository on bucket.
func NewSourceRepository(store storage.ObjectStorage, bucket string) (*SourceRepository, error) {
	if store == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("source bucket is required")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(4*maxSourceBytes))
	if err != nil {
		return nil, err
	}
	return &SourceRepository{storage: store, bucket: bucket, encoder: enc, decoder: dec}, nil
}

// SourceKey builds the object key for a submission.
func SourceKey(submissionID string) string {
	return "submissions/" + submissionID + "/source.zst"
}

// HashSource returns the hex sha256 of the uncompressed source.
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Put compresses and uploads source under key.
func (r *SourceRepository) Put(ctx context.Context, key, source string) error {
	compressed := r.encoder.EncodeAll([]byte(source), nil)
	if err := r.storage.PutObject(ctx, r.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), sourceContentType); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "upload source failed")
	}
	return nil
}

// Get downloads and decompresses the source under key, verifying
// expectedHash when it is set.
func (r *SourceRepository) Get(ctx context.Context, key, expectedHash string) (string, error) {
	reader, err := r.storage.GetObject(ctx, r.bucket, key)
	if err != nil {
		if storage.IsNotFound(err) {
			return "", appErr.Wrapf(err, appErr.NotFound, "source object not found")
		}
		return "", appErr.Wrapf(err, appErr.StorageError, "download source failed")
	}
	defer reader.Close()

	compressed, err := io.ReadAll(io.LimitReader(reader, maxSourceBytes+1))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "read source failed")
	}
	raw, err := r.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "decompress source failed")
	}
	if len(raw) > maxSourceBytes {
		return "", appErr.New(appErr.CodeTooLarge).WithMessage("stored source exceeds size limit")
	}
	source := string(raw)
	if expectedHash != "" && !strings.EqualFold(HashSource(source), expectedHash) {
		return "", appErr.New(appErr.InvalidParams).WithMessage("source hash mismatch")
	}
	return source, nil
}
