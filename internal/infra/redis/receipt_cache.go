package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/domain/ports/repository"
	"receipt-ocr/internal/infra/metrics"
)

var _ repository.ReceiptRepository = (*receiptRepoCacheDecorator)(nil)

// receiptRepoCacheDecorator caches LatestOCRResult. Writes that can change
// the latest extraction drop the key before reaching the inner repository.
type receiptRepoCacheDecorator struct {
	repository.ReceiptRepository
	cache  RedisClient
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewReceiptRepoCacheDecorator(inner repository.ReceiptRepository, cache RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.ReceiptRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := logger.With().Str("component", "receipt_cache").Logger()
	return &receiptRepoCacheDecorator{
		ReceiptRepository: inner,
		cache:             cache,
		ttl:               ttl,
		logger:            &l,
	}
}

func resultKey(receiptID string) string { return fmt.Sprintf("ocr_result:%s", receiptID) }

func (d *receiptRepoCacheDecorator) LatestOCRResult(ctx context.Context, tx repository.Tx, receiptID string) (*model.OCRExtraction, error) {
	key := resultKey(receiptID)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var res model.OCRExtraction
		if json.Unmarshal([]byte(val), &res) == nil {
			metrics.IncCacheRequest("ocr_result", "hit")
			return &res, nil
		}
	} else if !errors.Is(err, Nil) {
		metrics.IncCacheRequest("ocr_result", "error")
		d.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	metrics.IncCacheRequest("ocr_result", "miss")
	res, err := d.ReceiptRepository.LatestOCRResult(ctx, tx, receiptID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(res); err == nil {
		if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
			d.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return res, nil
}

func (d *receiptRepoCacheDecorator) SaveOCRResult(ctx context.Context, tx repository.Tx, res *model.OCRExtraction) error {
	d.invalidate(ctx, res.ReceiptID)
	if err := d.ReceiptRepository.SaveOCRResult(ctx, tx, res); err != nil {
		return err
	}
	// a concurrent reader may have refilled the key from the old row
	d.invalidate(ctx, res.ReceiptID)
	return nil
}

func (d *receiptRepoCacheDecorator) invalidate(ctx context.Context, receiptID string) {
	if err := d.cache.Del(ctx, resultKey(receiptID)); err != nil {
		d.logger.Warn().Err(err).Str("receipt_id", receiptID).Msg("cache invalidation failed")
	}
}
