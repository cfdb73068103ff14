package redis_repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	searchmodels "github.com/shift6/quotewatch/tools/web_search/models"
)

const docKeyPrefix = "feeddocs:"

// redisDocumentRepository implements DocumentRepository using Redis
type redisDocumentRepository struct {
	client *redis.Client
}

func NewRedisDocumentRepository(client *redis.Client) *redisDocumentRepository {
	return &redisDocumentRepository{client: client}
}

func (r *redisDocumentRepository) SaveDocuments(ctx context.Context, domain string, docs []searchmodels.Document, ttl time.Duration) error {
	key := docKeyPrefix + domain

	data, err := json.Marshal(docs)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *redisDocumentRepository) GetAllDocuments(ctx context.Context) ([]searchmodels.Document, error) {
	keys, err := r.client.Keys(ctx, docKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}

	var out []searchmodels.Document
	for _, key := range keys {
		val, err := r.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var docs []searchmodels.Document
		if err := json.Unmarshal([]byte(val), &docs); err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}
