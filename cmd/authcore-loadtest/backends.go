package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medconnect/authcore/store"
	"github.com/medconnect/authcore/store/memory"
	"github.com/medconnect/authcore/store/postgres"
)

func openStore(ctx context.Context, s settings, logger *zap.Logger) (store.Store, error) {
	if s.Store == backendPostgres {
		return postgres.Open(ctx, s.PostgresDSN, postgres.WithLogger(logger))
	}
	return memory.New(), nil
}

// openRedis returns nil for the in-process cache.
func openRedis(s settings, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	switch s.Cache {
	case backendMiniredis:
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		logger.Info("using miniredis", zap.String("addr", mr.Addr()))
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	case backendRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{s.RedisAddr}})
		logger.Info("using redis", zap.String("addr", s.RedisAddr))
		return client, func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

func signingKey(path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), nil
}
