package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// operator:auth:{api_key} -> operator name, read by the auth package when a
// key is not in VALID_API_KEYS. No TTL.
var operatorKeys = map[string]string{
	"dispatch_blr_key": "dispatch-bengaluru",
	"ops_night_key":    "ops-night-shift",
	"test_key":         "test-operator",
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, using environment variables")
	}

	db, _ := strconv.Atoi(redisGetEnv("REDIS_DB", "0"))
	client := redis.NewClient(&redis.Options{
		Addr:     redisGetEnv("REDIS_ADDR", "localhost:6379"),
		Password: redisGetEnv("REDIS_PASSWORD", ""),
		DB:       db,
	})
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("Connection failed, is Redis running? (docker-compose up -d redis)")
	}
	fmt.Println("✓ Connected")

	seedOperatorKeys(ctx, client)
	verify(ctx, client)

	fmt.Println("\n✅ Redis seeded")
}

func seedOperatorKeys(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Operator API keys ───────────────────────────")

	keys := make([]string, 0, len(operatorKeys))
	for k := range operatorKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pipe := client.Pipeline()
	for _, k := range keys {
		pipe.Set(ctx, "operator:auth:"+k, operatorKeys[k], 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed operator keys")
	}
	for _, k := range keys {
		fmt.Printf("  ✓ %-32s → %s\n", "operator:auth:"+k, operatorKeys[k])
	}
}

func verify(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Verification ────────────────────────────────")

	var found int
	iter := client.Scan(ctx, 0, "operator:auth:*", 100).Iterator()
	for iter.Next(ctx) {
		found++
	}
	if err := iter.Err(); err != nil {
		log.Fatal().Err(err).Msg("Verification scan failed")
	}
	fmt.Printf("  ✓ %d operator keys in Redis\n", found)

	val, err := client.Get(ctx, "operator:auth:test_key").Result()
	if err != nil {
		log.Fatal().Err(err).Msg("Spot check failed")
	}
	fmt.Printf("  ✓ spot check: operator:auth:test_key → %s\n", val)
}

func redisGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
