package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"discovery-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Graph Database (Neo4j/Memgraph)
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`

	// Redis (metadata index and task-queue backend)
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Object storage (MinIO/S3)
	StorageEndpoint  string `env:"STORAGE_ENDPOINT" env-default:"localhost:9000"`
	StorageAccessKey string `env:"STORAGE_ACCESS_KEY" env-default:""`
	StorageSecretKey string `env:"STORAGE_SECRET_KEY" env-default:""`
	StorageUseSSL    bool   `env:"STORAGE_USE_SSL" env-default:"false"`
	StorageBucket    string `env:"STORAGE_BUCKET" env-default:"assets"`

	// Dependency discovery collaborator
	MetanomeBaseURL string        `env:"METANOME_BASE_URL" env-default:"http://localhost:8080"`
	MetanomeTimeout time.Duration `env:"METANOME_TIMEOUT" env-default:"5m"`

	// Task queue
	QueueStream        string        `env:"QUEUE_STREAM" env-default:"discovery:jobs"`
	QueueConsumerGroup string        `env:"QUEUE_CONSUMER_GROUP" env-default:"discovery-workers"`
	QueueBatchSize     int           `env:"QUEUE_BATCH_SIZE" env-default:"10"`
	QueueBlockTimeout  time.Duration `env:"QUEUE_BLOCK_TIMEOUT" env-default:"5s"`
	QueueMaxRetries    int           `env:"QUEUE_MAX_RETRIES" env-default:"3"`
	QueueWorkerCount   int           `env:"QUEUE_WORKER_COUNT" env-default:"4"`

	// Pipeline tuning
	RowsToUse      int     `env:"ROWS_TO_USE" env-default:"200"`
	MatchThreshold float64 `env:"MATCH_THRESHOLD" env-default:"0.5"`
	PickPolicy     string  `env:"JOINABLE_PICK_POLICY" env-default:"highest-score"`
	RankTieBreak   string  `env:"JOINABLE_RANK_TIE_BREAK" env-default:"mean-score"`

	// Kafka Producer (lifecycle events)
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"discovery-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`
}
