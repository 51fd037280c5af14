package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DRSN-tech/match-service/pkg/e"
	"github.com/DRSN-tech/match-service/pkg/logger"
	"github.com/jimlawless/whereami"
)

type Config struct {
	Minio    *MinIOCfg
	Http     *HTTPConfig
	Db       *PGDBCfg
	Qdrant   *QdrantCfg
	Redis    *RedisCfg
	Kafka    *KafkaCfg
	Matching *MatchingCfg
	Progress *ProgressCfg
}

type KafkaCfg struct {
	RequestsTopic     string
	EventsTopic       string
	GroupID           string
	Brokers           []string
	NetworkMode       string
	Partitions        int
	ReplicationFactor int
}

type MinIOCfg struct {
	MinioEndpoint     string // Адрес конечной точки Minio
	BucketName        string // Бакет с блобами дескрипторов
	MinioRootUser     string // Имя пользователя для доступа к Minio
	MinioRootPassword string // Пароль для доступа к Minio
	MinioUseSSL       bool
}

type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PGDBCfg struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type QdrantCfg struct {
	Port                 int
	Host                 string
	ApiKey               string
	QdrantCollectionName string // имя коллекции в Qdrant
	UseTLS               bool
	VectorSize           uint64
}

type RedisCfg struct {
	Addr        string
	Password    string
	User        string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
	FramesTTL   time.Duration
}

// MatchingCfg — пороги и веса движка сопоставления.
type MatchingCfg struct {
	TopK            int
	MaxConcurrent   int
	RetrieveTimeout time.Duration

	MinPairScore float64
	BestMin      float64
	ConsMinScore float64
	ConsMin      int
	SingleMin    float64
	InliersMin   float64

	EmbeddingWeight  float64
	KeypointWeight   float64
	StructuralWeight float64
}

type ProgressCfg struct {
	CompletionThreshold float64
}

// Load безопасно загружает конфигурацию и возвращает ошибку в случае неудачи.
func Load(log logger.Logger) (*Config, error) {
	db, err := loadPGDBCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	http, err := loadHTTPConfig(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	redis, err := loadRedisCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	minio, err := loadMinIOCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	qdrant, err := loadQdrantCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	kafka, err := loadKafkaCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	matching, err := loadMatchingCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	progress, err := loadProgressCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return &Config{
		Minio:    minio,
		Http:     http,
		Db:       db,
		Qdrant:   qdrant,
		Redis:    redis,
		Kafka:    kafka,
		Matching: matching,
		Progress: progress,
	}, nil
}

func loadKafkaCfg() (*KafkaCfg, error) {
	const (
		defaultPartitions        = 3
		defaultReplicationFactor = 1
		defaultNetworkMode       = "tcp"
		defaultGroupID           = "match-service"
	)

	brokerStr := os.Getenv("KAFKA_BROKERS")
	if brokerStr == "" {
		return nil, fmt.Errorf("KAFKA_BROKERS environment variable is required")
	}
	brokers := strings.Split(brokerStr, ",")

	requestsTopic := os.Getenv("KAFKA_REQUESTS_TOPIC")
	if requestsTopic == "" {
		return nil, fmt.Errorf("KAFKA_REQUESTS_TOPIC environment variable is required")
	}

	eventsTopic := os.Getenv("KAFKA_EVENTS_TOPIC")
	if eventsTopic == "" {
		return nil, fmt.Errorf("KAFKA_EVENTS_TOPIC environment variable is required")
	}

	partitions, err := parseIntEnv("KAFKA_PARTITIONS", defaultPartitions)
	if err != nil {
		return nil, e.Wrap("KAFKA_PARTITIONS", err)
	}

	replicationFactor, err := parseIntEnv("REPLICATION_FACTOR", defaultReplicationFactor)
	if err != nil {
		return nil, e.Wrap("REPLICATION_FACTOR", err)
	}

	networkMode := getEnvOrDefault("KAFKA_NETWORK_MODE", defaultNetworkMode)

	return &KafkaCfg{
		Brokers:           brokers,
		RequestsTopic:     requestsTopic,
		EventsTopic:       eventsTopic,
		GroupID:           getEnvOrDefault("KAFKA_GROUP_ID", defaultGroupID),
		Partitions:        partitions,
		ReplicationFactor: replicationFactor,
		NetworkMode:       networkMode,
	}, nil
}

func loadMinIOCfg(log logger.Logger) (*MinIOCfg, error) {
	const (
		defaultUseSSL   = false
		defaultEndpoint = "minio:9000"
	)

	useSSL, err := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", strconv.FormatBool(defaultUseSSL)))
	if err != nil {
		log.Errorf(err, "invalid MINIO_USE_SSL")
		return nil, err
	}

	return &MinIOCfg{
		MinioEndpoint:     getEnvOrDefault("MINIO_ENDPOINT", defaultEndpoint),
		BucketName:        getEnv("BUCKET_NAME"),
		MinioRootUser:     getEnv("MINIO_ROOT_USER"),
		MinioRootPassword: getEnv("MINIO_ROOT_PASSWORD"),
		MinioUseSSL:       useSSL,
	}, nil
}

func loadHTTPConfig(log logger.Logger) (*HTTPConfig, error) {
	const (
		defaultPort         = "8080"
		defaultReadTimeout  = 5 * time.Second
		defaultWriteTimeout = 10 * time.Second
		defaultIdleTimeout  = 60 * time.Second
	)

	port := getEnvOrDefault("HTTP_PORT", defaultPort)

	readTimeout, err := parseDurationEnv("HTTP_READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("HTTP_WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_WRITE_TIMEOUT")
		return nil, err
	}

	idleTimeout, err := parseDurationEnv("KEEP_ALIVE", defaultIdleTimeout)
	if err != nil {
		log.Errorf(err, "invalid KEEP_ALIVE")
		return nil, err
	}

	return &HTTPConfig{
		Port:         port,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}, nil
}

func loadPGDBCfg(log logger.Logger) (*PGDBCfg, error) {
	const (
		defaultHost    = "localhost"
		defaultPort    = "5432"
		defaultSSLMode = "disable"
	)

	user := getEnv("POSTGRES_USER")
	if user == "" {
		err := fmt.Errorf("POSTGRES_USER is required")
		log.Errorf(err, "missing POSTGRES_USER")
		return nil, err
	}

	password := getEnv("POSTGRES_PASSWORD")
	if password == "" {
		err := fmt.Errorf("POSTGRES_PASSWORD is required")
		log.Errorf(err, "missing POSTGRES_PASSWORD")
		return nil, err
	}

	dbName := getEnv("POSTGRES_DB")
	if dbName == "" {
		err := fmt.Errorf("POSTGRES_DB is required")
		log.Errorf(err, "missing POSTGRES_DB")
		return nil, err
	}

	return &PGDBCfg{
		Host:     getEnvOrDefault("POSTGRES_HOST", defaultHost),
		Port:     getEnvOrDefault("POSTGRES_PORT", defaultPort),
		User:     user,
		Password: password,
		DBName:   dbName,
		SSLMode:  getEnvOrDefault("SSL_MODE", defaultSSLMode),
	}, nil
}

func loadQdrantCfg(logger logger.Logger) (*QdrantCfg, error) {
	const (
		defaultQdrantGRPCPort = "6334"
		defaultUseTLS         = false
		defaultVectorSize     = "512"
	)

	strPort := getEnvOrDefault("QDRANT_GRPC_PORT", defaultQdrantGRPCPort)
	port, err := strconv.Atoi(strPort)
	if err != nil {
		logger.Errorf(err, "invalid QDRANT_PORT")
		return nil, err
	}

	useTLS, err := strconv.ParseBool(getEnvOrDefault("QDRANT_USE_TLS", strconv.FormatBool(defaultUseTLS)))
	if err != nil {
		logger.Errorf(err, "invalid QDRANT_USE_TLS")
		return nil, err
	}

	strVectorSize := getEnvOrDefault("VECTOR_SIZE", defaultVectorSize)
	vectorSize, err := strconv.ParseUint(strVectorSize, 10, 64)
	if err != nil {
		logger.Errorf(err, "invalid VECTOR_SIZE")
		return nil, err
	}

	return &QdrantCfg{
		Host:                 getEnv("QDRANT_HOST"),
		Port:                 port,
		ApiKey:               getEnv("QDRANT__SERVICE__API_KEY"),
		QdrantCollectionName: getEnv("COLLECTION_NAME"),
		UseTLS:               useTLS,
		VectorSize:           vectorSize,
	}, nil
}

func loadRedisCfg(log logger.Logger) (*RedisCfg, error) {
	const (
		defaultAddr         = "localhost:6379"
		defaultDB           = 0
		defaultMaxRetries   = 3
		defaultDialTimeout  = 5 * time.Second
		defaultReadTimeout  = 3 * time.Second
		defaultWriteTimeout = 3 * time.Second
		defaultFramesTTL    = 10 * time.Minute
	)

	addr := getEnvOrDefault("REDIS_ADDR", defaultAddr)
	password := getEnv("REDIS_PASSWORD")
	user := getEnv("REDIS_USER")

	dbStr := getEnvOrDefault("REDIS_DB_ID", strconv.Itoa(defaultDB))
	db, err := strconv.Atoi(dbStr)
	if err != nil {
		log.Errorf(err, "invalid REDIS_DB_ID")
		return nil, err
	}

	maxRetriesStr := getEnvOrDefault("MAX_RETRIES", strconv.Itoa(defaultMaxRetries))
	maxRetries, err := strconv.Atoi(maxRetriesStr)
	if err != nil {
		log.Errorf(err, "invalid MAX_RETRIES")
		return nil, err
	}

	dialTimeout, err := parseDurationEnv("DIAL_TIMEOUT", defaultDialTimeout)
	if err != nil {
		log.Errorf(err, "invalid DIAL_TIMEOUT")
		return nil, err
	}

	readTimeout, err := parseDurationEnv("READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid WRITE_TIMEOUT")
		return nil, err
	}

	framesTTL, err := parseDurationEnv("FRAMES_TTL", defaultFramesTTL)
	if err != nil {
		log.Errorf(err, "invalid FRAMES_TTL")
		return nil, err
	}

	timeout := readTimeout
	if writeTimeout > timeout {
		timeout = writeTimeout
	}

	return &RedisCfg{
		Addr:        addr,
		Password:    password,
		User:        user,
		DB:          db,
		MaxRetries:  maxRetries,
		DialTimeout: dialTimeout,
		Timeout:     timeout,
		FramesTTL:   framesTTL,
	}, nil
}

func loadMatchingCfg() (*MatchingCfg, error) {
	const (
		defaultTopK            = 50
		defaultMaxConcurrent   = 8
		defaultRetrieveTimeout = 5 * time.Second

		defaultMinPairScore = "0.45"
		defaultBestMin      = "0.80"
		defaultConsMinScore = "0.65"
		defaultConsMin      = 2
		defaultSingleMin    = "0.92"
		defaultInliersMin   = "0.35"

		defaultEmbeddingWeight  = "0.35"
		defaultKeypointWeight   = "0.55"
		defaultStructuralWeight = "0.10"
	)

	topK, err := parseIntEnv("MATCH_TOP_K", defaultTopK)
	if err != nil {
		return nil, e.Wrap("MATCH_TOP_K", err)
	}

	maxConcurrent, err := parseIntEnv("MATCH_MAX_CONCURRENT", defaultMaxConcurrent)
	if err != nil {
		return nil, e.Wrap("MATCH_MAX_CONCURRENT", err)
	}

	retrieveTimeout, err := parseDurationEnv("MATCH_RETRIEVE_TIMEOUT", defaultRetrieveTimeout)
	if err != nil {
		return nil, e.Wrap("MATCH_RETRIEVE_TIMEOUT", err)
	}

	minPairScore, err := parseFloatEnv("MATCH_MIN_PAIR_SCORE", defaultMinPairScore)
	if err != nil {
		return nil, e.Wrap("MATCH_MIN_PAIR_SCORE", err)
	}

	bestMin, err := parseFloatEnv("MATCH_BEST_MIN", defaultBestMin)
	if err != nil {
		return nil, e.Wrap("MATCH_BEST_MIN", err)
	}

	consMinScore, err := parseFloatEnv("MATCH_CONS_MIN_SCORE", defaultConsMinScore)
	if err != nil {
		return nil, e.Wrap("MATCH_CONS_MIN_SCORE", err)
	}

	consMin, err := parseIntEnv("MATCH_CONS_MIN", defaultConsMin)
	if err != nil {
		return nil, e.Wrap("MATCH_CONS_MIN", err)
	}

	singleMin, err := parseFloatEnv("MATCH_SINGLE_MIN", defaultSingleMin)
	if err != nil {
		return nil, e.Wrap("MATCH_SINGLE_MIN", err)
	}

	inliersMin, err := parseFloatEnv("MATCH_INLIERS_MIN", defaultInliersMin)
	if err != nil {
		return nil, e.Wrap("MATCH_INLIERS_MIN", err)
	}

	embeddingWeight, err := parseFloatEnv("MATCH_EMBEDDING_WEIGHT", defaultEmbeddingWeight)
	if err != nil {
		return nil, e.Wrap("MATCH_EMBEDDING_WEIGHT", err)
	}

	keypointWeight, err := parseFloatEnv("MATCH_KEYPOINT_WEIGHT", defaultKeypointWeight)
	if err != nil {
		return nil, e.Wrap("MATCH_KEYPOINT_WEIGHT", err)
	}

	structuralWeight, err := parseFloatEnv("MATCH_STRUCTURAL_WEIGHT", defaultStructuralWeight)
	if err != nil {
		return nil, e.Wrap("MATCH_STRUCTURAL_WEIGHT", err)
	}

	return &MatchingCfg{
		TopK:             topK,
		MaxConcurrent:    maxConcurrent,
		RetrieveTimeout:  retrieveTimeout,
		MinPairScore:     minPairScore,
		BestMin:          bestMin,
		ConsMinScore:     consMinScore,
		ConsMin:          consMin,
		SingleMin:        singleMin,
		InliersMin:       inliersMin,
		EmbeddingWeight:  embeddingWeight,
		KeypointWeight:   keypointWeight,
		StructuralWeight: structuralWeight,
	}, nil
}

func loadProgressCfg() (*ProgressCfg, error) {
	const defaultCompletionThreshold = "0.95"

	threshold, err := parseFloatEnv("COMPLETION_THRESHOLD", defaultCompletionThreshold)
	if err != nil {
		return nil, e.Wrap("COMPLETION_THRESHOLD", err)
	}

	return &ProgressCfg{CompletionThreshold: threshold}, nil
}

// getEnv возвращает значение переменной окружения.
// Возвращает пустую строку, если переменная не задана.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// parseDurationEnv считывает длительность или возвращает значение по умолчанию.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		return time.ParseDuration(v)
	}

	return defaultValue, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	intValue, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return intValue, nil
}

func parseFloatEnv(key, defaultValue string) (float64, error) {
	v := getEnvOrDefault(key, defaultValue)

	floatValue, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, e.ErrIncorrectEnvVariable
	}

	return floatValue, nil
}
