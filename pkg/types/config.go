package types

// ProjectConfig is the top-level gtfsload.yaml configuration.
type ProjectConfig struct {
	Project      string          `yaml:"project" json:"project" validate:"required"`
	Warehouse    WarehouseConfig `yaml:"warehouse" json:"warehouse"`
	Source       SourceConfig    `yaml:"source" json:"source"`
	Snapshot     SnapshotConfig  `yaml:"snapshot" json:"snapshot"`
	Lock         LockConfig      `yaml:"lock,omitempty" json:"lock,omitempty"`
	ContractDirs []string        `yaml:"contractDirs,omitempty" json:"contractDirs,omitempty"`
	Feeds        []FeedConfig    `yaml:"feeds" json:"feeds" validate:"dive"`
	Sinks        []SinkConfig    `yaml:"sinks,omitempty" json:"sinks,omitempty" validate:"dive"`
	Concurrency  int             `yaml:"concurrency,omitempty" json:"concurrency,omitempty" validate:"min=0,max=64"`
	Server       ServerConfig    `yaml:"server,omitempty" json:"server,omitempty"`
}

// Feed returns the feed configured for a dataset.
func (c *ProjectConfig) Feed(dataset string) (FeedConfig, bool) {
	for _, f := range c.Feeds {
		if f.Dataset == dataset {
			return f, true
		}
	}
	return FeedConfig{}, false
}

// WarehouseConfig locates the destination warehouse dataset.
type WarehouseConfig struct {
	Project  string `yaml:"project,omitempty" json:"project,omitempty"`
	Dataset  string `yaml:"dataset" json:"dataset" validate:"required"`
	Location string `yaml:"location,omitempty" json:"location,omitempty"`
	Timeout  string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SourceConfig locates the object store holding cached feed payloads.
type SourceConfig struct {
	Type     string `yaml:"type" json:"type" validate:"required,oneof=gcs s3 file"`
	Bucket   string `yaml:"bucket,omitempty" json:"bucket,omitempty" validate:"required_unless=Type file"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Root     string `yaml:"root,omitempty" json:"root,omitempty" validate:"required_if=Type file"`
}

// SnapshotConfig selects and configures the snapshot key-set store.
type SnapshotConfig struct {
	Provider  string           `yaml:"provider,omitempty" json:"provider,omitempty" validate:"omitempty,oneof=memory redis postgres firestore dynamodb"`
	OnError   StoreErrorPolicy `yaml:"onError,omitempty" json:"onError,omitempty" validate:"omitempty,oneof=skip abort"`
	Breaker   BreakerConfig    `yaml:"breaker,omitempty" json:"breaker,omitempty"`
	Redis     *RedisConfig     `yaml:"redis,omitempty" json:"redis,omitempty"`
	Postgres  *PostgresConfig  `yaml:"postgres,omitempty" json:"postgres,omitempty"`
	Firestore *FirestoreConfig `yaml:"firestore,omitempty" json:"firestore,omitempty"`
	DynamoDB  *DynamoDBConfig  `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`
}

// BreakerConfig tunes the circuit breaker in front of the snapshot store.
type BreakerConfig struct {
	MaxFailures uint32 `yaml:"maxFailures,omitempty" json:"maxFailures,omitempty"`
	OpenTimeout string `yaml:"openTimeout,omitempty" json:"openTimeout,omitempty"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr" validate:"required"`
	Password  string `yaml:"password,omitempty" json:"-"`
	DB        int    `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	DSN string `yaml:"dsn" json:"-" validate:"required"`
}

// FirestoreConfig holds Firestore settings.
type FirestoreConfig struct {
	ProjectID  string `yaml:"projectId,omitempty" json:"projectId,omitempty"`
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty"`
	Emulator   string `yaml:"emulator,omitempty" json:"emulator,omitempty"`
}

// DynamoDBConfig holds DynamoDB settings.
type DynamoDBConfig struct {
	TableName string `yaml:"tableName" json:"tableName" validate:"required"`
	Region    string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	// CreateTable creates the table on Start, for DynamoDB Local.
	CreateTable bool `yaml:"createTable,omitempty" json:"createTable,omitempty"`
}

// LockConfig enables the per-destination lease around staged merges.
type LockConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	TTL     string `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// FeedConfig binds a dataset to its cache location and write behaviour.
type FeedConfig struct {
	Dataset     string              `yaml:"dataset" json:"dataset" validate:"required"`
	Kind        FeedKind            `yaml:"kind,omitempty" json:"kind,omitempty" validate:"omitempty,oneof=realtime schedule"`
	CachePrefix string              `yaml:"cachePrefix" json:"cachePrefix" validate:"required"`
	FinalPrefix string              `yaml:"finalPrefix,omitempty" json:"finalPrefix,omitempty"`
	BatchSize   int                 `yaml:"batchSize,omitempty" json:"batchSize,omitempty" validate:"min=0"`
	Write       WriteConfig         `yaml:"write,omitempty" json:"write,omitempty"`
	Snapshot    *FeedSnapshotConfig `yaml:"snapshot,omitempty" json:"snapshot,omitempty"`
	// MaxPayloadBytes caps a realtime object after decompression. Zero uses
	// the decoder's default.
	MaxPayloadBytes int64 `yaml:"maxPayloadBytes,omitempty" json:"maxPayloadBytes,omitempty" validate:"min=0"`
}

// WriteConfig pins the write strategy for a feed.
type WriteConfig struct {
	Method       WriteMethod `yaml:"method,omitempty" json:"method,omitempty" validate:"omitempty,oneof=auto append streaming merge"`
	MergeKey     string      `yaml:"mergeKey,omitempty" json:"mergeKey,omitempty"`
	Immutable    []string    `yaml:"immutable,omitempty" json:"immutable,omitempty"`
	WindowColumn string      `yaml:"windowColumn,omitempty" json:"windowColumn,omitempty"`
}

// FeedSnapshotConfig enables cross-run dedup for a feed.
type FeedSnapshotConfig struct {
	Enabled    bool     `yaml:"enabled" json:"enabled"`
	KeyColumns []string `yaml:"keyColumns,omitempty" json:"keyColumns,omitempty"`
	TTL        string   `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// SinkConfig configures one report destination.
type SinkConfig struct {
	Type      SinkType `yaml:"type" json:"type" validate:"required,oneof=console webhook pubsub sns s3 file"`
	URL       string   `yaml:"url,omitempty" json:"url,omitempty" validate:"required_if=Type webhook"`
	ProjectID string   `yaml:"projectId,omitempty" json:"projectId,omitempty"`
	Topic     string   `yaml:"topic,omitempty" json:"topic,omitempty" validate:"required_if=Type pubsub"`
	TopicARN  string   `yaml:"topicArn,omitempty" json:"topicArn,omitempty" validate:"required_if=Type sns"`
	Bucket    string   `yaml:"bucket,omitempty" json:"bucket,omitempty" validate:"required_if=Type s3"`
	Prefix    string   `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Path      string   `yaml:"path,omitempty" json:"path,omitempty" validate:"required_if=Type file"`
	// MinLevel drops reports below this level; empty sends everything.
	MinLevel ReportLevel `yaml:"minLevel,omitempty" json:"minLevel,omitempty" validate:"omitempty,oneof=info warning error"`
}

// ServerConfig configures the HTTP trigger service.
type ServerConfig struct {
	Addr         string `yaml:"addr,omitempty" json:"addr,omitempty"`
	APIKey       string `yaml:"apiKey,omitempty" json:"-"`
	MaxBodyBytes int64  `yaml:"maxBodyBytes,omitempty" json:"maxBodyBytes,omitempty"`
}
