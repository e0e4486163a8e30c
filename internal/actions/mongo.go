package actions

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/yaml.v3"

	"github.com/solatis/ideafilter/internal/types"
)

const mongoDisconnectTimeout = 5 * time.Second

// MongoParams addresses the collection a mongo action inserts into.
type MongoParams struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	DB         string `yaml:"db"`
	Collection string `yaml:"collection"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
}

// URI renders the connection string without credentials.
func (p MongoParams) URI() string {
	u := url.URL{Scheme: "mongodb", Host: net.JoinHostPort(p.Host, strconv.Itoa(p.Port))}
	return u.String()
}

// Collection receives inserted documents.
type Collection interface {
	InsertOne(ctx context.Context, doc any) error
	Close(ctx context.Context) error
}

// MongoConnector opens the collection described by p.
type MongoConnector func(ctx context.Context, p MongoParams) (Collection, error)

// ConnectMongo opens p with the MongoDB driver.
func ConnectMongo(ctx context.Context, p MongoParams) (Collection, error) {
	opts := options.Client().ApplyURI(p.URI())
	if p.User != "" {
		opts.SetAuth(options.Credential{Username: p.User, Password: p.Password, AuthSource: p.DB})
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &mongoCollection{client: client, coll: client.Database(p.DB).Collection(p.Collection)}, nil
}

type mongoCollection struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func (m *mongoCollection) InsertOne(ctx context.Context, doc any) error {
	_, err := m.coll.InsertOne(ctx, doc)
	return err
}

func (m *mongoCollection) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// mongoAction inserts records with their *Time fields stored as datetimes.
// The connection is opened on first use.
type mongoAction struct {
	base
	params  MongoParams
	connect MongoConnector

	mu   sync.Mutex
	coll Collection
}

func newMongo(b base, params *yaml.Node, env Env) (*mongoAction, error) {
	p := MongoParams{Host: "localhost", Port: 27017}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.DB == "" || p.Collection == "" {
		return nil, invalid("mongo requires db and collection")
	}
	if p.Password != "" && p.User == "" {
		return nil, invalid("mongo password given without user")
	}
	connect := env.ConnectMongo
	if connect == nil {
		connect = ConnectMongo
	}
	return &mongoAction{base: b, params: p, connect: connect}, nil
}

func (m *mongoAction) Run(ctx context.Context, record types.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.coll == nil {
		coll, err := m.connect(ctx, m.params)
		if err != nil {
			return transport(err, "connect to mongo %s", m.params.URI())
		}
		m.coll = coll
	}
	if err := m.coll.InsertOne(ctx, MongoDocument(record)); err != nil {
		return transport(err, "insert into %s.%s", m.params.DB, m.params.Collection)
	}
	return nil
}

func (m *mongoAction) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.coll == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	defer cancel()
	err := m.coll.Close(ctx)
	m.coll = nil
	if err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

// MongoDocument returns a shallow copy of record with the top-level fields
// whose name ends in "Time" converted from RFC 3339 strings to time values.
// Unparsable strings are kept as is. record itself is not modified.
func MongoDocument(record types.Record) types.Record {
	doc := make(types.Record, len(record))
	for key, value := range record {
		doc[key] = value
		if !strings.HasSuffix(key, "Time") {
			continue
		}
		s, ok := value.(string)
		if !ok {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			doc[key] = t.UTC()
		}
	}
	return doc
}
