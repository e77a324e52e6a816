package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/neogan74/quickkv/internal/codec"
	"github.com/neogan74/quickkv/internal/kverrors"
	"github.com/neogan74/quickkv/internal/logger"
)

// DefaultCassandraKeyspace is used when no keyspace is configured
const DefaultCassandraKeyspace = "quickkv"

// CassandraBackend stores a table in Cassandra. Expiry stays in the ttl column;
// native Cassandra TTLs are not used so lazy eviction behaves like every other backend.
type CassandraBackend struct {
	hosts    []string
	keyspace string
	table    string
	timeout  time.Duration
	log      logger.Logger

	session *gocql.Session
}

// NewCassandraBackend creates a Cassandra backend. hosts is a comma separated contact point list.
func NewCassandraBackend(hosts, keyspace, table string, timeout time.Duration, log logger.Logger) *CassandraBackend {
	if keyspace == "" {
		keyspace = DefaultCassandraKeyspace
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var contacts []string
	for _, h := range strings.Split(hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			contacts = append(contacts, h)
		}
	}
	return &CassandraBackend{
		hosts:    contacts,
		keyspace: keyspace,
		table:    strings.ToLower(table),
		timeout:  timeout,
		log:      logger.OrDefault(log).WithFields(logger.String("keyspace", keyspace), logger.String("table", table)),
	}
}

func (c *CassandraBackend) Name() string { return DriverCassandra }

func (c *CassandraBackend) Connect(ctx context.Context) error {
	if c.session != nil {
		return nil
	}
	if len(c.hosts) == 0 {
		return kverrors.Backend(DriverCassandra, "connect", errors.New("no contact points configured"))
	}

	cluster := gocql.NewCluster(c.hosts...)
	cluster.Timeout = c.timeout
	cluster.ConnectTimeout = c.timeout
	cluster.Consistency = gocql.Quorum

	session, err := cluster.CreateSession()
	if err != nil {
		return kverrors.Backend(DriverCassandra, "connect", err)
	}

	stmts := []string{
		fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`, c.keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (key text PRIMARY KEY, value text, type text, ttl bigint)`, c.qualified()),
	}
	for _, stmt := range stmts {
		if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			session.Close()
			return kverrors.Backend(DriverCassandra, "connect", err)
		}
	}

	c.session = session
	c.log.Info("Cassandra backend connected", logger.Int("contact_points", len(c.hosts)))
	return nil
}

func (c *CassandraBackend) qualified() string {
	return c.keyspace + "." + c.table
}

func (c *CassandraBackend) Close() error {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	return nil
}

func (c *CassandraBackend) Set(ctx context.Context, key string, e Entry) error {
	session, err := c.conn("set")
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (key, value, type, ttl) VALUES (?, ?, ?, ?)`, c.qualified())
	err = session.Query(stmt, key, e.Value, string(e.Type), e.TTL).WithContext(ctx).Exec()
	return kverrors.Backend(DriverCassandra, "set", err)
}

func (c *CassandraBackend) Get(ctx context.Context, key string) (Entry, bool, error) {
	session, err := c.conn("get")
	if err != nil {
		return Entry{}, false, err
	}
	var (
		value, typ string
		ttl        *int64
	)
	stmt := fmt.Sprintf(`SELECT value, type, ttl FROM %s WHERE key = ?`, c.qualified())
	err = session.Query(stmt, key).WithContext(ctx).Scan(&value, &typ, &ttl)
	if errors.Is(err, gocql.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, kverrors.Backend(DriverCassandra, "get", err)
	}
	return Entry{Value: value, Type: codec.TypeTag(typ), TTL: ttl}, true, nil
}

func (c *CassandraBackend) Delete(ctx context.Context, key string) error {
	session, err := c.conn("delete")
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, c.qualified())
	return kverrors.Backend(DriverCassandra, "delete", session.Query(stmt, key).WithContext(ctx).Exec())
}

func (c *CassandraBackend) Clear(ctx context.Context) error {
	session, err := c.conn("clear")
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`TRUNCATE %s`, c.qualified())
	return kverrors.Backend(DriverCassandra, "clear", session.Query(stmt).WithContext(ctx).Exec())
}

func (c *CassandraBackend) Has(ctx context.Context, key string) (bool, error) {
	session, err := c.conn("has")
	if err != nil {
		return false, err
	}
	var k string
	stmt := fmt.Sprintf(`SELECT key FROM %s WHERE key = ?`, c.qualified())
	err = session.Query(stmt, key).WithContext(ctx).Scan(&k)
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, kverrors.Backend(DriverCassandra, "has", err)
	}
	return true, nil
}

// All scans the whole table; rows come back in token order and are sorted here
func (c *CassandraBackend) All(ctx context.Context) ([]Item, error) {
	session, err := c.conn("all")
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(`SELECT key, value, type, ttl FROM %s`, c.qualified())
	iter := session.Query(stmt).WithContext(ctx).Iter()

	var (
		items           []Item
		key, value, typ string
		ttl             *int64
	)
	for iter.Scan(&key, &value, &typ, &ttl) {
		items = append(items, Item{Key: key, Entry: Entry{Value: value, Type: codec.TypeTag(typ), TTL: ttl}})
		ttl = nil
	}
	if err := iter.Close(); err != nil {
		return nil, kverrors.Backend(DriverCassandra, "all", err)
	}
	sortItems(items)
	return items, nil
}

func (c *CassandraBackend) conn(op string) (*gocql.Session, error) {
	if c.session == nil {
		return nil, kverrors.Backend(DriverCassandra, op, kverrors.ErrClosed)
	}
	return c.session, nil
}
