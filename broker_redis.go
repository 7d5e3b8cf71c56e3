package wrcgw

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func init() {
	RegisterFactory("redis", redisFactory{})
}

type redisFactory struct{}

func (redisFactory) NewDriver(uri, queue string) (Driver, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisDriver{
		client: client,
		queue:  queue,
		sub:    client.Subscribe(context.Background(), queue),
	}, nil
}

// redisDriver is a Driver backed by a single redis pub/sub channel
// (grounded on the original Rust `redis` crate's publish/subscribe usage in
// redis/reader.rs and redis/writer.rs).
type redisDriver struct {
	client *redis.Client
	queue  string
	sub    *redis.PubSub
}

func (d *redisDriver) Publish(payload []byte) error {
	return d.client.Publish(context.Background(), d.queue, payload).Err()
}

// Receive blocks up to 1 s for the next message, matching the original's
// set_read_timeout(1s) behavior; a timeout is not an error to the caller.
func (d *redisDriver) Receive() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	msg, err := d.sub.ReceiveMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errBrokerTimeout
		}
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (d *redisDriver) Close() error {
	d.sub.Close()
	return d.client.Close()
}
