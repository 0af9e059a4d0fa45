// Package pubsub publishes outbox events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/outbox/registry"
)

// OrderingAttribute is the message attribute used as the ordering key, so
// events of one aggregate are delivered in publish order.
const OrderingAttribute = "aggregate_id"

var errProjectIDRequired = errors.New("gcp project id is required")

type Client struct {
	client  *pubsub.Client
	project string
	cfg     config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient dials Pub/Sub and verifies the configured topics exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	raw, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new client: %w", err)
	}
	c := &Client{client: raw, project: project, cfg: cfg, publishers: map[string]*pubsub.Publisher{}}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "project", project), "pubsub client ready")
	}
	return c, nil
}

// Publish sends one message and waits for the server ack. Messages carrying
// OrderingAttribute are ordered per aggregate; a failed ordered publish
// resumes the key so the next retry is not rejected.
func (c *Client) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) error {
	p, err := c.publisher(topic)
	if err != nil {
		return err
	}
	key := attrs[OrderingAttribute]
	_, err = p.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs, OrderingKey: key}).Get(ctx)
	if err == nil {
		return nil
	}
	if key != "" {
		p.ResumePublish(key)
	}
	err = fmt.Errorf("pubsub: publish to %s: %w", topic, err)
	if permanent(err) {
		return registry.Permanent(err)
	}
	return err
}

// Ping checks the event topics and, when configured, the orders subscription.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub: client not initialized")
	}
	for _, name := range topicNames(c.cfg) {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.resource("topics", name)})
		if err != nil {
			return missing("topic", name, err)
		}
	}
	if sub := strings.TrimSpace(c.cfg.OrdersSubscription); sub != "" {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: c.resource("subscriptions", sub)})
		if err != nil {
			return missing("subscription", sub, err)
		}
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

func (c *Client) publisher(topic string) (*pubsub.Publisher, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("pubsub: client not initialized")
	}
	name := c.resource("topics", topic)
	if name == "" {
		return nil, registry.Permanent(errors.New("pubsub: empty topic"))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.publishers[name]
	if !ok {
		p = c.client.Publisher(name)
		p.EnableMessageOrdering = true
		c.publishers[name] = p
	}
	return p, nil
}

// resource expands a short id into projects/<project>/<kind>/<id>. Full
// resource names pass through.
func (c *Client) resource(kind, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/") {
		return name
	}
	return "projects/" + c.project + "/" + kind + "/" + name
}

func topicNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, name := range []string{cfg.OrdersTopic, cfg.WalletTopic} {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func missing(kind, name string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("pubsub: %s %q does not exist", kind, name)
	}
	return fmt.Errorf("pubsub: get %s %q: %w", kind, name, err)
}

// permanent reports server rejections that retrying cannot fix.
func permanent(err error) bool {
	switch status.Code(errors.Unwrap(err)) {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied:
		return true
	default:
		return false
	}
}
