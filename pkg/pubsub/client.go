package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/multierr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dispatchly/dispatchly-backend/pkg/config"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
)

const (
	kindTopic        = "topics"
	kindSubscription = "subscriptions"
)

var errNotInitialized = errors.New("pubsub client not initialized")

// Client holds the Pub/Sub connection and one long-lived publisher per topic.
type Client struct {
	conn    *pubsub.Client
	project string
	subs    []string

	mu     sync.Mutex
	topics map[string]*pubsub.Publisher
}

// NewClient dials Pub/Sub and fails fast when a configured subscription is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errors.New("gcp project id is required")
	}
	subs := SubscriptionNames(cfg)
	if len(subs) == 0 {
		return nil, errors.New("at least one pubsub subscription is required")
	}

	conn, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("dial pubsub: %w", err)
	}
	c := &Client{conn: conn, project: project, subs: subs, topics: map[string]*pubsub.Publisher{}}
	if err := c.Ping(ctx); err != nil {
		return nil, multierr.Append(err, conn.Close())
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "subscriptions", subs), "pubsub.ready")
	}
	return c, nil
}

// SubscriptionNames lists the non-empty subscriptions the worker drains.
func SubscriptionNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, name := range []string{cfg.NotificationSubscription, cfg.OrdersSubscription, cfg.BillingSubscription} {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Ping looks up every configured subscription and reports all that are missing.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return errNotInitialized
	}
	var errs error
	for _, name := range c.subs {
		_, err := c.conn.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: qualify(c.project, kindSubscription, name),
		})
		switch {
		case err == nil:
		case status.Code(err) == codes.NotFound:
			errs = multierr.Append(errs, fmt.Errorf("subscription %q does not exist", name))
		default:
			errs = multierr.Append(errs, fmt.Errorf("look up subscription %q: %w", name, err))
		}
	}
	return errs
}

// Subscription returns a receiver for a subscription ID or full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.conn == nil {
		return nil
	}
	full := qualify(c.project, kindSubscription, name)
	if full == "" {
		return nil
	}
	return c.conn.Subscriber(full)
}

// Publisher returns the cached publisher for a topic, creating it on first use.
// Ordering is enabled so facts sharing an ordering key arrive in commit order.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.conn == nil {
		return nil
	}
	full := qualify(c.project, kindTopic, name)
	if full == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.topics[full]
	if !ok {
		p = c.conn.Publisher(full)
		p.EnableMessageOrdering = true
		c.topics[full] = p
	}
	return p
}

// Close flushes every publisher, then releases the connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	c.mu.Lock()
	for _, p := range c.topics {
		p.Stop()
	}
	clear(c.topics)
	c.mu.Unlock()
	return c.conn.Close()
}

// qualify expands a short name to projects/<project>/<kind>/<name>. Names that
// are already fully qualified pass through.
func qualify(project, kind, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/"):
		return name
	case project == "":
		return ""
	}
	return "projects/" + project + "/" + kind + "/" + name
}
