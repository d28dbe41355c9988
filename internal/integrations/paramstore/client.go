package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is satisfied by *ssm.Client.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is what the relay HTTP client and the entry points depend on.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client reads SecureString parameters. Values are kept for the life of the
// process, which for a Lambda container is the warm period.
type Client struct {
	api ssmAPI

	mu     sync.Mutex
	values map[string]string
}

func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api, values: make(map[string]string)}, nil
}

// GetParameter returns the decrypted value of name. Failed lookups are not
// cached.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: parameter name is required")
	}

	c.mu.Lock()
	v, ok := c.values[name]
	c.mu.Unlock()
	if ok {
		return v, nil
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: %q has a missing value", name)
	}

	v = aws.ToString(out.Parameter.Value)
	c.mu.Lock()
	if c.values == nil {
		c.values = make(map[string]string)
	}
	c.values[name] = v
	c.mu.Unlock()
	return v, nil
}

// GetJSON reads name and decodes its JSON value into dst.
func GetJSON(ctx context.Context, g Getter, name string, dst any) error {
	if g == nil {
		return errors.New("paramstore: getter must not be nil")
	}
	raw, err := g.GetParameter(ctx, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("paramstore: decode %q as JSON: %w", name, err)
	}
	return nil
}

type urlPayload struct {
	URL string `json:"url"`
}

// RedisURL loads the Redis connection URL stored as {"url": "..."} under
// <prefix>/redis.
func RedisURL(ctx context.Context, g Getter, prefix string) (string, error) {
	name := strings.TrimRight(prefix, "/") + "/redis"
	var p urlPayload
	if err := GetJSON(ctx, g, name, &p); err != nil {
		return "", err
	}
	if strings.TrimSpace(p.URL) == "" {
		return "", fmt.Errorf("paramstore: %q has an empty url", name)
	}
	return p.URL, nil
}
