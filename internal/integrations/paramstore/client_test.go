package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	out   *ssm.GetParameterOutput
	err   error
	calls int
	last  *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.last = in
	return f.out, f.err
}

func secure(name, value string) *ssm.GetParameterOutput {
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name:  aws.String(name),
		Value: aws.String(value),
		Type:  types.ParameterTypeSecureString,
	}}
}

func TestGetParameter_DecryptsAndTrimsName(t *testing.T) {
	api := &fakeSSM{out: secure("/app/redis", `{"url":"redis://localhost:6379"}`)}
	client, err := New(api)
	require.NoError(t, err)

	v, err := client.GetParameter(context.Background(), " /app/redis ")
	require.NoError(t, err)
	require.Equal(t, `{"url":"redis://localhost:6379"}`, v)
	require.Equal(t, "/app/redis", aws.ToString(api.last.Name))
	require.True(t, aws.ToBool(api.last.WithDecryption))
}

func TestGetParameter_CachesValues(t *testing.T) {
	api := &fakeSSM{out: secure("/app/relay-token", `{"token":"secret"}`)}
	client, err := New(api)
	require.NoError(t, err)

	for range 3 {
		v, err := client.GetParameter(context.Background(), "/app/relay-token")
		require.NoError(t, err)
		require.Equal(t, `{"token":"secret"}`, v)
	}
	require.Equal(t, 1, api.calls)
}

func TestGetParameter_ErrorsAreNotCached(t *testing.T) {
	api := &fakeSSM{err: errors.New("throttled")}
	client, err := New(api)
	require.NoError(t, err)

	_, err = client.GetParameter(context.Background(), "/app/redis")
	require.ErrorContains(t, err, "throttled")

	api.err = nil
	api.out = secure("/app/redis", "v")
	v, err := client.GetParameter(context.Background(), "/app/redis")
	require.NoError(t, err)
	require.Equal(t, "v", v)
	require.Equal(t, 2, api.calls)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeSSM{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: aws.String("p")}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "missing value")
}

func TestGetParameter_Guards(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")

	client, err := New(&fakeSSM{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")
}

type mapGetter map[string]string

func (m mapGetter) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", errors.New("parameter not found: " + name)
	}
	return v, nil
}

func TestGetJSON_Decodes(t *testing.T) {
	var dst struct {
		Token string `json:"token"`
	}
	err := GetJSON(context.Background(), mapGetter{"/app/relay-token": `{"token":"t-1"}`}, "/app/relay-token", &dst)
	require.NoError(t, err)
	require.Equal(t, "t-1", dst.Token)
}

func TestGetJSON_InvalidJSON(t *testing.T) {
	var dst map[string]string
	err := GetJSON(context.Background(), mapGetter{"p": "plain"}, "p", &dst)
	require.ErrorContains(t, err, "JSON")
}

func TestGetJSON_NilGetter(t *testing.T) {
	require.Error(t, GetJSON(context.Background(), nil, "p", &struct{}{}))
}

func TestRedisURL(t *testing.T) {
	url, err := RedisURL(context.Background(), mapGetter{"/app/redis": `{"url":"redis://cache:6379/0"}`}, "/app/")
	require.NoError(t, err)
	require.Equal(t, "redis://cache:6379/0", url)

	_, err = RedisURL(context.Background(), mapGetter{"/app/redis": `{"url":""}`}, "/app")
	require.ErrorContains(t, err, "empty url")

	_, err = RedisURL(context.Background(), mapGetter{}, "/app")
	require.ErrorContains(t, err, "not found")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "must not be nil")
}
