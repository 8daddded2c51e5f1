package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suoke-life/messagebus/transport"
	"github.com/suoke-life/messagebus/transport/transporttest"
)

func stubAWS(t *testing.T, region string) {
	t.Helper()
	originalLoader := DefaultConfigLoader
	originalResolver := TopicResolverFactory
	originalPublisher := PublisherFactory
	t.Cleanup(func() {
		DefaultConfigLoader = originalLoader
		TopicResolverFactory = originalResolver
		PublisherFactory = originalPublisher
	})

	DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: region}, nil
	}
}

func TestRegisteredOnInit(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	caps := Capabilities()
	assert.Equal(t, "aws", caps.Name)
	assert.EqualValues(t, 262144, caps.MaxMessageSize)
}

func TestBuild(t *testing.T) {
	t.Run("creates publisher", func(t *testing.T) {
		stubAWS(t, "us-east-1")
		pub := &transporttest.Publisher{}
		TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
			assert.Equal(t, "123456789012", accountID)
			assert.Equal(t, "eu-west-1", region)
			return sns.NewGenerateArnTopicResolver(accountID, region)
		}
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, "eu-west-1", cfg.AWSConfig.Region)
			assert.Empty(t, cfg.OptFns)
			return pub, nil
		}

		tr, err := Build(context.Background(), &transporttest.Config{
			AWSRegion:    "eu-west-1",
			AWSAccountID: "123456789012",
		}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)
	})

	t.Run("overrides endpoint for localstack", func(t *testing.T) {
		stubAWS(t, "us-east-1")
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Len(t, cfg.OptFns, 1)
			return &transporttest.Publisher{}, nil
		}

		_, err := Build(context.Background(), &transporttest.Config{AWSEndpoint: "http://localhost:4566"}, watermill.NopLogger{})
		require.NoError(t, err)
	})

	t.Run("requires region", func(t *testing.T) {
		stubAWS(t, "")
		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "region is required")
	})

	t.Run("returns error when config loader fails", func(t *testing.T) {
		stubAWS(t, "us-east-1")
		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("config error")
		}

		_, err := Build(context.Background(), &transporttest.Config{AWSRegion: "us-east-1"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "config error")
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		stubAWS(t, "us-east-1")
		PublisherFactory = func(sns.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &transporttest.Config{AWSAccountID: "123456789012"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})
}

func TestResolveAccountAndRegion(t *testing.T) {
	t.Run("uses config values", func(t *testing.T) {
		cfg := &transporttest.Config{AWSAccountID: "123456789012", AWSRegion: "us-west-2"}
		accountID, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "us-west-2", region)
	})

	t.Run("uses fallback region", func(t *testing.T) {
		cfg := &transporttest.Config{AWSAccountID: "'123456789012'"}
		accountID, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "us-east-1", region)
	})

	t.Run("uses localstack account with custom endpoint", func(t *testing.T) {
		cfg := &transporttest.Config{AWSEndpoint: "http://localhost:4566"}
		accountID, _ := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, localstackAccountID, accountID)

		cfg.AWSAccountID = "42"
		accountID, _ = resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, localstackAccountID, accountID)
	})
}

func TestEndpointURL(t *testing.T) {
	u, err := endpointURL(&transporttest.Config{})
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = endpointURL(&transporttest.Config{AWSEndpoint: "http://localhost:4566"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:4566", u.Host)

	_, err = endpointURL(&transporttest.Config{AWSEndpoint: "localhost"})
	assert.Error(t, err)
}

func TestStaticCredentialsProvider(t *testing.T) {
	creds, err := staticCredentialsProvider("AKID", "secret").Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
}
