package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// Secret keys resolved by LoadSecrets
const (
	SecretIndexerUsername = "indexer_username"
	SecretIndexerPassword = "indexer_password"
	SecretJWT             = "jwt_secret"
)

// SecretManager retrieves a named secret
type SecretManager interface {
	GetSecret(key string) (string, error)
}

// EnvSecretManager reads HARVESTER_<KEY> environment variables
type EnvSecretManager struct{}

func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	envKey := "HARVESTER_SECRET_" + strings.ToUpper(key)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envKey)
	}
	return value, nil
}

// vaultLogical is the part of the Vault client used here
type vaultLogical interface {
	Read(path string) (*api.Secret, error)
}

// VaultSecretManager reads keys of one KV secret from HashiCorp Vault
type VaultSecretManager struct {
	path    string
	logical vaultLogical
}

func NewVaultSecretManager(config *Config) (*VaultSecretManager, error) {
	client, err := api.NewClient(&api.Config{
		Address: config.Secrets.Vault.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if config.Secrets.Vault.Token != "" {
		client.SetToken(config.Secrets.Vault.Token)
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}

	path := config.Secrets.Vault.Path
	if path == "" {
		path = "secret/harvester"
	}
	return &VaultSecretManager{path: path, logical: client.Logical()}, nil
}

func (v *VaultSecretManager) GetSecret(key string) (string, error) {
	secret, err := v.logical.Read(v.path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found at path %s", v.path)
	}

	// KV v2 nests the payload under "data"
	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in Vault secret", key)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}
	return strValue, nil
}

// awsSecretsClient is the part of the Secrets Manager API used here
type awsSecretsClient interface {
	GetSecretValue(input *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretManager reads keys of one JSON secret from AWS Secrets Manager
type AWSSecretManager struct {
	secretID string
	client   awsSecretsClient
}

func NewAWSSecretManager(config *Config) (*AWSSecretManager, error) {
	awsCfg := &aws.Config{Region: aws.String(config.Secrets.AWS.Region)}
	if config.Secrets.AWS.AccessKey != "" && config.Secrets.AWS.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(
			config.Secrets.AWS.AccessKey,
			config.Secrets.AWS.SecretKey,
			"",
		)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	secretID := config.Secrets.AWS.SecretID
	if secretID == "" {
		secretID = "harvester/indexer"
	}
	return &AWSSecretManager{secretID: secretID, client: secretsmanager.New(sess)}, nil
}

func (a *AWSSecretManager) GetSecret(key string) (string, error) {
	result, err := a.client.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret from AWS: %w", err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("AWS secret %s has no string value", a.secretID)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return "", fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}

	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in AWS secret", key)
	}
	return value, nil
}

// NewSecretManager returns the manager for secrets.provider, or nil for "none"
func NewSecretManager(config *Config) (SecretManager, error) {
	switch config.Secrets.Provider {
	case "", "none":
		return nil, nil
	case "env":
		return &EnvSecretManager{}, nil
	case "vault":
		return NewVaultSecretManager(config)
	case "aws":
		return NewAWSSecretManager(config)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", config.Secrets.Provider)
	}
}

// LoadSecrets overrides the indexer credentials with values from manager.
// The JWT secret is only required when listener auth is enabled.
func LoadSecrets(config *Config, manager SecretManager) error {
	if manager == nil {
		return nil
	}

	username, err := manager.GetSecret(SecretIndexerUsername)
	if err != nil {
		return fmt.Errorf("failed to load indexer username: %w", err)
	}
	password, err := manager.GetSecret(SecretIndexerPassword)
	if err != nil {
		return fmt.Errorf("failed to load indexer password: %w", err)
	}
	config.Indexer.Username = username
	config.Indexer.Password = password

	if config.Listener.Auth.Enabled {
		secret, err := manager.GetSecret(SecretJWT)
		if err != nil {
			return fmt.Errorf("failed to load JWT secret: %w", err)
		}
		if len(secret) < 32 {
			return fmt.Errorf("JWT secret from %T must be at least 32 characters", manager)
		}
		config.Listener.Auth.JWTSecret = secret
	}
	return nil
}
