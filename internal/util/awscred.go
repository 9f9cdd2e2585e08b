// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package util

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SQLPasswordEnv allows bypassing Secrets Manager lookups (e.g., local MariaDB).
// When set (even to an empty string), ResolveDBPassword returns the value directly.
const SQLPasswordEnv = "PROMEXPORT_SQL_PASSWORD" //nolint:gosec // env var name, not a credential

// StaticKeys holds explicitly provided AWS credentials. The zero value means
// "use the SDK default credential chain".
type StaticKeys struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Set reports whether both the access key and secret key are present.
func (k StaticKeys) Set() bool {
	return k.AccessKeyID != "" && k.SecretAccessKey != ""
}

// LoadAWSConfig builds an aws.Config for region.
// Static keys take priority; otherwise the default chain is used
// (environment, ~/.aws/credentials, SSO cache, IAM role).
func LoadAWSConfig(ctx context.Context, region string, keys StaticKeys) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if keys.Set() {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keys.AccessKeyID, keys.SecretAccessKey, keys.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("create AWS config: %w", err)
	}
	return awsCfg, nil
}

// SecretValueGetter is the subset of the Secrets Manager client used here.
type SecretValueGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// GetPasswordFromSecretsManager retrieves the database password from AWS Secrets Manager.
// The secret JSON is expected to contain a "password" field.
func GetPasswordFromSecretsManager(ctx context.Context, svc SecretValueGetter, secretName string) (string, error) {
	if secretName == "" {
		return "", fmt.Errorf("secret name is required for Secrets Manager")
	}

	out, err := svc.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretName),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return "", fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret string empty for %s", secretName)
	}

	var payload struct {
		Password string `json:"password"`
	}
	if err := json.Unmarshal([]byte(*out.SecretString), &payload); err != nil {
		return "", fmt.Errorf("parse secret json: %w", err)
	}
	if payload.Password == "" {
		return "", fmt.Errorf("password field empty in secret %s", secretName)
	}

	return payload.Password, nil
}

// ResolveDBPassword returns the database password. If SQLPasswordEnv is set
// (even to an empty string), that value is returned. Otherwise, the password is
// fetched from AWS Secrets Manager using the provided secret and region.
func ResolveDBPassword(ctx context.Context, secretName, region string, keys StaticKeys) (string, error) {
	if pwd, ok := os.LookupEnv(SQLPasswordEnv); ok {
		return pwd, nil
	}
	if region == "" {
		return "", fmt.Errorf("region is required for Secrets Manager")
	}

	awsCfg, err := LoadAWSConfig(ctx, region, keys)
	if err != nil {
		return "", err
	}
	return GetPasswordFromSecretsManager(ctx, secretsmanager.NewFromConfig(awsCfg), secretName)
}
