// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package util

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type fakeSecrets struct {
	secret  *string
	err     error
	gotName string
}

func (f *fakeSecrets) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.gotName = aws.ToString(params.SecretId)
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.secret}, nil
}

func TestGetPasswordFromSecretsManager(t *testing.T) {
	tests := []struct {
		name    string
		secret  *string
		err     error
		want    string
		wantErr bool
	}{
		{name: "password field", secret: aws.String(`{"username":"admin","password":"s3cret"}`), want: "s3cret"},
		{name: "empty password", secret: aws.String(`{"password":""}`), wantErr: true},
		{name: "not json", secret: aws.String(`s3cret`), wantErr: true},
		{name: "nil secret string", secret: nil, wantErr: true},
		{name: "api error", err: errors.New("access denied"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeSecrets{secret: tt.secret, err: tt.err}
			got, err := GetPasswordFromSecretsManager(context.Background(), svc, "rds!cluster-1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetPasswordFromSecretsManager() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("password = %q, want %q", got, tt.want)
			}
			if svc.gotName != "rds!cluster-1" {
				t.Errorf("secret id = %q, want rds!cluster-1", svc.gotName)
			}
		})
	}
}

func TestGetPasswordFromSecretsManager_RequiresName(t *testing.T) {
	if _, err := GetPasswordFromSecretsManager(context.Background(), &fakeSecrets{}, ""); err == nil {
		t.Error("expected error for empty secret name")
	}
}

func TestResolveDBPassword_EnvOverride(t *testing.T) {
	t.Setenv(SQLPasswordEnv, "from-env")

	got, err := ResolveDBPassword(context.Background(), "", "", StaticKeys{})
	if err != nil {
		t.Fatalf("ResolveDBPassword() error = %v", err)
	}
	if got != "from-env" {
		t.Errorf("password = %q, want from-env", got)
	}
}

func TestStaticKeys_Set(t *testing.T) {
	if (StaticKeys{AccessKeyID: "AKIA"}).Set() {
		t.Error("keys without secret should not count as set")
	}
	if !(StaticKeys{AccessKeyID: "AKIA", SecretAccessKey: "x"}).Set() {
		t.Error("keys with id and secret should count as set")
	}
}
