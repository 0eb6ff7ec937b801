// Package secrets resolves credentials from SSM Parameter Store, falling
// back to values passed directly in config for local development.
package secrets

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/stancemap/internal/xerrors"
)

// SSMAPI is the subset of the SSM client used here
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type Resolver struct {
	client SSMAPI
}

// NewResolver returns a Resolver. client may be nil when no parameters are configured.
func NewResolver(client SSMAPI) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns the decrypted value of ssmParam when it is set, otherwise value
func (r *Resolver) Resolve(ctx context.Context, value, ssmParam string) (string, error) {
	if ssmParam == "" {
		return value, nil
	}
	if r.client == nil {
		return "", xerrors.Newf("ssm parameter %s configured but no ssm client", ssmParam)
	}
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(ssmParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get ssm parameter %s", ssmParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("ssm parameter %s has no value", ssmParam)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("ssm parameter %s is empty", ssmParam)
	}
	return v, nil
}
