package topology

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
)

// ParseRoleARN validates an IAM role ARN and returns the binding it names.
// The role name is the last path segment, so "role/service/LabRole" yields
// "LabRole".
func ParseRoleARN(s string) (IdentityBinding, error) {
	if !arn.IsARN(s) {
		return IdentityBinding{}, invalid(string(KindIdentity), "arn", "%q is not an ARN", s)
	}
	parsed, err := arn.Parse(s)
	if err != nil {
		return IdentityBinding{}, invalid(string(KindIdentity), "arn", "%s", err)
	}
	if parsed.Service != "iam" || !strings.HasPrefix(parsed.Resource, "role/") {
		return IdentityBinding{}, invalid(string(KindIdentity), "arn", "%q is not an IAM role", s)
	}
	name := parsed.Resource[strings.LastIndex(parsed.Resource, "/")+1:]
	if name == "" {
		return IdentityBinding{}, invalid(string(KindIdentity), "arn", "%q has an empty role name", s)
	}
	return IdentityBinding{
		ID:        s,
		Name:      name,
		AccountID: parsed.AccountID,
		Partition: parsed.Partition,
	}, nil
}
