package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Field is one name/value pair in a signed message
type Field struct {
	Name  string
	Value string
}

// SignatureMessage joins fields as "name=value,name=value" in the given order
func SignatureMessage(fields []Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Name + "=" + f.Value
	}
	return strings.Join(parts, ",")
}

// Sign returns the base64 HMAC-SHA256 of the ordered fields
func Sign(secret string, fields []Field) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(SignatureMessage(fields)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares a received signature in constant time
func VerifySignature(secret string, fields []Field, signature string) bool {
	expected := Sign(secret, fields)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// fieldNames returns the comma-joined field names, as gateways expect in signed_field_names
func fieldNames(fields []Field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return strings.Join(names, ",")
}
