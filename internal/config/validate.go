package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoTransport is returned when neither mirror.dsn nor api.url is set.
	ErrNoTransport = errors.New("one of mirror.dsn or api.url is required")
	// ErrReceiverKey is returned when the receiver has no shared secret.
	ErrReceiverKey = errors.New("receiver.api_key (or api.key) is required")
	// ErrReceiverDSN is returned when the postgres receiver has no DSN.
	ErrReceiverDSN = errors.New("receiver.dsn (or mirror.dsn) is required for the postgres store")
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			return fld.Tag.Get("koanf")
		})
	})
	return validate
}

// Validate checks field-level rules shared by every command.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case "gcs", "s3":
			if c.Archive.Bucket == "" {
				return fmt.Errorf("archive.bucket is required for the %s backend", c.Archive.Backend)
			}
		case "local":
			if c.Archive.LocalDir == "" {
				return errors.New("archive.local_dir is required for the local backend")
			}
		}
	}
	return nil
}

// RequireTransport checks that the replication engine has somewhere to
// write.
func (c *Config) RequireTransport() error {
	if c.Mirror.DSN == "" && c.API.URL == "" {
		return ErrNoTransport
	}
	return nil
}

// ReceiverKey returns the shared secret the receiver accepts.
func (c *Config) ReceiverKey() string {
	if c.Receiver.APIKey != "" {
		return c.Receiver.APIKey
	}
	return c.API.Key
}

// RequireReceiver checks the settings of `erp-mirror serve`.
func (c *Config) RequireReceiver() error {
	if c.ReceiverKey() == "" {
		return ErrReceiverKey
	}
	if c.Receiver.Store == "postgres" && c.ReceiverStoreSettings().DSN == "" {
		return ErrReceiverDSN
	}
	return nil
}

// Redacted returns a copy with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Source.DSN = redactDSN(c.Source.DSN)
	out.Mirror.DSN = redactDSN(c.Mirror.DSN)
	out.Receiver.DSN = redactDSN(c.Receiver.DSN)
	out.API.Key = mask(c.API.Key)
	out.Receiver.APIKey = mask(c.Receiver.APIKey)
	return &out
}

// YAML renders the redacted configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}

func describe(fe validator.FieldError) string {
	// Namespace is Config.section.key with koanf names.
	key := fe.Namespace()
	if i := strings.Index(key, "."); i >= 0 {
		key = key[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s (got %v)", key, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: failed %s", key, fe.Tag())
}

const redacted = "****"

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

// redactDSN masks passwords in URL and key=value style connection strings.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if i := strings.Index(dsn, "://"); i >= 0 {
		rest := dsn[i+3:]
		at := strings.LastIndex(rest, "@")
		if at < 0 {
			return dsn
		}
		userinfo := rest[:at]
		if colon := strings.Index(userinfo, ":"); colon >= 0 {
			userinfo = userinfo[:colon] + ":" + redacted
		}
		return dsn[:i+3] + userinfo + rest[at:]
	}

	parts := strings.Split(dsn, ";")
	if len(parts) == 1 {
		parts = strings.Fields(dsn)
	}
	for i, p := range parts {
		k, _, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password", "pwd":
			parts[i] = k + "=" + redacted
		}
	}
	if strings.Contains(dsn, ";") {
		return strings.Join(parts, ";")
	}
	return strings.Join(parts, " ")
}
