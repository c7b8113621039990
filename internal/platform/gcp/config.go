package gcp

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yungbote/podium-backend/internal/platform/envutil"
)

type StorageMode string

const (
	StorageModeGCS      StorageMode = "gcs"
	StorageModeEmulator StorageMode = "gcs_emulator"
)

// StorageConfig locates the uploads bucket and the URLs its objects are served from.
type StorageConfig struct {
	Mode         StorageMode
	EmulatorHost string
	Bucket       string
	CDNDomain    string
	// PublicBaseURL overrides https://storage.googleapis.com for public links.
	PublicBaseURL string
	// ImplicitEmulator is set when the mode was inferred from STORAGE_EMULATOR_HOST.
	ImplicitEmulator bool
}

func (c StorageConfig) IsEmulator() bool { return c.Mode == StorageModeEmulator }

// StorageConfigError names the env var that made the storage config invalid.
type StorageConfigError struct {
	Var   string
	Value string
	Cause error
}

func (e *StorageConfigError) Error() string {
	if e == nil {
		return "invalid object storage config"
	}
	if e.Value == "" {
		return fmt.Sprintf("invalid object storage config: %s is required", e.Var)
	}
	return fmt.Sprintf("invalid object storage config: %s=%q", e.Var, e.Value)
}

func (e *StorageConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// StorageConfigFromEnv reads OBJECT_STORAGE_MODE, STORAGE_EMULATOR_HOST,
// UPLOADS_GCS_BUCKET_NAME, UPLOADS_CDN_DOMAIN and OBJECT_STORAGE_PUBLIC_BASE_URL.
func StorageConfigFromEnv() (StorageConfig, error) {
	cfg := StorageConfig{
		EmulatorHost:  strings.TrimRight(envutil.String("STORAGE_EMULATOR_HOST", ""), "/"),
		Bucket:        envutil.String("UPLOADS_GCS_BUCKET_NAME", ""),
		CDNDomain:     strings.Trim(envutil.String("UPLOADS_CDN_DOMAIN", ""), "/"),
		PublicBaseURL: strings.TrimRight(envutil.String("OBJECT_STORAGE_PUBLIC_BASE_URL", ""), "/"),
	}
	rawMode := envutil.String("OBJECT_STORAGE_MODE", "")
	switch StorageMode(strings.ToLower(rawMode)) {
	case "":
		cfg.Mode = StorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = StorageModeEmulator
			cfg.ImplicitEmulator = true
		}
	case StorageModeGCS:
		cfg.Mode = StorageModeGCS
	case StorageModeEmulator:
		cfg.Mode = StorageModeEmulator
	default:
		return cfg, &StorageConfigError{Var: "OBJECT_STORAGE_MODE", Value: rawMode}
	}
	return cfg, cfg.Validate()
}

func (c StorageConfig) Validate() error {
	if c.Mode != StorageModeGCS && c.Mode != StorageModeEmulator {
		return &StorageConfigError{Var: "OBJECT_STORAGE_MODE", Value: string(c.Mode)}
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return &StorageConfigError{Var: "UPLOADS_GCS_BUCKET_NAME"}
	}
	if c.IsEmulator() {
		if c.EmulatorHost == "" {
			return &StorageConfigError{Var: "STORAGE_EMULATOR_HOST"}
		}
		if err := checkAbsoluteURL(c.EmulatorHost); err != nil {
			return &StorageConfigError{Var: "STORAGE_EMULATOR_HOST", Value: c.EmulatorHost, Cause: err}
		}
	}
	if c.PublicBaseURL != "" {
		if err := checkAbsoluteURL(c.PublicBaseURL); err != nil {
			return &StorageConfigError{Var: "OBJECT_STORAGE_PUBLIC_BASE_URL", Value: c.PublicBaseURL, Cause: err}
		}
	}
	return nil
}

func checkAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("expected absolute URL like http://fake-gcs:4443")
	}
	return nil
}
