// Package registry pulls trainer modules stored as OCI artifacts.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

const defTag = "latest"

var (
	ErrMissingRegistry = errors.New("registry url is required")
	ErrMissingAuth     = errors.New("either token or username/password must be provided when authentication is enabled")
	ErrNoLayers        = errors.New("no valid layers found in manifest")
)

type Config struct {
	RegistryURL  string `env:"REGISTRY_URL"`
	Tag          string `env:"REGISTRY_TAG"          envDefault:"latest"`
	Authenticate bool   `env:"REGISTRY_AUTHENTICATE" envDefault:"false"`
	Token        string `env:"REGISTRY_TOKEN"`
	Username     string `env:"REGISTRY_USERNAME"`
	Password     string `env:"REGISTRY_PASSWORD"`
	PlainHTTP    bool   `env:"REGISTRY_PLAIN_HTTP"   envDefault:"false"`
}

func (c Config) Validate() error {
	if c.RegistryURL == "" {
		return ErrMissingRegistry
	}
	if _, err := url.Parse("oci://" + c.RegistryURL); err != nil {
		return fmt.Errorf("registry url is not valid: %w", err)
	}
	if c.Authenticate && c.Token == "" && (c.Username == "" || c.Password == "") {
		return ErrMissingAuth
	}

	return nil
}

// Fetch returns the largest layer of the artifact <registry>/<name>:<tag>,
// verified against its descriptor digest.
func (c Config) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	repo, err := remote.NewRepository(fmt.Sprintf("%s/%s", c.RegistryURL, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create repository for %s: %w", name, err)
	}
	repo.PlainHTTP = c.PlainHTTP
	c.setupAuthentication(repo)

	manifest, err := c.fetchManifest(ctx, repo, name)
	if err != nil {
		return nil, err
	}

	layer, err := largestLayer(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to find layer for %s: %w", name, err)
	}

	return content.FetchAll(ctx, repo, layer)
}

func (c Config) setupAuthentication(repo *remote.Repository) {
	if !c.Authenticate {
		return
	}

	cred := auth.Credential{
		Username: c.Username,
		Password: c.Password,
	}
	if c.Password == "" && c.Token != "" {
		cred = auth.Credential{
			Username:    c.Username,
			AccessToken: c.Token,
		}
	}

	repo.Client = &auth.Client{
		Client:     retry.DefaultClient,
		Cache:      auth.NewCache(),
		Credential: auth.StaticCredential(c.RegistryURL, cred),
	}
}

func (c Config) fetchManifest(ctx context.Context, repo *remote.Repository, name string) (ocispec.Manifest, error) {
	tag := c.Tag
	if tag == "" {
		tag = defTag
	}

	descriptor, err := repo.Resolve(ctx, tag)
	if err != nil {
		return ocispec.Manifest{}, fmt.Errorf("failed to resolve manifest for %s: %w", name, err)
	}

	data, err := content.FetchAll(ctx, repo, descriptor)
	if err != nil {
		return ocispec.Manifest{}, fmt.Errorf("failed to fetch manifest for %s: %w", name, err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return ocispec.Manifest{}, fmt.Errorf("failed to parse manifest for %s: %w", name, err)
	}

	return manifest, nil
}

func largestLayer(manifest ocispec.Manifest) (ocispec.Descriptor, error) {
	var largest ocispec.Descriptor
	for _, layer := range manifest.Layers {
		if layer.Size > largest.Size {
			largest = layer
		}
	}

	if largest.Size == 0 {
		return ocispec.Descriptor{}, ErrNoLayers
	}

	return largest, nil
}
