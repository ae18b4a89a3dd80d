package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ai4hf/passport/internal/config"
	"github.com/ai4hf/passport/internal/signing"
	"github.com/ai4hf/passport/internal/storage"
	"github.com/ai4hf/passport/pkg/checksum"

	// Register archive backends
	_ "github.com/ai4hf/passport/internal/storage/azure"
	_ "github.com/ai4hf/passport/internal/storage/gcs"
	_ "github.com/ai4hf/passport/internal/storage/local"
	_ "github.com/ai4hf/passport/internal/storage/s3"
)

type verifyOptions struct {
	document   string
	signature  string
	publicKey  string
	configPath string
	archiveKey string
}

func newVerifyCmd() *cobra.Command {
	o := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a signed passport document",
		Long: `Verify a signed passport document against an armored public key.

The document and its detached signature are read from local files, or from
the configured archive when --archive-key is given. Archived documents must
also match the SHA256 digest in their key.

Examples:
  passportctl verify --public-key signer.asc --document 12.json
  passportctl verify --public-key signer.asc --config config.yaml \
    --archive-key passports/12/<sha256>.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			digest, err := o.run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK  sha256:%s\n", digest)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.document, "document", "", "document file")
	f.StringVar(&o.signature, "signature", "", "detached signature file (default <document>.asc)")
	f.StringVar(&o.publicKey, "public-key", "", "armored public key file")
	f.StringVar(&o.configPath, "config", "", "server config file describing the archive")
	f.StringVar(&o.archiveKey, "archive-key", "", "archive key of the document")
	_ = cmd.MarkFlagRequired("public-key")
	cmd.MarkFlagsMutuallyExclusive("document", "archive-key")
	cmd.MarkFlagsOneRequired("document", "archive-key")
	return cmd
}

func (o *verifyOptions) run(ctx context.Context) (string, error) {
	pub, err := os.ReadFile(o.publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to read public key: %w", err)
	}

	var data, sig []byte
	if o.archiveKey != "" {
		data, sig, err = o.fromArchive(ctx)
	} else {
		data, sig, err = o.fromFiles()
	}
	if err != nil {
		return "", err
	}

	digest := checksum.Sum(data)
	if o.archiveKey != "" {
		if want := strings.TrimSuffix(path.Base(o.archiveKey), ".json"); want != digest {
			return "", fmt.Errorf("digest mismatch: key names %s, document hashes to %s", want, digest)
		}
	}
	if err := signing.Verify(string(pub), data, sig); err != nil {
		return "", err
	}
	return digest, nil
}

func (o *verifyOptions) fromFiles() ([]byte, []byte, error) {
	sigPath := o.signature
	if sigPath == "" {
		sigPath = o.document + ".asc"
	}
	data, err := os.ReadFile(o.document)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read document: %w", err)
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read signature: %w", err)
	}
	return data, sig, nil
}

func (o *verifyOptions) fromArchive(ctx context.Context) ([]byte, []byte, error) {
	if !strings.HasSuffix(o.archiveKey, ".json") {
		return nil, nil, fmt.Errorf("archive key must name a .json document")
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	archive, err := storage.NewStorage(&cfg.Archive)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}

	data, err := download(ctx, archive, o.archiveKey)
	if err != nil {
		return nil, nil, err
	}
	sigKey := o.archiveKey + ".asc"
	if o.signature != "" {
		sigKey = o.signature
	}
	sig, err := download(ctx, archive, sigKey)
	if err != nil {
		return nil, nil, err
	}
	return data, sig, nil
}

func download(ctx context.Context, archive storage.Storage, key string) ([]byte, error) {
	rc, err := archive.Download(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s is not in the archive", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
