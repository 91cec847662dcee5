package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

type azureConfig struct {
	Account    string
	AccountKey string
	Endpoint   string
	SASToken   string
	Container  string
	Prefix     string
}

type azureSink struct {
	client    *azblob.Client
	container string
	prefix    string
}

func parseAzureURL(u *url.URL) (azureConfig, error) {
	account := strings.TrimSpace(u.Host)
	if account == "" {
		account = firstEnv("AZURE_STORAGE_ACCOUNT", "AZURE_STORAGE_ACCOUNT_NAME")
	}
	if account == "" {
		return azureConfig{}, fmt.Errorf("azure: account required (azure://account/container[/prefix])")
	}
	container, prefix := splitBucketPath(u.Path)
	if container == "" {
		return azureConfig{}, fmt.Errorf("azure: missing container (expected azure://account/container[/prefix])")
	}
	query := u.Query()
	cfg := azureConfig{
		Account:    account,
		AccountKey: firstEnv("ETCDGW_AZURE_ACCOUNT_KEY", "AZURE_STORAGE_ACCOUNT_KEY", "AZURE_STORAGE_KEY"),
		Endpoint:   strings.TrimSpace(query.Get("endpoint")),
		SASToken:   strings.TrimSpace(query.Get("sas")),
		Container:  container,
		Prefix:     prefix,
	}
	if cfg.SASToken == "" {
		cfg.SASToken = firstEnv("ETCDGW_AZURE_SAS_TOKEN", "AZURE_STORAGE_SAS_TOKEN")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Account)
	}
	if cfg.SASToken == "" && cfg.AccountKey == "" {
		return azureConfig{}, fmt.Errorf("azure: account key or SAS token required")
	}
	return cfg, nil
}

func newAzureSink(ctx context.Context, cfg azureConfig) (*azureSink, error) {
	var (
		cli *azblob.Client
		err error
	)
	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{Transport: transportAdapter{rt: defaultTransport()}},
	}
	if cfg.SASToken != "" {
		endpoint, serr := appendSASToken(cfg.Endpoint, cfg.SASToken)
		if serr != nil {
			return nil, serr
		}
		cli, err = azblob.NewClientWithNoCredential(endpoint, opts)
	} else {
		cred, credErr := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("azure: build credentials: %w", credErr)
		}
		cli, err = azblob.NewClientWithSharedKeyCredential(cfg.Endpoint, cred, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("azure: create client: %w", err)
	}
	createCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := cli.CreateContainer(createCtx, cfg.Container, nil); err != nil && !isContainerExists(err) {
		return nil, fmt.Errorf("azure: create container: %w", err)
	}
	return &azureSink{client: cli, container: cfg.Container, prefix: cfg.Prefix}, nil
}

type transportAdapter struct {
	rt http.RoundTripper
}

var _ policy.Transporter = transportAdapter{}

func (t transportAdapter) Do(req *http.Request) (*http.Response, error) {
	return t.rt.RoundTrip(req)
}

func appendSASToken(endpoint, sas string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("azure: parse endpoint: %w", err)
	}
	sas = strings.TrimPrefix(sas, "?")
	if u.RawQuery != "" {
		u.RawQuery = u.RawQuery + "&" + sas
	} else {
		u.RawQuery = sas
	}
	return u.String(), nil
}

func (s *azureSink) Put(ctx context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	_, err := s.client.UploadBuffer(ctx, s.container, objectKey(s.prefix, name), data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr("application/octet-stream")},
	})
	if err != nil {
		return fmt.Errorf("azure: upload %s: %w", name, err)
	}
	return nil
}

func (s *azureSink) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, s.container, objectKey(s.prefix, name), nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("azure: download %s: %w", name, err)
	}
	return resp.Body, nil
}

func (s *azureSink) List(ctx context.Context) ([]string, error) {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	var names []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azure: list: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			rel := strings.TrimPrefix(*item.Name, prefix)
			if rel == "" || strings.Contains(rel, "/") {
				continue
			}
			names = append(names, rel)
		}
	}
	return names, nil
}

func (s *azureSink) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if _, err := s.client.DeleteBlob(ctx, s.container, objectKey(s.prefix, name), nil); err != nil {
		if isAzureNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("azure: delete %s: %w", name, err)
	}
	return nil
}

func (s *azureSink) Close() error { return nil }

func isContainerExists(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusConflict && strings.EqualFold(respErr.ErrorCode, "ContainerAlreadyExists")
	}
	return false
}

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}
