package index

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tonimelisma/driveindex/internal/auth"
	"github.com/tonimelisma/driveindex/internal/capability"
	"github.com/tonimelisma/driveindex/internal/config"
	"github.com/tonimelisma/driveindex/internal/gdrive"
	"github.com/tonimelisma/driveindex/internal/resolver"
	"github.com/tonimelisma/driveindex/internal/seal"
)

// NewHTTPClient returns a client for token and Drive calls. There is no
// overall timeout, since downloads stream for as long as they need;
// connect bounds dialing and TLS, data bounds the wait for response headers.
func NewHTTPClient(connect, data time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = connect
	tr.ResponseHeaderTimeout = data

	return &http.Client{Transport: tr}
}

// Codecs builds the link and session codecs from the configured keys.
func Codecs(cfg *config.Config) (*capability.LinkCodec, *capability.SessionCodec, error) {
	keys, err := cfg.Keys()
	if err != nil {
		return nil, nil, err
	}

	cipher, err := seal.NewCipher(keys.Crypto, keys.IV)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto_base_key: %w", err)
	}

	links := capability.NewLinkCodec(cipher, seal.NewMAC(keys.HMAC), cfg.LinkTTL(), cfg.EnableIPLock)

	return links, capability.NewSessionCodec(cipher), nil
}

// Build wires an initialized Index from configuration: one token manager
// for the process, one Drive client per credential, one resolver per root.
func Build(ctx context.Context, cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	links, _, err := Codecs(cfg)
	if err != nil {
		return nil, err
	}

	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.Timeouts())
	}

	tokens := auth.NewManager(httpClient, cfg.TokenURL, logger)
	clients := make(map[string]*gdrive.Client)
	drives := make([]Drive, 0, len(cfg.Roots))

	for i, rc := range cfg.Roots {
		client, ok := clients[rc.Credential]
		if !ok {
			cred, err := cfg.Credential(rc.Credential)
			if err != nil {
				return nil, fmt.Errorf("root %d: %w", i, err)
			}

			client, err = gdrive.NewClient(ctx, httpClient, tokens.Source(cred), gdrive.Options{
				Endpoint:  cfg.APIEndpoint,
				UserAgent: cfg.UserAgent,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("root %d: %w", i, err)
			}

			clients[rc.Credential] = client
		}

		drives = append(drives, Drive{
			Root:  resolver.Root{ID: rc.ID, Name: rc.Name, ProtectLink: rc.ProtectLink},
			Store: client,
		})
	}

	x := New(drives, links, Options{
		Resolver: resolver.Options{
			PageSize:        cfg.FilesListPageSize,
			SearchPageSize:  cfg.SearchResultListPageSize,
			SearchAllDrives: cfg.SearchAllDrives,
			CacheSize:       cfg.PathCacheSize,
		},
		BindIP: cfg.EnableIPLock,
	}, logger)

	if err := x.Init(ctx); err != nil {
		return nil, err
	}

	logger.Info("index ready", slog.Int("roots", len(drives)), slog.Int("credentials", len(clients)))

	return x, nil
}
